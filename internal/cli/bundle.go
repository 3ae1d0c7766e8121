package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/bundle"
)

var errBundleInvalid = errors.New("bundle verification failed")

var bundleVerifyJSON bool

func init() {
	rootCmd.AddCommand(bundleCmd)
	bundleCmd.AddCommand(bundleVerifyCmd)
	bundleVerifyCmd.Flags().BoolVar(&bundleVerifyJSON, "json", false, "Print the report as JSON")
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Bundle operations",
}

var bundleVerifyCmd = &cobra.Command{
	Use:   "verify <bundle-root>",
	Short: "Re-hash a bundle against its hash manifest",
	Long: "Recomputes SHA-256 for every file in the bundle and compares it with\n" +
		"Manifest/file_hashes.sha256. Mission outputs under Apply/, Verify/ and Evidence/\n" +
		"are reported but do not fail verification. Exits 1 if the bundle was modified.",
	Args: cobra.ExactArgs(1),
	RunE: runBundleVerify,
}

func runBundleVerify(cmd *cobra.Command, args []string) error {
	report, err := bundle.Verify(args[0], nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if bundleVerifyJSON {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(out, string(data))
	} else {
		if report.Valid {
			fmt.Fprintf(out, "OK: %d files verified\n", report.Checked)
		}
		for _, p := range report.Modified {
			fmt.Fprintf(out, "MODIFIED   %s\n", p)
		}
		for _, p := range report.Missing {
			fmt.Fprintf(out, "MISSING    %s\n", p)
		}
		for _, p := range report.Unexpected {
			fmt.Fprintf(out, "UNEXPECTED %s\n", p)
		}
		for _, p := range report.Extra {
			fmt.Fprintf(out, "output     %s\n", p)
		}
	}
	if !report.Valid {
		return errBundleInvalid
	}
	return nil
}
