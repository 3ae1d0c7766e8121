package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/audit"
)

var errAuditTampered = errors.New("audit chain verification failed")

var (
	auditVerifyFile string
	tailLines       int

	queryAction string
	queryTarget string
	queryFrom   string
	queryTo     string
	queryLimit  int
	queryJSON   bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)

	auditVerifyCmd.Flags().StringVar(&auditVerifyFile, "file", "", "Verify a JSONL audit log instead of the configured store")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")

	f := auditQueryCmd.Flags()
	f.StringVar(&queryAction, "action", "", "Exact action (bundle-build, mission-start, mission-complete, mission-failed, break-glass)")
	f.StringVar(&queryTarget, "target", "", "Substring of the target")
	f.StringVar(&queryFrom, "from", "", "Earliest timestamp (RFC 3339)")
	f.StringVar(&queryTo, "to", "", "Latest timestamp (RFC 3339)")
	f.IntVarP(&queryLimit, "limit", "n", 0, "Maximum number of entries, 0 for all")
	f.BoolVar(&queryJSON, "json", false, "Print entries as JSON")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit trail.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of the audit trail",
	Long: "Walks the audit trail oldest to newest and recomputes every entry hash\n" +
		"and back-link. Exits 0 if valid, 1 if tampered.",
	Args: cobra.NoArgs,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the audit trail",
	Long:  "Filters entries by action, target substring and time range. Newest entries first.",
	Args:  cobra.NoArgs,
	RunE:  runAuditQuery,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	var result audit.VerifyResult
	if auditVerifyFile != "" {
		entries, err := audit.ReadFile(auditVerifyFile)
		if err != nil {
			r, ok := audit.ParseFailure(err)
			if !ok {
				return err
			}
			result = r
		} else {
			result = audit.VerifyEntries(entries)
		}
	} else {
		// A corrupt JSONL log fails while the runtime opens the store.
		rt, err := openRuntime()
		if err != nil {
			r, ok := audit.ParseFailure(err)
			if !ok {
				return err
			}
			result = r
		} else {
			defer rt.Close()
			result = rt.trail.VerifyIntegrity(commandContext(cmd))
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), audit.FormatVerify(result))
	if !result.Valid {
		return errAuditTampered
	}
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.trail.Query(commandContext(cmd), audit.Filter{Limit: tailLines})
	if err != nil {
		return err
	}
	// Query is newest first; tail reads oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatEntries(entries))
	return nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	f := audit.Filter{Action: queryAction, Target: queryTarget, Limit: queryLimit}
	var err error
	if f.From, err = parseTimeFlag("from", queryFrom); err != nil {
		return err
	}
	if f.To, err = parseTimeFlag("to", queryTo); err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.trail.Query(commandContext(cmd), f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if queryJSON {
		s, err := audit.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatEntries(entries))
	return nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
