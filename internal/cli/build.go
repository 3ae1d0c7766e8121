package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/policy"
	"github.com/ppiankov/missionctl/internal/profile"
)

// buildFlags are shared by build and watch.
type buildFlags struct {
	profile        string
	pack           string
	overlays       []string
	gate           string
	outputRoot     string
	bundleID       string
	forceAutoApply bool
	overwrite      bool
}

func (f *buildFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.profile, "profile", "", "Compliance profile name or path to profile YAML (required)")
	cmd.Flags().StringVar(&f.pack, "pack", "", "Path to content pack YAML (required)")
	cmd.Flags().StringArrayVar(&f.overlays, "overlay", nil, "Overlay YAML, repeatable; later overlays take precedence")
	cmd.Flags().StringVar(&f.gate, "gate", "", "Gate config YAML (default: config gate_config)")
	cmd.Flags().StringVarP(&f.outputRoot, "output", "o", "", "Directory that receives the bundle (default: <state_dir>/bundles)")
	cmd.Flags().StringVar(&f.bundleID, "id", "", "Bundle id (default: generated)")
	cmd.Flags().BoolVar(&f.forceAutoApply, "force-auto-apply", false, "Permit auto-apply inside the grace period and build despite blocking conflicts")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Replace an existing bundle with the same id")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("pack")
}

var buildOpts buildFlags

func init() {
	rootCmd.AddCommand(buildCmd)
	buildOpts.bind(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a compliance bundle",
	Long: "Compiles a content pack against a profile, merges overlays in order and writes\n" +
		"a bundle with reports, manifests and a SHA-256 hash manifest.\n" +
		"Blocking overlay conflicts abort the build unless --force-auto-apply is given.",
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := buildBundle(commandContext(cmd), rt, buildOpts)
	out := cmd.OutOrStdout()
	if err != nil {
		var blocking *bundle.BlockingConflictError
		if errors.As(err, &blocking) {
			printBlocking(out, blocking.Conflicts)
		}
		return err
	}
	printBuild(out, res)
	return nil
}

// buildBundle loads inputs, builds the bundle and records the outcome in
// the audit trail.
func buildBundle(ctx context.Context, rt *runtime, f buildFlags) (*bundle.BuildResult, error) {
	prof, err := profile.Resolve(f.profile)
	if err != nil {
		return nil, err
	}
	pf, err := bundle.LoadPackFile(f.pack)
	if err != nil {
		return nil, err
	}
	overlays, err := bundle.LoadOverlayFiles(f.overlays)
	if err != nil {
		return nil, err
	}
	gatePath := f.gate
	if gatePath == "" {
		gatePath = rt.cfg.GatePath
	}
	gateCfg, gateHash, err := policy.LoadGateConfig(gatePath)
	if err != nil {
		return nil, err
	}

	outputRoot := f.outputRoot
	if outputRoot == "" {
		outputRoot = filepath.Join(rt.cfg.StateDir, "bundles")
	}

	builder := bundle.NewBuilder(rt.id.Clock, gateCfg.AgeGate())
	builder.GateConfigHash = gateHash
	builder.Logger = rt.logger

	res, buildErr := builder.Build(ctx, bundle.BuildRequest{
		BundleID:       f.bundleID,
		OutputRoot:     outputRoot,
		Profile:        prof,
		Pack:           pf.Pack,
		Controls:       pf.Controls,
		Overlays:       overlays,
		ForceAutoApply: f.forceAutoApply,
		Overwrite:      f.overwrite,
		ToolVersion:    version,
	})

	entry := audit.AuditEntry{Action: audit.ActionBundleBuild, Result: audit.ResultSuccess}
	if buildErr != nil {
		entry.Result = audit.ResultFailure
		entry.Target = filepath.Join(outputRoot, f.bundleID)
		entry.Detail = buildErr.Error()
	} else {
		entry.Target = res.Root
		entry.Detail = fmt.Sprintf("profile=%s pack=%s overlays=%d", prof.ID, pf.Pack.ID, len(overlays))
	}
	if _, err := rt.trail.Record(context.WithoutCancel(ctx), entry); err != nil {
		rt.logger.Printf("audit record failed: %v", err)
	}
	return res, buildErr
}

func printBuild(w io.Writer, res *bundle.BuildResult) {
	t := res.Manifest.Totals
	fmt.Fprintf(w, "Bundle: %s\n", res.Root)
	fmt.Fprintf(w, "  Profile:        %s\n", res.Manifest.ProfileName)
	fmt.Fprintf(w, "  Pack:           %s %s\n", res.Manifest.Pack.ID, res.Manifest.Pack.Version)
	fmt.Fprintf(w, "  Controls:       %d (%d applicable, %d out of scope)\n", t.Controls, t.Applicable, t.OutOfScope)
	fmt.Fprintf(w, "  Overlays:       %d (%d decisions, %d conflicts)\n", t.Overlays, t.Decisions, t.Conflicts)
	fmt.Fprintf(w, "  Not applicable: %d\n", t.NotApplicable)
	fmt.Fprintf(w, "  Review queue:   %d\n", t.ReviewQueue)
	if res.Gate.AutoApplyAllowed {
		fmt.Fprintln(w, "  Auto-apply:     allowed")
	} else {
		fmt.Fprintf(w, "  Auto-apply:     blocked (%s)\n", res.Gate.Reason)
	}
	if len(res.BlockingConflicts) > 0 {
		fmt.Fprintf(w, "  WARNING: %d blocking conflict(s) overridden by --force-auto-apply\n", len(res.BlockingConflicts))
	}
	fmt.Fprintf(w, "  Files hashed:   %d\n", len(res.Hashes))
}

func printBlocking(w io.Writer, conflicts []policy.BlockingConflict) {
	fmt.Fprintf(w, "Build aborted: %d blocking overlay conflict(s)\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Fprintf(w, "  - %s\n", c.String())
	}
	fmt.Fprintln(w, "Resolve the overlays or rerun with --force-auto-apply.")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
