package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/breakglass"
	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/executor"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/mission"
	"github.com/ppiankov/missionctl/internal/telemetry"
)

var (
	missionRunID        string
	missionScriptArgs   []string
	missionSkipSnapshot bool
	missionSkipVerify   bool
	missionAck          bool
	missionReason       string
	missionEvaluateRoot string
	missionScapCommand  string

	timelineJSON bool
	listLimit    int
)

func init() {
	rootCmd.AddCommand(missionCmd)
	missionCmd.AddCommand(missionRunCmd)
	missionCmd.AddCommand(missionTimelineCmd)
	missionCmd.AddCommand(missionListCmd)

	f := missionRunCmd.Flags()
	f.StringVar(&missionRunID, "run-id", "", "Run id (default: generated)")
	f.StringArrayVar(&missionScriptArgs, "script-arg", nil, "Argument passed to apply scripts, repeatable")
	f.BoolVar(&missionSkipSnapshot, "skip-snapshot", false, "Skip the pre-change snapshot (break-glass)")
	f.BoolVar(&missionSkipVerify, "skip-verify", false, "Skip both verification tools (break-glass)")
	f.BoolVar(&missionAck, "acknowledge", false, "Acknowledge the risk of --skip-snapshot/--skip-verify (break-glass)")
	f.StringVar(&missionReason, "reason", "", "Justification recorded in the audit trail for break-glass use")
	f.StringVar(&missionEvaluateRoot, "evaluate-root", "", "Evaluate tool directory (overrides config)")
	f.StringVar(&missionScapCommand, "scap-command", "", "SCAP scanner command (overrides config)")

	missionTimelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Print the run and its events as JSON")
	missionListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of runs, 0 for all")
}

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Run and inspect remediation missions",
}

var missionRunCmd = &cobra.Command{
	Use:   "run <bundle-root>",
	Short: "Run apply, verify and evidence phases against a bundle",
	Long: "Runs a mission against a completed bundle: apply the remediation plan,\n" +
		"verify with the evaluate and SCAP tools, then collect evidence.\n" +
		"Every phase is recorded in the mission ledger and the audit trail.\n" +
		"--skip-snapshot and --skip-verify require --acknowledge and --reason.",
	Args: cobra.ExactArgs(1),
	RunE: runMission,
}

var missionTimelineCmd = &cobra.Command{
	Use:   "timeline <run-id>",
	Short: "Show the timeline of a mission run",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionTimeline,
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent mission runs",
	RunE:  runMissionList,
}

func runMission(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	flush := rt.setupTracing(ctx)
	defer flush()

	evaluate := rt.cfg.EvaluateTool()
	if missionEvaluateRoot != "" {
		evaluate.Root = missionEvaluateRoot
	}
	scap := rt.cfg.ScapTool()
	if missionScapCommand != "" {
		scap.Command = missionScapCommand
	}

	orch := &mission.Orchestrator{
		Ledger:   rt.ledger,
		Audit:    rt.trail,
		Applier:  executor.Subprocess{Command: rt.cfg.Apply.Command, Timeout: rt.cfg.Apply.Timeout},
		Verifier: executor.CommandVerifier{},
		Evidence: bundle.EvidenceCollector{Clock: rt.id.Clock},
		Alerts:   rt.alerts,
		Identity: rt.id,
		Tracer:   telemetry.Tracer(),
		Logger:   rt.logger,
	}

	res, runErr := orch.Run(ctx, mission.Request{
		BundleRoot: args[0],
		RunID:      missionRunID,
		ScriptArgs: missionScriptArgs,
		Evaluate:   evaluate,
		Scap:       scap,
		BreakGlass: breakglass.Request{
			SkipSnapshot: missionSkipSnapshot,
			SkipVerify:   missionSkipVerify,
			Acknowledge:  missionAck,
			Reason:       missionReason,
		},
	})
	if res != nil && res.Run.ID != "" {
		printMission(cmd.OutOrStdout(), rt, res)
	}
	return runErr
}

func printMission(w io.Writer, rt *runtime, res *mission.Result) {
	// Read back from the ledger so the output matches `mission timeline`.
	ctx := context.Background()
	run, err := rt.ledger.GetRun(ctx, res.Run.ID)
	if err != nil {
		fmt.Fprintf(w, "Run %s: %s\n", res.Run.ID, res.Run.Status)
		return
	}
	events, err := rt.ledger.GetTimeline(ctx, run.ID)
	if err != nil {
		rt.logger.Printf("read timeline: %v", err)
	}
	fmt.Fprint(w, ledger.FormatTimeline(run, events))
	for _, v := range res.Verify {
		for _, tr := range v.ToolRuns {
			fmt.Fprintf(w, "%-9s %s\n", tr.Tool, tr.Counts)
		}
	}
}

func runMissionTimeline(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := commandContext(cmd)
	run, err := rt.ledger.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	events, err := rt.ledger.GetTimeline(ctx, run.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if timelineJSON {
		s, err := ledger.FormatJSON(run, events)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, ledger.FormatTimeline(run, events))
	return nil
}

func runMissionList(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	runs, err := rt.ledger.ListRuns(commandContext(cmd), listLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No mission runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%-44s %-10s %s  %s\n", r.ID, r.Status, r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.BundleRoot)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
