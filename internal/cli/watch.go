package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/watch"
)

var watchOpts buildFlags

func init() {
	rootCmd.AddCommand(watchCmd)
	watchOpts.bind(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild a bundle whenever its inputs change",
	Long: "Builds the bundle once, then watches the content pack, overlays, gate config\n" +
		"and profile file (when given as a path) and rebuilds in place after each change.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := watchOpts
	opts.overwrite = true
	if opts.bundleID == "" {
		// Rebuilds must land in the same directory.
		opts.bundleID = identity.NewID("bundle")
	}

	out := cmd.OutOrStdout()
	rebuild := func(ctx context.Context) error {
		res, err := buildBundle(ctx, rt, opts)
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

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "initial build failed: %v\n", err)
	}

	paths := append([]string{opts.pack}, opts.overlays...)
	gatePath := opts.gate
	if gatePath == "" {
		gatePath = rt.cfg.GatePath
	}
	if fileExists(gatePath) {
		paths = append(paths, gatePath)
	}
	if fileExists(opts.profile) {
		paths = append(paths, opts.profile)
	}

	w, err := watch.New(paths, rebuild, watch.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "watching %d file(s) for changes\n", w.Files())
	return w.Run(ctx)
}
