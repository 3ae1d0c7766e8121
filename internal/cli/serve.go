package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/missionctl/internal/server"
)

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "gRPC listen address (default: config grpc_addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC mission read API",
	Long: "Serves mission runs, timelines and audit queries over gRPC\n" +
		"(missionctl.v1.MissionService) with the standard health service.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := serveAddr
	if addr == "" {
		addr = rt.cfg.GRPCAddr
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	flush := rt.setupTracing(ctx)
	defer flush()

	srv, err := server.New(addr, server.NewService(rt.ledger, rt.trail), rt.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "missionctl read API listening on %s\n", srv.Addr())
	return srv.Serve(ctx)
}
