package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	missionmcp "github.com/ppiankov/missionctl/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs missionctl as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes read-only tools: runs, timeline, audit query, audit verify, bundle verify.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol; keep component logs on stderr.
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := missionmcp.New(missionmcp.Config{
		Ledger:  rt.ledger,
		Trail:   rt.trail,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "missionctl MCP server running on stdio")
	return srv.Run(ctx)
}
