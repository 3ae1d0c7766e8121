// Package mcp exposes mission timelines, the audit trail and bundle
// verification as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/integrity"
	"github.com/ppiankov/missionctl/internal/ledger"
)

// Config holds MCP server dependencies.
type Config struct {
	Ledger  *ledger.Ledger
	Trail   *audit.Trail
	Hasher  integrity.Hasher
	Version string
}

// Server wraps the MCP SDK server with read-only missionctl tools.
type Server struct {
	mcpServer *mcpsdk.Server
	ledger    *ledger.Ledger
	trail     *audit.Trail
	hasher    integrity.Hasher
}

// New creates an MCP server. The ledger is required; without a trail the
// audit tools report an error.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("mcp: ledger is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = integrity.SHA256Hasher{}
	}

	s := &Server{
		ledger: cfg.Ledger,
		trail:  cfg.Trail,
		hasher: hasher,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "missionctl",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all missionctl tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "missionctl_runs",
		Description: "List recent mission runs, newest first.",
	}, s.handleRuns)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "missionctl_timeline",
		Description: "Show the ordered phase timeline of one mission run.",
	}, s.handleTimeline)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "missionctl_audit_query",
		Description: "Search the audit trail by action, target substring and time range. Newest entries first.",
	}, s.handleAuditQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "missionctl_audit_verify",
		Description: "Recompute the audit hash chain and report the first broken entry, if any.",
	}, s.handleAuditVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "missionctl_bundle_verify",
		Description: "Re-hash a bundle directory against its hash manifest.",
	}, s.handleBundleVerify)
}
