package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/model"
)

// --- Input/Output types ---

// RunsInput defines parameters for the missionctl_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs, 0 for all"`
}

// RunView is a mission run with timestamps rendered as RFC 3339.
type RunView struct {
	ID         string `json:"id"`
	BundleRoot string `json:"bundle_root"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// RunsOutput lists runs.
type RunsOutput struct {
	Runs  []RunView `json:"runs"`
	Error string    `json:"error,omitempty"`
}

// TimelineInput defines parameters for the missionctl_timeline tool.
type TimelineInput struct {
	RunID string `json:"run_id" jsonschema:"mission run id"`
}

// EventView is one timeline event.
type EventView struct {
	Seq         int64  `json:"seq"`
	Phase       string `json:"phase"`
	Step        string `json:"step"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Message     string `json:"message,omitempty"`
	EvidenceRef string `json:"evidence_ref,omitempty"`
}

// TimelineOutput holds a run and its events, plus a rendered table.
type TimelineOutput struct {
	Run    *RunView    `json:"run,omitempty"`
	Events []EventView `json:"events,omitempty"`
	Text   string      `json:"text,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// AuditQueryInput defines parameters for the missionctl_audit_query tool.
type AuditQueryInput struct {
	Action string `json:"action,omitempty" jsonschema:"exact action, e.g. break-glass"`
	Target string `json:"target,omitempty" jsonschema:"substring of the target"`
	From   string `json:"from,omitempty" jsonschema:"RFC 3339 lower bound"`
	To     string `json:"to,omitempty" jsonschema:"RFC 3339 upper bound"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of entries"`
}

// EntryView is one audit entry.
type EntryView struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"ts"`
	Actor     string `json:"actor"`
	Host      string `json:"host"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"`
	EntryHash string `json:"entry_hash"`
}

// AuditQueryOutput lists matching entries.
type AuditQueryOutput struct {
	Entries []EntryView `json:"entries"`
	Error   string      `json:"error,omitempty"`
}

// AuditVerifyInput takes no parameters.
type AuditVerifyInput struct{}

// AuditVerifyOutput is the chain verification result.
type AuditVerifyOutput struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int    `json:"broken_at"`
	Error    string `json:"error,omitempty"`
}

// BundleVerifyInput defines parameters for the missionctl_bundle_verify tool.
type BundleVerifyInput struct {
	Root string `json:"root" jsonschema:"bundle directory"`
}

// BundleVerifyOutput reports manifest differences.
type BundleVerifyOutput struct {
	Valid      bool     `json:"valid"`
	Checked    int      `json:"checked"`
	Missing    []string `json:"missing,omitempty"`
	Modified   []string `json:"modified,omitempty"`
	Extra      []string `json:"extra,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleRuns(ctx context.Context, req *mcpsdk.CallToolRequest, input RunsInput) (*mcpsdk.CallToolResult, RunsOutput, error) {
	runs, err := s.ledger.ListRuns(ctx, input.Limit)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, RunsOutput{Error: err.Error()}, nil
	}
	out := RunsOutput{Runs: make([]RunView, len(runs))}
	for i, r := range runs {
		out.Runs[i] = runView(r)
	}
	return nil, out, nil
}

func (s *Server) handleTimeline(ctx context.Context, req *mcpsdk.CallToolRequest, input TimelineInput) (*mcpsdk.CallToolResult, TimelineOutput, error) {
	if input.RunID == "" {
		return &mcpsdk.CallToolResult{IsError: true}, TimelineOutput{Error: "run_id is required"}, nil
	}
	run, err := s.ledger.GetRun(ctx, input.RunID)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, TimelineOutput{Error: err.Error()}, nil
	}
	events, err := s.ledger.GetTimeline(ctx, input.RunID)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, TimelineOutput{Error: err.Error()}, nil
	}

	rv := runView(run)
	out := TimelineOutput{
		Run:    &rv,
		Events: make([]EventView, len(events)),
		Text:   ledger.FormatTimeline(run, events),
	}
	for i, e := range events {
		out.Events[i] = EventView{
			Seq:         e.Seq,
			Phase:       string(e.Phase),
			Step:        e.Step,
			Status:      string(e.Status),
			Timestamp:   formatTime(e.Timestamp),
			Message:     e.Message,
			EvidenceRef: e.EvidenceRef,
		}
	}
	return nil, out, nil
}

func (s *Server) handleAuditQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditQueryInput) (*mcpsdk.CallToolResult, AuditQueryOutput, error) {
	if s.trail == nil {
		return &mcpsdk.CallToolResult{IsError: true}, AuditQueryOutput{Error: "audit trail is not configured"}, nil
	}
	f := audit.Filter{Action: input.Action, Target: input.Target, Limit: input.Limit}
	var err error
	if f.From, err = parseTime(input.From); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, AuditQueryOutput{Error: "from: " + err.Error()}, nil
	}
	if f.To, err = parseTime(input.To); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, AuditQueryOutput{Error: "to: " + err.Error()}, nil
	}

	entries, err := s.trail.Query(ctx, f)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, AuditQueryOutput{Error: err.Error()}, nil
	}
	out := AuditQueryOutput{Entries: make([]EntryView, len(entries))}
	for i, e := range entries {
		out.Entries[i] = EntryView{
			ID:        e.ID,
			Timestamp: e.Timestamp.UTC().Format(audit.TimestampFormat),
			Actor:     e.Actor,
			Host:      e.Host,
			Action:    e.Action,
			Target:    e.Target,
			Result:    e.Result,
			Detail:    e.Detail,
			EntryHash: e.EntryHash,
		}
	}
	return nil, out, nil
}

func (s *Server) handleAuditVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditVerifyInput) (*mcpsdk.CallToolResult, AuditVerifyOutput, error) {
	if s.trail == nil {
		return &mcpsdk.CallToolResult{IsError: true}, AuditVerifyOutput{BrokenAt: -1, Error: "audit trail is not configured"}, nil
	}
	r := s.trail.VerifyIntegrity(ctx)
	return nil, AuditVerifyOutput{Valid: r.Valid, Entries: r.Entries, BrokenAt: r.BrokenAt, Error: r.Error}, nil
}

func (s *Server) handleBundleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input BundleVerifyInput) (*mcpsdk.CallToolResult, BundleVerifyOutput, error) {
	if input.Root == "" {
		return &mcpsdk.CallToolResult{IsError: true}, BundleVerifyOutput{Error: "root is required"}, nil
	}
	r, err := bundle.Verify(input.Root, s.hasher)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, BundleVerifyOutput{Error: err.Error()}, nil
	}
	return nil, BundleVerifyOutput{
		Valid:      r.Valid,
		Checked:    r.Checked,
		Missing:    r.Missing,
		Modified:   r.Modified,
		Extra:      r.Extra,
		Unexpected: r.Unexpected,
	}, nil
}

func runView(r model.MissionRun) RunView {
	return RunView{
		ID:         r.ID,
		BundleRoot: r.BundleRoot,
		Status:     string(r.Status),
		CreatedAt:  formatTime(r.CreatedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Detail:     r.Detail,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
