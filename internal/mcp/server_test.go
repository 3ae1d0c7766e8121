package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/integrity"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *Server
	store *audit.MemoryStore
}

func newTestServer(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore())
	for i, id := range []string{"run-a", "run-b"} {
		run := model.MissionRun{ID: id, BundleRoot: "/bundles/" + id, Status: model.RunPending, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		if err := l.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.AppendEvent(ctx, model.TimelineEvent{RunID: "run-a", Seq: 1, Phase: model.PhaseApply, Step: "apply", Status: model.EventStarted, Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	if err := l.AppendEvent(ctx, model.TimelineEvent{RunID: "run-a", Seq: 2, Phase: model.PhaseApply, Step: "apply", Status: model.EventFinished, Timestamp: t0.Add(time.Second), Message: "2 steps"}); err != nil {
		t.Fatal(err)
	}

	store := audit.NewMemoryStore()
	trail := audit.NewTrail(store, identity.Context{Actor: "alice", Host: "h1", Clock: identity.NewFixedClock(t0)})
	for _, e := range []audit.AuditEntry{
		{Action: audit.ActionMissionStart, Target: "/bundles/run-a", Result: audit.ResultSuccess},
		{Action: audit.ActionBreakGlass, Target: "/bundles/run-b", Result: audit.ResultSuccess},
		{Action: audit.ActionMissionComplete, Target: "/bundles/run-a", Result: audit.ResultSuccess},
	} {
		if _, err := trail.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	srv, err := New(Config{Ledger: l, Trail: trail, Version: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return fixture{srv: srv, store: store}
}

func TestNewRequiresLedger(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without ledger")
	}
}

func TestHandleRuns(t *testing.T) {
	f := newTestServer(t)
	result, out, err := f.srv.handleRuns(context.Background(), &mcpsdk.CallToolRequest{}, RunsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil && result.IsError {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if len(out.Runs) != 2 || out.Runs[0].ID != "run-b" {
		t.Fatalf("expected newest first, got %+v", out.Runs)
	}
	if out.Runs[0].FinishedAt != "" {
		t.Errorf("unfinished run should have empty finished_at, got %q", out.Runs[0].FinishedAt)
	}

	_, out, _ = f.srv.handleRuns(context.Background(), &mcpsdk.CallToolRequest{}, RunsInput{Limit: 1})
	if len(out.Runs) != 1 {
		t.Fatalf("expected 1 run with limit, got %d", len(out.Runs))
	}
}

func TestHandleTimeline(t *testing.T) {
	f := newTestServer(t)
	result, out, err := f.srv.handleTimeline(context.Background(), &mcpsdk.CallToolRequest{}, TimelineInput{RunID: "run-a"})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil && result.IsError {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Run == nil || out.Run.ID != "run-a" {
		t.Fatalf("unexpected run %+v", out.Run)
	}
	if len(out.Events) != 2 || out.Events[1].Seq != 2 || out.Events[1].Status != string(model.EventFinished) {
		t.Fatalf("unexpected events %+v", out.Events)
	}
	if !strings.Contains(out.Text, "run-a") {
		t.Errorf("rendered text should mention the run:\n%s", out.Text)
	}
}

func TestHandleTimelineErrors(t *testing.T) {
	f := newTestServer(t)
	tests := []struct {
		name  string
		runID string
	}{
		{"missing id", ""},
		{"unknown run", "run-zzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, out, err := f.srv.handleTimeline(context.Background(), &mcpsdk.CallToolRequest{}, TimelineInput{RunID: tt.runID})
			if err != nil {
				t.Fatal(err)
			}
			if result == nil || !result.IsError {
				t.Fatal("expected IsError result")
			}
			if out.Error == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestHandleAuditQuery(t *testing.T) {
	f := newTestServer(t)
	_, out, err := f.srv.handleAuditQuery(context.Background(), &mcpsdk.CallToolRequest{}, AuditQueryInput{Target: "run-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("expected 2 run-a entries, got %d", len(out.Entries))
	}
	if out.Entries[0].Action != audit.ActionMissionComplete {
		t.Errorf("expected newest first, got %s", out.Entries[0].Action)
	}
	if out.Entries[0].Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Errorf("unexpected timestamp %q", out.Entries[0].Timestamp)
	}

	_, out, _ = f.srv.handleAuditQuery(context.Background(), &mcpsdk.CallToolRequest{}, AuditQueryInput{Action: audit.ActionBreakGlass})
	if len(out.Entries) != 1 || out.Entries[0].Target != "/bundles/run-b" {
		t.Fatalf("unexpected break-glass entries %+v", out.Entries)
	}

	result, out, _ := f.srv.handleAuditQuery(context.Background(), &mcpsdk.CallToolRequest{}, AuditQueryInput{From: "yesterday"})
	if result == nil || !result.IsError || !strings.HasPrefix(out.Error, "from:") {
		t.Fatalf("expected from parse error, got %+v", out)
	}
}

func TestHandleAuditVerify(t *testing.T) {
	f := newTestServer(t)
	_, out, err := f.srv.handleAuditVerify(context.Background(), &mcpsdk.CallToolRequest{}, AuditVerifyInput{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Valid || out.Entries != 3 || out.BrokenAt != -1 {
		t.Fatalf("expected intact chain, got %+v", out)
	}

	f.store.Tamper(1, func(e *audit.AuditEntry) { e.Actor = "mallory" })
	_, out, _ = f.srv.handleAuditVerify(context.Background(), &mcpsdk.CallToolRequest{}, AuditVerifyInput{})
	if out.Valid || out.BrokenAt != 1 {
		t.Fatalf("expected break at 1, got %+v", out)
	}
}

func TestAuditToolsWithoutTrail(t *testing.T) {
	srv, err := New(Config{Ledger: ledger.New(ledger.NewMemoryStore())})
	if err != nil {
		t.Fatal(err)
	}
	result, _, _ := srv.handleAuditQuery(context.Background(), &mcpsdk.CallToolRequest{}, AuditQueryInput{})
	if result == nil || !result.IsError {
		t.Fatal("expected IsError for query without trail")
	}
	result, _, _ = srv.handleAuditVerify(context.Background(), &mcpsdk.CallToolRequest{}, AuditVerifyInput{})
	if result == nil || !result.IsError {
		t.Fatal("expected IsError for verify without trail")
	}
}

func TestHandleBundleVerify(t *testing.T) {
	f := newTestServer(t)
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(bundle.ManifestPath, "{}")
	write("Reports/r.csv", "r")
	if _, err := integrity.WriteManifest(root, bundle.HashManifestPath, integrity.SHA256Hasher{}); err != nil {
		t.Fatal(err)
	}

	_, out, err := f.srv.handleBundleVerify(context.Background(), &mcpsdk.CallToolRequest{}, BundleVerifyInput{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Valid || out.Checked != 2 {
		t.Fatalf("expected valid bundle, got %+v", out)
	}

	write("Reports/r.csv", "tampered")
	_, out, _ = f.srv.handleBundleVerify(context.Background(), &mcpsdk.CallToolRequest{}, BundleVerifyInput{Root: root})
	if out.Valid || len(out.Modified) != 1 {
		t.Fatalf("expected modified report, got %+v", out)
	}

	result, _, _ := f.srv.handleBundleVerify(context.Background(), &mcpsdk.CallToolRequest{}, BundleVerifyInput{Root: t.TempDir()})
	if result == nil || !result.IsError {
		t.Fatal("expected IsError for directory without manifest")
	}
}
