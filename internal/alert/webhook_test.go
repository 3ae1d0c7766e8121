package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	retryBackoff = func(int) time.Duration { return 10 * time.Millisecond }
}

func TestDispatchMatchesEvents(t *testing.T) {
	var called atomic.Int32
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		var ev AlertEvent
		json.NewDecoder(r.Body).Decode(&ev)
		got.Store(ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventMissionFailed}},
	}, nil)

	d.Dispatch(AlertEvent{Type: EventMissionFailed, RunID: "run-1", Phase: "Verify", Tool: "scap", Reason: "exit status 2"})
	d.Wait()

	if called.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", called.Load())
	}
	ev := got.Load().(AlertEvent)
	if ev.RunID != "run-1" || ev.Tool != "scap" {
		t.Errorf("unexpected payload %+v", ev)
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventMissionFailed}},
	}, nil)

	d.Dispatch(AlertEvent{Type: EventBreakGlassUsed, BundleRoot: "/b"})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	var called atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	d := NewDispatcher([]AlertConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{EventBreakGlassUsed}},
		{URL: srv2.URL, Format: "slack", Events: []string{EventMissionFailed, EventBreakGlassUsed}},
	}, nil)

	d.Dispatch(AlertEvent{Type: EventBreakGlassUsed, BundleRoot: "/b", Reason: "snapshot tool down"})
	d.Wait()

	if called.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called.Load())
	}
}

func TestNilDispatcherDropsEvents(t *testing.T) {
	d := NewDispatcher(nil, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher for empty config")
	}
	d.Dispatch(AlertEvent{Type: EventMissionFailed})
	d.Wait()
}

func TestCustomHeaders(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := Send(context.Background(), cfg, AlertEvent{Type: EventMissionFailed}); err != nil {
		t.Fatal(err)
	}
	if auth.Load() != "Bearer x" {
		t.Errorf("expected auth header, got %v", auth.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Type: EventMissionFailed})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Type: EventMissionFailed})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestSendStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Send(ctx, AlertConfig{URL: srv.URL}, AlertEvent{Type: EventMissionFailed}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := AlertEvent{
		Timestamp:  "2025-01-15T14:00:00.000Z",
		Type:       EventMissionFailed,
		RunID:      "run-123",
		BundleRoot: "/bundles/b1",
		Phase:      "Apply",
		Reason:     "exit status 1",
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed AlertEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != event {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	event := AlertEvent{
		Type:       EventMissionFailed,
		BundleRoot: "/bundles/b1",
		Phase:      "Verify",
		Tool:       "evaluate",
		Reason:     "exit status 3",
	}

	data, err := FormatPayload("slack", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) < 2 {
		t.Fatalf("expected at least 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, _ := section["fields"].([]any)
	phase, _ := fields[2].(map[string]any)
	if phase["text"] != "*Phase:* Verify (evaluate)" {
		t.Errorf("unexpected phase field %v", phase["text"])
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{EventMissionFailed, "error"},
		{EventBreakGlassUsed, "warning"},
		{"other", "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", AlertEvent{Type: tt.eventType})
		if err != nil {
			t.Fatal(err)
		}
		var parsed struct {
			Payload struct {
				Severity string `json:"severity"`
				Source   string `json:"source"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatal(err)
		}
		if parsed.Payload.Severity != tt.want {
			t.Errorf("%s: severity = %s, want %s", tt.eventType, parsed.Payload.Severity, tt.want)
		}
		if parsed.Payload.Source != "missionctl" {
			t.Errorf("unexpected source %s", parsed.Payload.Source)
		}
	}
}
