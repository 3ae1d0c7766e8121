package breakglass

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckNoFlags(t *testing.T) {
	if err := Check(Request{}); err != nil {
		t.Fatalf("no flags should pass, got %v", err)
	}
	if err := Check(Request{Reason: "unused"}); err != nil {
		t.Fatalf("reason alone should pass, got %v", err)
	}
}

func TestCheckRequiresAcknowledgeAndReason(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		missing string
	}{
		{"no ack", Request{SkipSnapshot: true, Reason: "outage"}, "--acknowledge"},
		{"no reason", Request{SkipSnapshot: true, Acknowledge: true}, "--reason"},
		{"blank reason", Request{SkipVerify: true, Acknowledge: true, Reason: "   "}, "--reason"},
		{"neither", Request{SkipSnapshot: true, SkipVerify: true}, "--acknowledge and a non-empty --reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.req)
			var bgErr *Error
			if !errors.As(err, &bgErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q should mention %q", err.Error(), tt.missing)
			}
		})
	}
}

func TestCheckAcknowledged(t *testing.T) {
	req := Request{SkipSnapshot: true, Acknowledge: true, Reason: "snapshot service down"}
	if err := Check(req); err != nil {
		t.Fatalf("acknowledged request should pass, got %v", err)
	}
}

func TestFlagsAndDetail(t *testing.T) {
	req := Request{SkipVerify: true, SkipSnapshot: true, Acknowledge: true, Reason: " outage "}
	flags := req.Flags()
	if len(flags) != 2 || flags[0] != FlagSkipSnapshot || flags[1] != FlagSkipVerify {
		t.Fatalf("unexpected flags %v", flags)
	}
	if !req.Active() || (Request{}).Active() {
		t.Error("Active mismatch")
	}
	if got := Detail(req); got != "reason=outage; flags=skip-snapshot,skip-verify" {
		t.Errorf("unexpected detail %q", got)
	}
}
