package audit

import (
	"context"
	"strings"
	"testing"
)

func TestFormatEntries(t *testing.T) {
	trail, _, _ := newMemoryTrail(t)
	ctx := context.Background()
	trail.Record(ctx, AuditEntry{Action: ActionBreakGlass, Target: "/bundles/b-1", Result: ResultGranted, Detail: "reason=outage"})

	entries, _ := trail.Query(ctx, Filter{})
	out := FormatEntries(entries)
	for _, want := range []string{"ACTION", "break-glass", "alice@ws-01", "/bundles/b-1", "reason=outage", "1 entries"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatEntriesEmpty(t *testing.T) {
	if out := FormatEntries(nil); !strings.Contains(out, "No audit entries") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFormatVerify(t *testing.T) {
	if out := FormatVerify(VerifyResult{Valid: true, Entries: 3, BrokenAt: -1}); !strings.Contains(out, "valid (3 entries)") {
		t.Errorf("unexpected valid output %q", out)
	}
	if out := FormatVerify(VerifyResult{Entries: 3, BrokenAt: 1, Error: "hash mismatch"}); !strings.Contains(out, "BROKEN at entry 1") {
		t.Errorf("unexpected broken output %q", out)
	}
	if out := FormatVerify(VerifyResult{BrokenAt: -1, Error: "read: boom"}); !strings.Contains(out, "could not be verified") {
		t.Errorf("unexpected error output %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON(VerifyResult{Valid: true, BrokenAt: -1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Errorf("unexpected JSON %s", out)
	}
}
