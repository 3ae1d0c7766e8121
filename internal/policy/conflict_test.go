package policy

import (
	"strings"
	"testing"

	"github.com/ppiankov/missionctl/internal/model"
)

func ov(id string, overrides ...model.ControlOverride) model.Overlay {
	return model.Overlay{ID: id, Overrides: overrides}
}

func set(vulnID string, s model.ControlStatus) model.ControlOverride {
	return model.ControlOverride{VulnID: vulnID, Status: model.Override(s)}
}

func TestDetectBlockingConflictsDifferentStatuses(t *testing.T) {
	conflicts := DetectBlockingConflicts([]model.Overlay{
		ov("baseline", set("V-1001", model.StatusNotApplicable)),
		ov("site", set("V-1001", model.StatusPass)),
	})
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Key != "VULN:V-1001" {
		t.Errorf("unexpected key %s", c.Key)
	}
	if c.First.OverlayID != "baseline" || c.Second.OverlayID != "site" {
		t.Errorf("unexpected overlays %+v", c)
	}
	msg := c.String()
	for _, want := range []string{"VULN:V-1001", "baseline", "site"} {
		if !strings.Contains(msg, want) {
			t.Errorf("String() %q missing %q", msg, want)
		}
	}
}

func TestDetectBlockingConflictsIgnoresAgreementAndNotes(t *testing.T) {
	conflicts := DetectBlockingConflicts([]model.Overlay{
		ov("a", set("V-1", model.StatusPass), model.ControlOverride{VulnID: "V-2", Notes: "x"}),
		ov("b", set("V-1", model.StatusPass), set("V-2", model.StatusFail)),
	})
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}

func TestDetectBlockingConflictsSortedByKey(t *testing.T) {
	conflicts := DetectBlockingConflicts([]model.Overlay{
		ov("a", set("V-3", model.StatusPass), set("V-1", model.StatusPass)),
		ov("b", set("V-3", model.StatusFail), set("V-1", model.StatusFail)),
		ov("c", set("V-1", model.StatusFail)),
	})
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %+v", conflicts)
	}
	if conflicts[0].Key != "VULN:V-1" || conflicts[1].Key != "VULN:V-3" {
		t.Fatalf("unexpected order %v, %v", conflicts[0].Key, conflicts[1].Key)
	}
}

func TestIsBlockingSameOverlayNeverBlocks(t *testing.T) {
	a := model.OverlayAppliedDecision{OverlayOrder: 0, Outcome: model.OverlayOutcome{Status: model.Override(model.StatusPass)}}
	b := model.OverlayAppliedDecision{OverlayOrder: 0, Outcome: model.OverlayOutcome{Status: model.Override(model.StatusFail)}}
	if IsBlocking(a, b) {
		t.Fatal("same overlay must not block")
	}
	b.OverlayOrder = 1
	if !IsBlocking(a, b) {
		t.Fatal("different overlays with different statuses must block")
	}
	b.Outcome.Status = model.NoOverride()
	if IsBlocking(a, b) {
		t.Fatal("notes-only decision must not block")
	}
}
