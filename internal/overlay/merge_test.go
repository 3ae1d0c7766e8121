package overlay

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/ppiankov/missionctl/internal/model"
)

func compiled(ruleID, vulnID string) model.CompiledControl {
	return model.CompiledControl{
		Control: model.ControlRecord{RuleID: ruleID, VulnID: vulnID, Title: "control " + vulnID},
		Status:  model.StatusOpen,
	}
}

func override(vulnID string, status model.ControlStatus, reason string) model.ControlOverride {
	return model.ControlOverride{VulnID: vulnID, Status: model.Override(status), Reason: reason}
}

func statusOf(t *testing.T, controls []model.CompiledControl, vulnID string) model.ControlStatus {
	t.Helper()
	for _, c := range controls {
		if c.Control.VulnID == vulnID {
			return c.Status
		}
	}
	t.Fatalf("control %s not found", vulnID)
	return ""
}

func TestMergeConflictEmission(t *testing.T) {
	controls := []model.CompiledControl{compiled("SV-1001r1_rule", "V-1001")}
	overlays := []model.Overlay{
		{ID: "A", Overrides: []model.ControlOverride{override("V-1001", model.StatusNotApplicable, "not installed")}},
		{ID: "B", Overrides: []model.ControlOverride{override("V-1001", model.StatusPass, "")}},
	}

	res := Merge(controls, overlays)

	if got := statusOf(t, res.Controls, "V-1001"); got != model.StatusPass {
		t.Fatalf("expected final status Pass, got %s", got)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Previous.OverlayID != "A" || !c.Previous.Outcome.Status.Is(model.StatusNotApplicable) {
		t.Errorf("unexpected previous decision %+v", c.Previous)
	}
	if c.Current.OverlayID != "B" || !c.Current.Outcome.Status.Is(model.StatusPass) {
		t.Errorf("unexpected current decision %+v", c.Current)
	}
	if len(res.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(res.Decisions))
	}
}

func TestMergeLastOverlayWins(t *testing.T) {
	statuses := []model.ControlStatus{
		model.StatusPass, model.StatusFail, model.StatusNotApplicable, model.StatusOpen,
	}
	controls := []model.CompiledControl{compiled("", "V-1"), compiled("", "V-2")}

	for n := 1; n <= 6; n++ {
		var overlays []model.Overlay
		want := model.StatusOpen
		for i := 0; i < n; i++ {
			ov := model.Overlay{ID: fmt.Sprintf("o%d", i)}
			// V-1 is only overridden by even overlays.
			if i%2 == 0 {
				s := statuses[i%len(statuses)]
				ov.Overrides = append(ov.Overrides, override("V-1", s, ""))
				want = s
			}
			ov.Overrides = append(ov.Overrides, model.ControlOverride{VulnID: "V-2", Notes: "seen"})
			overlays = append(overlays, ov)
		}

		res := Merge(controls, overlays)
		if got := statusOf(t, res.Controls, "V-1"); got != want {
			t.Errorf("n=%d: expected %s, got %s", n, want, got)
		}
		if got := statusOf(t, res.Controls, "V-2"); got != model.StatusOpen {
			t.Errorf("n=%d: notes-only overrides must not change status, got %s", n, got)
		}
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	controls := []model.CompiledControl{compiled("", "V-1")}
	Merge(controls, []model.Overlay{{ID: "A", Overrides: []model.ControlOverride{override("V-1", model.StatusPass, "ok")}}})
	if controls[0].Status != model.StatusOpen || controls[0].Comment != "" {
		t.Fatalf("input control mutated: %+v", controls[0])
	}
}

func TestMergeUnknownKeyIgnored(t *testing.T) {
	controls := []model.CompiledControl{compiled("", "V-1")}
	res := Merge(controls, []model.Overlay{{ID: "A", Overrides: []model.ControlOverride{
		override("V-9999", model.StatusPass, ""),
	}}})
	if len(res.Decisions) != 0 || len(res.Conflicts) != 0 {
		t.Fatalf("unknown key must be ignored, got %+v", res)
	}
}

func TestMergeMatchesPaddedAndLowerCaseIDs(t *testing.T) {
	tests := []struct {
		name string
		ov   model.ControlOverride
	}{
		{"padded vuln id", override(" v-1001", model.StatusNotApplicable, "no sshd")},
		{"padded both sides", override("  V-1001 ", model.StatusNotApplicable, "no sshd")},
		{"padded rule id", model.ControlOverride{RuleID: " sv-1001r1_rule\t", Status: model.Override(model.StatusNotApplicable), Reason: "no sshd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controls := []model.CompiledControl{compiled("SV-1001r1_rule", "V-1001")}
			res := Merge(controls, []model.Overlay{{ID: "site", Overrides: []model.ControlOverride{tt.ov}}})
			if got := statusOf(t, res.Controls, "V-1001"); got != model.StatusNotApplicable {
				t.Fatalf("expected NotApplicable, got %s", got)
			}
			if len(res.Decisions) != 1 {
				t.Fatalf("expected 1 decision, got %d", len(res.Decisions))
			}
			if k := res.Decisions[0].Key; k != "VULN:V-1001" && k != "RULE:SV-1001R1_RULE" {
				t.Errorf("unexpected decision key %q", k)
			}
		})
	}
}

func TestMergeAppliesToEveryAddressingKey(t *testing.T) {
	controls := []model.CompiledControl{
		compiled("SV-1r1_rule", "V-1"),
		compiled("SV-1r1_rule", "V-1b"),
	}
	res := Merge(controls, []model.Overlay{{ID: "A", Overrides: []model.ControlOverride{
		{RuleID: "sv-1R1_RULE", Status: model.Override(model.StatusFail)},
	}}})
	for _, c := range res.Controls {
		if c.Status != model.StatusFail {
			t.Errorf("control %s not updated via rule key", c.Control.VulnID)
		}
		if c.AppliedOverlay != "A" {
			t.Errorf("expected applied overlay A, got %q", c.AppliedOverlay)
		}
	}
}

func TestMergeSameOutcomeIsNotAConflict(t *testing.T) {
	controls := []model.CompiledControl{compiled("", "V-1")}
	res := Merge(controls, []model.Overlay{
		{ID: "A", Overrides: []model.ControlOverride{override("V-1", model.StatusPass, "")}},
		{ID: "B", Overrides: []model.ControlOverride{{VulnID: "V-1", Status: model.Override(model.StatusPass), Notes: "again"}}},
	})
	if len(res.Conflicts) != 0 {
		t.Fatalf("expected no conflict, got %+v", res.Conflicts)
	}
}

func TestMergeConflictHistoryKeepsTransitions(t *testing.T) {
	controls := []model.CompiledControl{compiled("", "V-1")}
	res := Merge(controls, []model.Overlay{
		{ID: "A", Overrides: []model.ControlOverride{override("V-1", model.StatusPass, "")}},
		{ID: "B", Overrides: []model.ControlOverride{override("V-1", model.StatusFail, "")}},
		{ID: "C", Overrides: []model.ControlOverride{override("V-1", model.StatusPass, "")}},
	})
	if len(res.Conflicts) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(res.Conflicts))
	}
	if res.Conflicts[0].Current.OverlayID != "B" || res.Conflicts[1].Current.OverlayID != "C" {
		t.Fatalf("unexpected conflict order: %+v", res.Conflicts)
	}
}

func TestMergeDeterministicOrdering(t *testing.T) {
	controls := []model.CompiledControl{
		compiled("", "V-3"), compiled("", "V-1"), compiled("", "v-2"),
	}
	overlaysA := []model.Overlay{{ID: "A", Overrides: []model.ControlOverride{
		override("V-3", model.StatusPass, ""),
		override("V-1", model.StatusFail, ""),
		override("v-2", model.StatusNotApplicable, "gone"),
	}}}
	overlaysB := []model.Overlay{{ID: "A", Overrides: []model.ControlOverride{
		override("v-2", model.StatusNotApplicable, "gone"),
		override("V-3", model.StatusPass, ""),
		override("V-1", model.StatusFail, ""),
	}}}

	a := Merge(controls, overlaysA)
	b := Merge(controls, overlaysB)

	keys := func(ds []model.OverlayAppliedDecision) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Key)
		}
		return out
	}
	want := []string{"VULN:V-1", "VULN:V-2", "VULN:V-3"}
	if !reflect.DeepEqual(keys(a.Decisions), want) {
		t.Fatalf("unexpected decision order %v", keys(a.Decisions))
	}
	if !reflect.DeepEqual(keys(b.Decisions), want) {
		t.Fatalf("unexpected decision order %v", keys(b.Decisions))
	}

	ja, _ := json.Marshal(a.Controls)
	jb, _ := json.Marshal(b.Controls)
	if string(ja) != string(jb) {
		t.Fatal("merged controls differ for permuted overrides")
	}
}

func TestSortedOverridesStableOnDuplicateKeys(t *testing.T) {
	ov := model.Overlay{ID: "A", Overrides: []model.ControlOverride{
		override("V-2", model.StatusPass, ""),
		override("V-1", model.StatusFail, "first"),
		override("v-1", model.StatusPass, "second"),
	}}
	entries := SortedOverrides(ov)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Position != 1 || entries[1].Position != 2 || entries[2].Position != 0 {
		t.Fatalf("unexpected order %+v", entries)
	}
}
