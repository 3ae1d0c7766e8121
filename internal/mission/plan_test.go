package mission

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/policy"
	"github.com/ppiankov/missionctl/internal/profile"
)

func TestBuildPlanDropsProfileOutOfScopeControls(t *testing.T) {
	b := bundle.NewBuilder(identity.NewFixedClock(missionTime), policy.AgeGate{GracePeriod: time.Hour})
	res, err := b.Build(context.Background(), bundle.BuildRequest{
		BundleID:   "b-scope",
		OutputRoot: t.TempDir(),
		Profile: &profile.Profile{
			ID:         "baseline",
			Name:       "Baseline",
			OutOfScope: []profile.ScopeRule{{VulnID: "V-2", Reason: "no audit daemon on appliances"}},
		},
		Pack: model.ContentPack{ID: "rhel9", Name: "RHEL 9", Version: "v2r1"},
		Controls: []model.ControlRecord{
			{RuleID: "SV-1r1", VulnID: "V-1", Title: "SSH root login", Severity: "high"},
			{VulnID: "V-2", Title: "Audit daemon", Severity: "medium"},
			{VulnID: "V-3", Title: "Screen lock", Severity: "low"},
		},
		Overlays: []model.Overlay{
			{ID: "site", Overrides: []model.ControlOverride{
				{VulnID: "V-3", Status: model.Override(model.StatusNotApplicable), Reason: "headless"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("build bundle: %v", err)
	}

	scoped, err := bundle.LoadOutOfScope(res.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Key != "VULN:V-2" {
		t.Fatalf("unexpected out-of-scope record %+v", scoped)
	}

	plan, err := BuildPlan(res.Root, missionTime)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range plan.Controls {
		if c.VulnID == "V-2" || c.VulnID == "V-3" {
			t.Errorf("excluded control %s was planned", c.VulnID)
		}
	}
	if len(plan.Controls) != 1 {
		t.Errorf("expected 1 planned control, got %+v", plan.Controls)
	}
	want := []string{"VULN:V-2", "VULN:V-3"}
	if len(plan.Excluded) != len(want) {
		t.Fatalf("expected exclusions %v, got %v", want, plan.Excluded)
	}
	for i := range want {
		if plan.Excluded[i] != want[i] {
			t.Errorf("exclusion %d: expected %s, got %s", i, want[i], plan.Excluded[i])
		}
	}
}
