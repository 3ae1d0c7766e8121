package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/policy"
)

// RemediationPlan lists the controls the apply phase may act on.
type RemediationPlan struct {
	BundleID    string                `json:"bundle_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Controls    []model.ControlRecord `json:"controls"`
	// Excluded holds the primary keys of controls the profile put out of
	// scope or whose last overlay decision marked them NotApplicable.
	Excluded []string `json:"excluded"`
}

// BuildPlan reads a bundle's recorded controls and decisions and drops
// every control the profile put out of scope or an overlay last marked
// NotApplicable.
func BuildPlan(bundleRoot string, now time.Time) (*RemediationPlan, error) {
	decisions, err := bundle.LoadDecisions(bundleRoot)
	if err != nil {
		return nil, err
	}
	controls, err := bundle.LoadControls(bundleRoot)
	if err != nil {
		return nil, err
	}
	scoped, err := bundle.LoadOutOfScope(bundleRoot)
	if err != nil {
		return nil, err
	}

	outOfScope := make(map[string]bool, len(scoped))
	for _, e := range scoped {
		outOfScope[e.Key] = true
	}
	inScope := make([]model.ControlRecord, 0, len(controls))
	excluded := []string{}
	for _, c := range controls {
		if outOfScope[c.PrimaryKey()] {
			excluded = append(excluded, c.PrimaryKey())
			continue
		}
		inScope = append(inScope, c)
	}

	kept, na := policy.ExcludeNotApplicable(inScope, decisions)
	excluded = append(excluded, na...)
	sort.Strings(excluded)
	return &RemediationPlan{
		BundleID:    filepath.Base(bundleRoot),
		GeneratedAt: now.UTC(),
		Controls:    kept,
		Excluded:    excluded,
	}, nil
}

// WritePlan writes plan to Apply/remediation_plan.json and returns the
// absolute path.
func WritePlan(bundleRoot string, plan *RemediationPlan) (string, error) {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("mission: encode plan: %w", err)
	}
	path := filepath.Join(bundleRoot, filepath.FromSlash(bundle.RemediationPlanPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("mission: create apply dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("mission: write plan: %w", err)
	}
	return path, nil
}
