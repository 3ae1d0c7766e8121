package bundle

import (
	"fmt"
	"os"
	"path/filepath"
)

// Bundle subdirectories.
const (
	DirApply    = "Apply"
	DirVerify   = "Verify"
	DirManual   = "Manual"
	DirEvidence = "Evidence"
	DirReports  = "Reports"
	DirManifest = "Manifest"
)

// Files written by a build, relative to the bundle root.
const (
	NAScopeReportPath         = "Reports/na_scope_filter_report.csv"
	ReviewRequiredPath        = "Reports/review_required.csv"
	OverlayConflictsPath      = "Reports/overlay_conflicts.csv"
	OverlayDecisionsPath      = "Reports/overlay_decisions.json"
	OverlayConflictReportPath = "Reports/overlay_conflict_report.csv"
	AutomationGatePath        = "Reports/automation_gate.json"

	ManifestPath     = "Manifest/manifest.json"
	PackControlsPath = "Manifest/pack_controls.json"
	OverlaysPath     = "Manifest/overlays.json"
	OutOfScopePath   = "Manifest/out_of_scope.json"
	HashManifestPath = "Manifest/file_hashes.sha256"

	RemediationPlanPath = "Apply/remediation_plan.json"
	EvidenceIndexPath   = "Evidence/evidence_index.json"
)

// Layout lists the directories every bundle has, in creation order.
var Layout = []string{DirApply, DirVerify, DirManual, DirEvidence, DirReports, DirManifest}

// ReportFiles lists the reports every completed build writes.
var ReportFiles = []string{
	NAScopeReportPath,
	ReviewRequiredPath,
	OverlayConflictsPath,
	OverlayDecisionsPath,
	OverlayConflictReportPath,
	AutomationGatePath,
}

func createLayout(root string) error {
	for _, dir := range Layout {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return fmt.Errorf("bundle: create %s: %w", dir, err)
		}
	}
	return nil
}

func writeFile(root, rel string, data []byte) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("bundle: create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", rel, err)
	}
	return nil
}
