package bundle

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/overlay"
	"github.com/ppiankov/missionctl/internal/policy"
)

// Scope sources in the NA report.
const (
	sourceProfile = "profile"
	sourceOverlay = "overlay"
)

type naRow struct {
	key     string
	control model.ControlRecord
	source  string
	reason  string
}

func writeReports(root string, compiled model.CompiledControls, merge overlay.MergeResult,
	review []policy.ReviewItem, blocking []policy.BlockingConflict, gate policy.GateDecision) error {

	writers := []struct {
		path   string
		render func() ([]byte, error)
	}{
		{NAScopeReportPath, func() ([]byte, error) { return naScopeReport(compiled, merge) }},
		{ReviewRequiredPath, func() ([]byte, error) { return reviewReport(review) }},
		{OverlayConflictsPath, func() ([]byte, error) { return conflictsReport(merge.Conflicts) }},
		{OverlayDecisionsPath, func() ([]byte, error) { return marshalJSON(nonNil(merge.Decisions)) }},
		{OverlayConflictReportPath, func() ([]byte, error) { return blockingReport(blocking, gate.Forced) }},
		{AutomationGatePath, func() ([]byte, error) { return marshalJSON(gate) }},
	}
	for _, w := range writers {
		data, err := w.render()
		if err != nil {
			return fmt.Errorf("bundle: render %s: %w", w.path, err)
		}
		if err := writeFile(root, w.path, data); err != nil {
			return err
		}
	}
	return nil
}

// OutOfScopeEntry is one control the profile excluded, as recorded in
// Manifest/out_of_scope.json.
type OutOfScopeEntry struct {
	Key    string `json:"key"`
	RuleID string `json:"rule_id,omitempty"`
	VulnID string `json:"vuln_id,omitempty"`
	Reason string `json:"reason"`
}

func writeManifestFiles(root string, manifest model.BundleManifest, controls []model.ControlRecord,
	overlays []model.Overlay, outOfScope []model.CompiledControl) error {
	sorted := make([]model.ControlRecord, len(controls))
	copy(sorted, controls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PrimaryKey() < sorted[j].PrimaryKey() })
	if overlays == nil {
		overlays = []model.Overlay{}
	}
	scoped := make([]OutOfScopeEntry, 0, len(outOfScope))
	for _, c := range outOfScope {
		scoped = append(scoped, OutOfScopeEntry{
			Key:    c.Control.PrimaryKey(),
			RuleID: c.Control.RuleID,
			VulnID: c.Control.VulnID,
			Reason: c.Comment,
		})
	}
	sort.SliceStable(scoped, func(i, j int) bool { return scoped[i].Key < scoped[j].Key })

	files := []struct {
		path string
		v    any
	}{
		{ManifestPath, manifest},
		{PackControlsPath, sorted},
		{OverlaysPath, overlays},
		{OutOfScopePath, scoped},
	}
	for _, f := range files {
		data, err := marshalJSON(f.v)
		if err != nil {
			return fmt.Errorf("bundle: render %s: %w", f.path, err)
		}
		if err := writeFile(root, f.path, data); err != nil {
			return err
		}
	}
	return nil
}

// naScopeReport lists controls out of scope by profile plus controls an
// overlay resolved to NotApplicable.
func naScopeReport(compiled model.CompiledControls, merge overlay.MergeResult) ([]byte, error) {
	var rows []naRow
	for _, c := range compiled.OutOfScope {
		rows = append(rows, naRow{key: c.Control.PrimaryKey(), control: c.Control, source: sourceProfile, reason: c.Comment})
	}
	for _, c := range merge.Controls {
		if policy.IsNotApplicable(c) {
			rows = append(rows, naRow{
				key:     c.Control.PrimaryKey(),
				control: c.Control,
				source:  sourceOverlay + ":" + c.AppliedOverlay,
				reason:  c.Comment,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}
		return rows[i].source < rows[j].source
	})

	records := [][]string{{"key", "rule_id", "vuln_id", "title", "source", "reason"}}
	for _, r := range rows {
		records = append(records, []string{r.key, r.control.RuleID, r.control.VulnID, r.control.Title, r.source, r.reason})
	}
	return encodeCSV(records)
}

func reviewReport(review []policy.ReviewItem) ([]byte, error) {
	records := [][]string{{"key", "rule_id", "vuln_id", "title", "severity", "status", "reason"}}
	for _, it := range review {
		c := it.Control.Control
		records = append(records, []string{c.PrimaryKey(), c.RuleID, c.VulnID, c.Title, c.Severity, string(it.Control.Status), it.Reason})
	}
	return encodeCSV(records)
}

func conflictsReport(conflicts []model.OverlayConflict) ([]byte, error) {
	records := [][]string{{
		"key",
		"previous_overlay", "previous_status", "previous_reason",
		"current_overlay", "current_status", "current_reason",
	}}
	for _, c := range conflicts {
		records = append(records, []string{
			c.Key,
			c.Previous.OverlayID, c.Previous.Outcome.Status.String(), c.Previous.Outcome.Reason,
			c.Current.OverlayID, c.Current.Outcome.Status.String(), c.Current.Outcome.Reason,
		})
	}
	return encodeCSV(records)
}

func blockingReport(blocking []policy.BlockingConflict, forced bool) ([]byte, error) {
	records := [][]string{{"key", "first_overlay", "first_status", "second_overlay", "second_status", "forced"}}
	for _, c := range blocking {
		records = append(records, []string{
			c.Key,
			c.First.OverlayID, string(c.First.Status),
			c.Second.OverlayID, string(c.Second.Status),
			strconv.FormatBool(forced),
		})
	}
	return encodeCSV(records)
}

func encodeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
