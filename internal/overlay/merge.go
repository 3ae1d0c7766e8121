// Package overlay layers ordered policy overrides onto a compiled control
// set. Output ordering depends only on input content, never on map or
// slice iteration order, so identical inputs always merge identically.
package overlay

import (
	"sort"
	"strings"

	"github.com/ppiankov/missionctl/internal/model"
)

// MergeResult is the outcome of merging overlays onto compiled controls.
type MergeResult struct {
	Controls  []model.CompiledControl        `json:"controls"`
	Decisions []model.OverlayAppliedDecision `json:"decisions"`
	Conflicts []model.OverlayConflict        `json:"conflicts"`
}

// Merge applies overlays in list order (index = precedence, last wins) to a
// copy of controls. Overrides addressing keys that match no control are
// ignored.
//
// Every time a key's outcome changes between two different overlays a
// conflict is recorded, so the result carries the override history and not
// only the final winner.
func Merge(controls []model.CompiledControl, overlays []model.Overlay) MergeResult {
	merged := make([]model.CompiledControl, len(controls))
	copy(merged, controls)

	index := IndexControls(merged)
	last := make(map[string]model.OverlayAppliedDecision)

	var result MergeResult
	for overlayOrder, ov := range overlays {
		for _, entry := range SortedOverrides(ov) {
			positions, ok := index[entry.Key]
			if !ok {
				continue
			}

			decision := model.OverlayAppliedDecision{
				Key:           entry.Key,
				OverlayID:     ov.ID,
				OverlayOrder:  overlayOrder,
				OverrideOrder: entry.Position,
				Outcome:       OutcomeOf(entry.Override),
			}

			for _, pos := range positions {
				applyOutcome(&merged[pos], ov.ID, decision.Outcome)
			}

			if prev, seen := last[entry.Key]; seen &&
				prev.OverlayOrder != decision.OverlayOrder &&
				!prev.Outcome.SameResult(decision.Outcome) {
				result.Conflicts = append(result.Conflicts, model.OverlayConflict{
					Key:      entry.Key,
					Previous: prev,
					Current:  decision,
				})
			}
			last[entry.Key] = decision
			result.Decisions = append(result.Decisions, decision)
		}
	}

	SortDecisions(result.Decisions)
	SortConflicts(result.Conflicts)
	result.Controls = merged
	return result
}

// IndexedOverride is an override together with its normalized key and
// its position in the owning overlay.
type IndexedOverride struct {
	Key      string
	Position int
	Override model.ControlOverride
}

// SortedOverrides returns the overlay's overrides ordered by key, then by
// original position. Overrides with no addressable key are dropped.
func SortedOverrides(ov model.Overlay) []IndexedOverride {
	entries := make([]IndexedOverride, 0, len(ov.Overrides))
	for i, o := range ov.Overrides {
		key := o.Key()
		if key == "" {
			continue
		}
		entries = append(entries, IndexedOverride{Key: key, Position: i, Override: o})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Position < entries[j].Position
	})
	return entries
}

// IndexControls maps every normalized key to the positions of the controls
// addressable by it. A control appears under both its rule and vuln key.
func IndexControls(controls []model.CompiledControl) map[string][]int {
	index := make(map[string][]int, len(controls)*2)
	for i, c := range controls {
		for _, key := range c.Control.Keys() {
			index[key] = append(index[key], i)
		}
	}
	return index
}

// OutcomeOf resolves what an override does to a control.
func OutcomeOf(o model.ControlOverride) model.OverlayOutcome {
	return model.OverlayOutcome{
		Status: o.Status,
		Reason: strings.TrimSpace(o.Reason),
		Notes:  strings.TrimSpace(o.Notes),
	}
}

func applyOutcome(c *model.CompiledControl, overlayID string, out model.OverlayOutcome) {
	if status, ok := out.Status.Value(); ok {
		c.Status = status
	}
	if out.Reason != "" {
		c.Comment = out.Reason
	}
	if out.Notes != "" {
		c.Notes = out.Notes
	}
	c.AppliedOverlay = overlayID
}

// SortDecisions orders decisions by key (case-insensitive), overlay order,
// then override order.
func SortDecisions(ds []model.OverlayAppliedDecision) {
	sort.SliceStable(ds, func(i, j int) bool {
		return decisionLess(ds[i], ds[j])
	})
}

// SortConflicts orders conflicts by key, then by the current decision's
// overlay and override order.
func SortConflicts(cs []model.OverlayConflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		return decisionLess(cs[i].Current, cs[j].Current)
	})
}

func decisionLess(a, b model.OverlayAppliedDecision) bool {
	ka, kb := strings.ToUpper(a.Key), strings.ToUpper(b.Key)
	if ka != kb {
		return ka < kb
	}
	if a.OverlayOrder != b.OverlayOrder {
		return a.OverlayOrder < b.OverlayOrder
	}
	return a.OverrideOrder < b.OverrideOrder
}
