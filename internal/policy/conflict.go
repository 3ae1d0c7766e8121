// Package policy holds the pure decision functions of a build: blocking
// conflict classification, the automation age gate, the NotApplicable
// filter and review queue construction.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/overlay"
)

// OverlayStatus is the status one overlay assigns to a key.
type OverlayStatus struct {
	OverlayID    string              `json:"overlay_id"`
	OverlayOrder int                 `json:"overlay_order"`
	Status       model.ControlStatus `json:"status"`
}

// BlockingConflict is two overlays assigning different final statuses to
// the same key.
type BlockingConflict struct {
	Key    string        `json:"key"`
	First  OverlayStatus `json:"first"`
	Second OverlayStatus `json:"second"`
}

func (c BlockingConflict) String() string {
	return fmt.Sprintf("%s: overlay %q sets %s, overlay %q sets %s",
		c.Key, c.First.OverlayID, c.First.Status, c.Second.OverlayID, c.Second.Status)
}

// IsBlocking classifies a pair of decisions for the same key: it blocks
// when they come from different overlays and force different statuses.
// Notes-only decisions never block.
func IsBlocking(prev, cur model.OverlayAppliedDecision) bool {
	if prev.OverlayOrder == cur.OverlayOrder {
		return false
	}
	ps, pok := prev.Outcome.Status.Value()
	cs, cok := cur.Outcome.Status.Value()
	return pok && cok && ps != cs
}

// DetectBlockingConflicts scans raw overlays, independent of any control
// set, for keys whose final status differs between overlays. Each overlay
// contributes its last status-setting override per key; adjacent
// contributions with different statuses form one conflict. Results are
// sorted by key, then by the first overlay's order.
func DetectBlockingConflicts(overlays []model.Overlay) []BlockingConflict {
	perKey := make(map[string][]model.OverlayAppliedDecision)
	for order, ov := range overlays {
		final := make(map[string]model.OverlayAppliedDecision)
		for _, entry := range overlay.SortedOverrides(ov) {
			if !entry.Override.Status.IsSet() {
				continue
			}
			final[entry.Key] = model.OverlayAppliedDecision{
				Key:           entry.Key,
				OverlayID:     ov.ID,
				OverlayOrder:  order,
				OverrideOrder: entry.Position,
				Outcome:       overlay.OutcomeOf(entry.Override),
			}
		}
		for key, d := range final {
			perKey[key] = append(perKey[key], d)
		}
	}

	var conflicts []BlockingConflict
	for key, ds := range perKey {
		sort.Slice(ds, func(i, j int) bool { return ds[i].OverlayOrder < ds[j].OverlayOrder })
		for i := 1; i < len(ds); i++ {
			if !IsBlocking(ds[i-1], ds[i]) {
				continue
			}
			conflicts = append(conflicts, BlockingConflict{
				Key:    key,
				First:  overlayStatus(ds[i-1]),
				Second: overlayStatus(ds[i]),
			})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Key != conflicts[j].Key {
			return strings.ToUpper(conflicts[i].Key) < strings.ToUpper(conflicts[j].Key)
		}
		return conflicts[i].First.OverlayOrder < conflicts[j].First.OverlayOrder
	})
	return conflicts
}

func overlayStatus(d model.OverlayAppliedDecision) OverlayStatus {
	s, _ := d.Outcome.Status.Value()
	return OverlayStatus{OverlayID: d.OverlayID, OverlayOrder: d.OverlayOrder, Status: s}
}
