package policy

import (
	"sort"

	"github.com/ppiankov/missionctl/internal/model"
)

// Review reasons recorded in the review queue.
const (
	ReviewOpen    = "open"
	ReviewNewRule = "new_rule"
)

// ReviewItem is one control a human must look at before fixes apply.
type ReviewItem struct {
	Control model.CompiledControl `json:"control"`
	Reason  string                `json:"reason"`
}

// IsNotApplicable is the NA filter predicate.
func IsNotApplicable(c model.CompiledControl) bool {
	return c.Status == model.StatusNotApplicable
}

// BuildReviewQueue collects Open controls, adds controls selected by widen
// (when non-nil) that are not already queued, then drops every control whose
// final status is NotApplicable. Each control appears at most once. The
// queue is sorted by primary key.
func BuildReviewQueue(controls []model.CompiledControl, widen func(model.ControlRecord) bool) []ReviewItem {
	queued := make(map[int]string)
	for i, c := range controls {
		if c.Status == model.StatusOpen {
			queued[i] = ReviewOpen
		}
	}
	if widen != nil {
		for i, c := range controls {
			if _, ok := queued[i]; ok {
				continue
			}
			if widen(c.Control) {
				queued[i] = ReviewNewRule
			}
		}
	}

	items := make([]ReviewItem, 0, len(queued))
	for i, reason := range queued {
		if IsNotApplicable(controls[i]) {
			continue
		}
		c := controls[i]
		c.NeedsReview = true
		items = append(items, ReviewItem{Control: c, Reason: reason})
	}
	sort.Slice(items, func(i, j int) bool {
		ki, kj := items[i].Control.Control.PrimaryKey(), items[j].Control.Control.PrimaryKey()
		if ki != kj {
			return ki < kj
		}
		return items[i].Control.Control.VulnID < items[j].Control.Control.VulnID
	})
	return items
}

// LastStatusDecisions returns, per key, the last decision that forced a
// status. Decisions are ordered the way the merge applies them: overlay
// order, then key, then override order.
func LastStatusDecisions(decisions []model.OverlayAppliedDecision) map[string]model.OverlayAppliedDecision {
	last := make(map[string]model.OverlayAppliedDecision)
	for _, d := range decisions {
		if !d.Outcome.Status.IsSet() {
			continue
		}
		prev, ok := last[d.Key]
		if !ok || appliedAfter(d, prev) {
			last[d.Key] = d
		}
	}
	return last
}

// ExcludeNotApplicable drops every control whose last recorded decision,
// across all keys addressing it, set NotApplicable. It returns the kept
// controls in input order and the primary keys of the excluded ones.
func ExcludeNotApplicable(controls []model.ControlRecord, decisions []model.OverlayAppliedDecision) ([]model.ControlRecord, []string) {
	last := LastStatusDecisions(decisions)

	kept := make([]model.ControlRecord, 0, len(controls))
	var excluded []string
	for _, c := range controls {
		var winner *model.OverlayAppliedDecision
		for _, key := range c.Keys() {
			d, ok := last[key]
			if !ok {
				continue
			}
			if winner == nil || appliedAfter(d, *winner) {
				winner = &d
			}
		}
		if winner != nil && winner.Outcome.Status.Is(model.StatusNotApplicable) {
			excluded = append(excluded, c.PrimaryKey())
			continue
		}
		kept = append(kept, c)
	}
	sort.Strings(excluded)
	return kept, excluded
}

func appliedAfter(a, b model.OverlayAppliedDecision) bool {
	if a.OverlayOrder != b.OverlayOrder {
		return a.OverlayOrder > b.OverlayOrder
	}
	if a.Key != b.Key {
		return a.Key > b.Key
	}
	return a.OverrideOrder > b.OverrideOrder
}
