package policy

import (
	"fmt"
	"time"

	"github.com/ppiankov/missionctl/internal/model"
)

// AgeGate decides whether fixes from a content pack may be applied
// automatically, based on how long the pack has been released.
type AgeGate struct {
	GracePeriod    time.Duration
	ReviewNewRules bool
}

// GateDecision is the recorded outcome of the automation gate.
type GateDecision struct {
	AutoApplyAllowed bool      `json:"auto_apply_allowed"`
	Forced           bool      `json:"forced"`
	ReviewWidened    bool      `json:"review_widened"`
	PackID           string    `json:"pack_id"`
	PackReleasedAt   time.Time `json:"pack_released_at"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
	GracePeriod      string    `json:"grace_period"`
	Reason           string    `json:"reason"`
	ConfigHash       string    `json:"config_hash,omitempty"`
	NewRules         []string  `json:"new_rules"`
}

// Evaluate applies the gate to a pack at time now. force records an explicit
// operator override; it does not change AutoApplyAllowed.
func (g AgeGate) Evaluate(pack model.ContentPack, now time.Time, force bool) GateDecision {
	d := GateDecision{
		Forced:         force,
		PackID:         pack.ID,
		PackReleasedAt: pack.ReleasedAt.UTC(),
		EvaluatedAt:    now.UTC(),
		GracePeriod:    g.GracePeriod.String(),
		NewRules:       []string{},
	}

	switch {
	case g.GracePeriod <= 0:
		d.AutoApplyAllowed = true
		d.Reason = "no grace period configured"
	case pack.ReleasedAt.IsZero():
		d.Reason = "pack release date unknown"
	default:
		age := now.Sub(pack.ReleasedAt)
		if age >= g.GracePeriod {
			d.AutoApplyAllowed = true
			d.Reason = fmt.Sprintf("pack released %s ago, grace period %s elapsed", age.Round(time.Second), g.GracePeriod)
		} else {
			d.Reason = fmt.Sprintf("pack released %s ago, inside grace period %s", age.Round(time.Second), g.GracePeriod)
		}
	}

	if force {
		d.Reason += "; auto-apply forced by operator"
	}
	d.ReviewWidened = g.ReviewNewRules && !d.AutoApplyAllowed && !force
	return d
}

// IsRecent reports whether a control was introduced inside the grace
// period. Controls with an unknown introduction date are not recent.
func (g AgeGate) IsRecent(c model.ControlRecord, now time.Time) bool {
	if c.IntroducedAt.IsZero() || g.GracePeriod <= 0 {
		return false
	}
	return now.Sub(c.IntroducedAt) < g.GracePeriod
}
