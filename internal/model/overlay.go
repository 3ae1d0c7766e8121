package model

import (
	"fmt"
	"strings"
)

const (
	rulePrefix = "RULE:"
	vulnPrefix = "VULN:"
)

// NormalizeKey upper-cases and trims a control key so lookups are
// case-insensitive.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// RuleKey returns the normalized key addressing a control by rule id.
func RuleKey(ruleID string) string {
	id := strings.TrimSpace(ruleID)
	if id == "" {
		return ""
	}
	return NormalizeKey(rulePrefix + id)
}

// VulnKey returns the normalized key addressing a control by vuln id.
func VulnKey(vulnID string) string {
	id := strings.TrimSpace(vulnID)
	if id == "" {
		return ""
	}
	return NormalizeKey(vulnPrefix + id)
}

// Keys returns every normalized key the control is addressable by.
// The rule key comes first when both ids are present.
func (c ControlRecord) Keys() []string {
	var keys []string
	if k := RuleKey(c.RuleID); k != "" {
		keys = append(keys, k)
	}
	if k := VulnKey(c.VulnID); k != "" {
		keys = append(keys, k)
	}
	return keys
}

// PrimaryKey is the key used to sort and report a control.
func (c ControlRecord) PrimaryKey() string {
	if keys := c.Keys(); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// ControlOverride is one entry of an overlay.
type ControlOverride struct {
	RuleID string         `json:"rule_id,omitempty" yaml:"rule_id"`
	VulnID string         `json:"vuln_id,omitempty" yaml:"vuln_id"`
	Status StatusOverride `json:"status" yaml:"status"`
	Reason string         `json:"reason,omitempty" yaml:"reason"`
	Notes  string         `json:"notes,omitempty" yaml:"notes"`
}

// Key returns the normalized key the override targets. A rule id is more
// specific than a vuln id and wins when both are given.
func (o ControlOverride) Key() string {
	if k := RuleKey(o.RuleID); k != "" {
		return k
	}
	return VulnKey(o.VulnID)
}

// Overlay is a named, ordered set of overrides. Overlays are applied in list
// order; later overlays take precedence.
type Overlay struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Overrides []ControlOverride `json:"overrides" yaml:"overrides"`
}

// Validate checks that the overlay has an id and that every override
// targets a distinct key.
func (o Overlay) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("overlay id is required")
	}
	seen := make(map[string]int, len(o.Overrides))
	for i, ov := range o.Overrides {
		key := ov.Key()
		if key == "" {
			return fmt.Errorf("overlay %s: override %d has neither rule_id nor vuln_id", o.ID, i)
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("overlay %s: duplicate key %s at overrides %d and %d", o.ID, key, prev, i)
		}
		seen[key] = i
	}
	return nil
}

// OverlayOutcome is what one override resolves to.
type OverlayOutcome struct {
	Status StatusOverride `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Notes  string         `json:"notes,omitempty"`
}

// SameResult reports whether two outcomes resolve a control identically.
// Notes are commentary and do not count.
func (o OverlayOutcome) SameResult(other OverlayOutcome) bool {
	return o.Status == other.Status && o.Reason == other.Reason
}

// OverlayAppliedDecision is the resolved outcome for one (key, overlay) pair.
type OverlayAppliedDecision struct {
	Key           string         `json:"key"`
	OverlayID     string         `json:"overlay_id"`
	OverlayOrder  int            `json:"overlay_order"`
	OverrideOrder int            `json:"override_order"`
	Outcome       OverlayOutcome `json:"outcome"`
}

// OverlayConflict records that a later overlay changed the outcome an
// earlier overlay had produced for the same key.
type OverlayConflict struct {
	Key      string                 `json:"key"`
	Previous OverlayAppliedDecision `json:"previous"`
	Current  OverlayAppliedDecision `json:"current"`
}
