package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlStatus is the review outcome of one compliance control.
type ControlStatus string

const (
	StatusOpen          ControlStatus = "Open"
	StatusPass          ControlStatus = "Pass"
	StatusFail          ControlStatus = "Fail"
	StatusNotApplicable ControlStatus = "NotApplicable"
)

// ParseStatus accepts the canonical names plus the aliases found in
// scanner exports and hand-written overlays.
func ParseStatus(s string) (ControlStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch norm {
	case "open", "notreviewed":
		return StatusOpen, nil
	case "pass", "notafinding", "compliant":
		return StatusPass, nil
	case "fail", "finding", "noncompliant":
		return StatusFail, nil
	case "notapplicable", "na":
		return StatusNotApplicable, nil
	}
	return "", fmt.Errorf("unknown control status %q", s)
}

// ControlRecord is an imported compliance requirement. It is never
// mutated after import.
type ControlRecord struct {
	RuleID       string    `json:"rule_id" yaml:"rule_id"`
	VulnID       string    `json:"vuln_id" yaml:"vuln_id"`
	Title        string    `json:"title" yaml:"title"`
	Severity     string    `json:"severity" yaml:"severity"`
	CheckText    string    `json:"check_text,omitempty" yaml:"check_text"`
	FixText      string    `json:"fix_text,omitempty" yaml:"fix_text"`
	Tags         []string  `json:"tags,omitempty" yaml:"tags"`
	IntroducedAt time.Time `json:"introduced_at" yaml:"introduced_at"`
}

// ContentPack identifies the imported source of a control set.
type ContentPack struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Version    string    `json:"version" yaml:"version"`
	ReleasedAt time.Time `json:"released_at" yaml:"released_at"`
}

// CompiledControl is a ControlRecord resolved against a profile. The merge
// step mutates copies of it, never the source record.
type CompiledControl struct {
	Control        ControlRecord `json:"control"`
	Status         ControlStatus `json:"status"`
	Comment        string        `json:"comment,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	NeedsReview    bool          `json:"needs_review"`
	AppliedOverlay string        `json:"applied_overlay,omitempty"`
}

// CompiledControls is the output of the classification service.
type CompiledControls struct {
	Applicable []CompiledControl `json:"applicable"`
	OutOfScope []CompiledControl `json:"out_of_scope"`
}

// StatusOverride is either "no override" or "override to a status".
// The zero value is NoOverride.
type StatusOverride struct {
	set    bool
	status ControlStatus
}

// NoOverride returns an override that leaves the status untouched.
func NoOverride() StatusOverride { return StatusOverride{} }

// Override returns an override forcing the given status.
func Override(s ControlStatus) StatusOverride {
	return StatusOverride{set: true, status: s}
}

// IsSet reports whether a status is forced.
func (o StatusOverride) IsSet() bool { return o.set }

// Value returns the forced status and whether one is set.
func (o StatusOverride) Value() (ControlStatus, bool) { return o.status, o.set }

// Is reports whether the override forces exactly s.
func (o StatusOverride) Is(s ControlStatus) bool { return o.set && o.status == s }

func (o StatusOverride) String() string {
	if !o.set {
		return "-"
	}
	return string(o.status)
}

// MarshalJSON encodes NoOverride as null.
func (o StatusOverride) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(string(o.status))
}

func (o *StatusOverride) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = NoOverride()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return o.parse(raw)
}

func (o *StatusOverride) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*o = NoOverride()
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return o.parse(raw)
}

func (o *StatusOverride) parse(raw string) error {
	if strings.TrimSpace(raw) == "" {
		*o = NoOverride()
		return nil
	}
	s, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*o = Override(s)
	return nil
}
