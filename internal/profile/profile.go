package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/missionctl/internal/model"
)

// ScopeRule marks controls out of scope for a profile. A rule matches by
// rule id, vuln id or tag; the first matching rule supplies the reason.
type ScopeRule struct {
	RuleID string `yaml:"rule_id,omitempty" json:"rule_id,omitempty"`
	VulnID string `yaml:"vuln_id,omitempty" json:"vuln_id,omitempty"`
	Tag    string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Reason string `yaml:"reason" json:"reason"`
}

// Profile is a named compliance scope: which controls of a content pack
// apply to a class of systems.
type Profile struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	// IncludeTags restricts the applicable set to controls carrying at least
	// one of these tags. Empty means every tag.
	IncludeTags []string `yaml:"include_tags" json:"include_tags,omitempty"`
	// Severities restricts the applicable set by severity. Empty means all.
	Severities []string    `yaml:"severities" json:"severities,omitempty"`
	OutOfScope []ScopeRule `yaml:"out_of_scope" json:"out_of_scope,omitempty"`
}

// Dir returns the user profile directory, ~/.missionctl/profiles.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".missionctl", "profiles"), nil
}

// Load loads a profile by name. Checks built-in profiles first,
// then falls back to ~/.missionctl/profiles/<name>.yaml.
func Load(name string) (*Profile, error) {
	if data, ok := builtinProfiles[name]; ok {
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in profile %q: %w", name, err)
		}
		return p, nil
	}

	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("profile %q not found (no built-in, cannot determine home dir)", name)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

// LoadFile loads a profile from an explicit path.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML (or JSON) profile document.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Resolve treats arg as a file path when it names an existing file,
// otherwise as a profile name.
func Resolve(arg string) (*Profile, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return LoadFile(arg)
	}
	return Load(arg)
}

// List returns sorted names of all available profiles (built-in + user).
func List() []string {
	seen := make(map[string]bool)
	for name := range builtinProfiles {
		seen[name] = true
	}

	if dir, err := Dir(); err == nil {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				name := e.Name()
				if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
					seen[name[:len(name)-len(ext)]] = true
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that a profile is well-formed.
func Validate(p *Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	for i, r := range p.OutOfScope {
		if r.RuleID == "" && r.VulnID == "" && r.Tag == "" {
			return fmt.Errorf("out_of_scope[%d]: one of rule_id, vuln_id or tag is required", i)
		}
		if strings.TrimSpace(r.Reason) == "" {
			return fmt.Errorf("out_of_scope[%d]: reason is required", i)
		}
	}
	return nil
}

// DisplayName is Name, falling back to ID.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Scope reports whether a control applies under the profile. When it does
// not, reason explains why.
func (p *Profile) Scope(c model.ControlRecord) (applicable bool, reason string) {
	for _, r := range p.OutOfScope {
		if r.matches(c) {
			return false, r.Reason
		}
	}
	if len(p.Severities) > 0 && !containsFold(p.Severities, c.Severity) {
		return false, fmt.Sprintf("severity %q not in profile %s", c.Severity, p.ID)
	}
	if len(p.IncludeTags) > 0 {
		for _, tag := range c.Tags {
			if containsFold(p.IncludeTags, tag) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("no tag included by profile %s", p.ID)
	}
	return true, ""
}

func (r ScopeRule) matches(c model.ControlRecord) bool {
	switch {
	case r.RuleID != "":
		return model.RuleKey(r.RuleID) == model.RuleKey(c.RuleID)
	case r.VulnID != "":
		return model.VulnKey(r.VulnID) == model.VulnKey(c.VulnID)
	case r.Tag != "":
		return containsFold(c.Tags, r.Tag)
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
