package profile

import "fmt"

// InitProfile returns a commented YAML starter template for a new profile.
func InitProfile(name string) string {
	return fmt.Sprintf(`id: %s
name: %s
description: Custom compliance profile

# Only controls carrying one of these tags apply. Empty means all tags.
# include_tags:
#   - linux

# Only controls of these severities apply. Empty means all severities.
# severities:
#   - high
#   - medium

# Controls matched here are out of scope and land in the NA scope report.
# Match by rule_id, vuln_id or tag. The reason is required.
out_of_scope:
  - tag: desktop
    reason: "No graphical session"
  # - vuln_id: V-000000
  #   reason: "Explain why this control does not apply"
`, name, name)
}
