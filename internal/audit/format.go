package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatEntries renders entries as a human-readable table.
func FormatEntries(entries []AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-6s %-19s %-16s %-16s %-9s %s\n", "ID", "TIME (UTC)", "ACTION", "ACTOR", "RESULT", "TARGET"))
	b.WriteString(separator + "\n")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%-6d %-19s %-16s %-16s %-9s %s\n",
			e.ID,
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			truncate(e.Action, 16),
			truncate(e.Actor+"@"+e.Host, 16),
			truncate(e.Result, 9),
			truncate(e.Target, 60)))
		if e.Detail != "" {
			b.WriteString(fmt.Sprintf("       %s\n", truncate(e.Detail, 100)))
		}
	}
	b.WriteString(separator + "\n")
	b.WriteString(fmt.Sprintf("%d entries\n", len(entries)))
	return b.String()
}

// FormatVerify renders a verification result on one line.
func FormatVerify(r VerifyResult) string {
	if r.Valid {
		return fmt.Sprintf("audit chain valid (%d entries)\n", r.Entries)
	}
	if r.BrokenAt >= 0 {
		return fmt.Sprintf("audit chain BROKEN at entry %d of %d: %s\n", r.BrokenAt, r.Entries, r.Error)
	}
	return fmt.Sprintf("audit chain could not be verified: %s\n", r.Error)
}

// FormatJSON renders any result as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit output: %w", err)
	}
	return string(data), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
