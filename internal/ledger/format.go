package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/missionctl/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a run and its events as a text timeline.
func FormatTimeline(run model.MissionRun, events []model.TimelineEvent) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Run: %s | %s | %s\n", run.ID, run.Status, run.BundleRoot))
	if !run.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Started %s, finished %s (%s)\n",
			run.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			run.FinishedAt.UTC().Format("15:04:05"),
			run.FinishedAt.Sub(run.CreatedAt).Round(time.Millisecond)))
	} else {
		b.WriteString(fmt.Sprintf("Started %s\n", run.CreatedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	b.WriteString(separator + "\n")

	if len(events) == 0 {
		b.WriteString("No events recorded.\n")
	}
	for _, e := range events {
		b.WriteString(fmt.Sprintf("%4d %-8s %-9s %-14s %-9s %s\n",
			e.Seq,
			e.Timestamp.UTC().Format("15:04:05"),
			e.Phase,
			truncate(e.Step, 14),
			e.Status,
			truncate(e.Message, 60)))
		if e.EvidenceRef != "" {
			b.WriteString(fmt.Sprintf("     evidence: %s\n", e.EvidenceRef))
		}
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(events))
	if run.Detail != "" {
		b.WriteString(fmt.Sprintf("Detail: %s\n", run.Detail))
	}
	return b.String()
}

// FormatJSON renders a run with its events as indented JSON.
func FormatJSON(run model.MissionRun, events []model.TimelineEvent) (string, error) {
	data, err := json.MarshalIndent(struct {
		Run    model.MissionRun      `json:"run"`
		Events []model.TimelineEvent `json:"events"`
	}{run, events}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal timeline: %w", err)
	}
	return string(data), nil
}

func formatSummary(events []model.TimelineEvent) string {
	counts := map[model.EventStatus]int{}
	for _, e := range events {
		counts[e.Status]++
	}
	parts := []string{}
	for _, s := range []model.EventStatus{model.EventFinished, model.EventSkipped, model.EventFailed} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(string(s))))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no completed steps")
	}
	return fmt.Sprintf("Summary: %d events | %s\n", len(events), strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
