package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	stage := event.Phase
	if event.Tool != "" {
		stage = fmt.Sprintf("%s (%s)", event.Phase, event.Tool)
	}
	if stage == "" {
		stage = "-"
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("missionctl: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Bundle:* %s", event.BundleRoot)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Run:* %s", event.RunID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Phase:* %s", stage)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("missionctl %s: %s", event.Type, event.BundleRoot),
			"severity": severityFor(event.Type),
			"source":   "missionctl",
			"custom_details": map[string]any{
				"run_id": event.RunID,
				"phase":  event.Phase,
				"tool":   event.Tool,
				"actor":  event.Actor,
				"host":   event.Host,
				"reason": event.Reason,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(eventType string) string {
	switch eventType {
	case EventMissionFailed:
		return "error"
	case EventBreakGlassUsed:
		return "warning"
	default:
		return "info"
	}
}
