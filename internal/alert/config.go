package alert

// Event types a webhook can subscribe to.
const (
	EventMissionFailed  = "mission_failed"
	EventBreakGlassUsed = "break_glass_used"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["mission_failed", "break_glass_used"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	BundleRoot string `json:"bundle_root"`
	Phase      string `json:"phase,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Host       string `json:"host,omitempty"`
	Reason     string `json:"reason"`
}
