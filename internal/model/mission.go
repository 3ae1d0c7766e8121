package model

import "time"

// RunStatus is the lifecycle state of a mission run.
type RunStatus string

const (
	RunPending   RunStatus = "Pending"
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// MissionRun is the header record of one orchestration execution.
type MissionRun struct {
	ID         string    `json:"id"`
	BundleRoot string    `json:"bundle_root"`
	Status     RunStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Phase names one stage of a mission.
type Phase string

const (
	PhaseApply    Phase = "Apply"
	PhaseVerify   Phase = "Verify"
	PhaseEvidence Phase = "Evidence"
)

// EventStatus is the transition a timeline event records.
type EventStatus string

const (
	EventStarted  EventStatus = "Started"
	EventFinished EventStatus = "Finished"
	EventSkipped  EventStatus = "Skipped"
	EventFailed   EventStatus = "Failed"
)

// TimelineEvent is one immutable, sequence-numbered phase transition.
type TimelineEvent struct {
	RunID       string      `json:"run_id"`
	Seq         int64       `json:"seq"`
	Phase       Phase       `json:"phase"`
	Step        string      `json:"step"`
	Status      EventStatus `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
	Message     string      `json:"message,omitempty"`
	EvidenceRef string      `json:"evidence_ref,omitempty"`
}

// BundleManifest is the descriptive header of one build.
type BundleManifest struct {
	BundleID    string         `json:"bundle_id"`
	ProfileID   string         `json:"profile_id"`
	ProfileName string         `json:"profile_name"`
	Pack        ContentPack    `json:"pack"`
	CreatedAt   time.Time      `json:"created_at"`
	ToolVersion string         `json:"tool_version,omitempty"`
	Totals      ManifestTotals `json:"totals"`
}

// ManifestTotals summarises a build.
type ManifestTotals struct {
	Controls         int `json:"controls"`
	Applicable       int `json:"applicable"`
	OutOfScope       int `json:"out_of_scope"`
	Overlays         int `json:"overlays"`
	Decisions        int `json:"decisions"`
	Conflicts        int `json:"conflicts"`
	BlockingConflict int `json:"blocking_conflicts"`
	ReviewQueue      int `json:"review_queue"`
	NotApplicable    int `json:"not_applicable"`
}

// FileHashEntry is one line of the bundle hash manifest.
type FileHashEntry struct {
	SHA256 string `json:"sha256"`
	Path   string `json:"path"`
}
