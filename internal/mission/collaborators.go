package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/missionctl/internal/alert"
	"github.com/ppiankov/missionctl/internal/bundle"
)

// ApplyRequest is handed to the apply executor once the remediation plan
// has been written.
type ApplyRequest struct {
	BundleRoot   string
	PlanPath     string
	ScriptArgs   []string
	SkipSnapshot bool
}

// ApplyResult summarises an apply phase.
type ApplyResult struct {
	LogPath string `json:"log_path"`
	Steps   int    `json:"steps"`
}

// ApplyExecutor runs remediation against a bundle.
type ApplyExecutor interface {
	Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error)
}

// Tool names a verification tool.
type Tool string

const (
	ToolEvaluate Tool = "evaluate"
	ToolScap     Tool = "scap"
)

// ToolOptions configures one verification tool. The evaluate tool is
// configured by its install Root; the scap tool by its Command.
type ToolOptions struct {
	Tool    Tool          `json:"tool"`
	Root    string        `json:"root,omitempty"`
	Command string        `json:"command,omitempty"`
	Args    []string      `json:"args,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Configured reports whether the tool has enough settings to run.
func (o ToolOptions) Configured() bool {
	switch o.Tool {
	case ToolEvaluate:
		return o.Root != ""
	default:
		return o.Command != ""
	}
}

// ResultCounts tallies verification results by status.
type ResultCounts struct {
	Pass          int `json:"pass"`
	Fail          int `json:"fail"`
	NotApplicable int `json:"not_applicable"`
	NotReviewed   int `json:"not_reviewed"`
	Error         int `json:"error"`
}

// Add returns the element-wise sum of c and o.
func (c ResultCounts) Add(o ResultCounts) ResultCounts {
	return ResultCounts{
		Pass:          c.Pass + o.Pass,
		Fail:          c.Fail + o.Fail,
		NotApplicable: c.NotApplicable + o.NotApplicable,
		NotReviewed:   c.NotReviewed + o.NotReviewed,
		Error:         c.Error + o.Error,
	}
}

// Total is the number of results counted.
func (c ResultCounts) Total() int {
	return c.Pass + c.Fail + c.NotApplicable + c.NotReviewed + c.Error
}

func (c ResultCounts) String() string {
	return fmt.Sprintf("pass=%d fail=%d na=%d not_reviewed=%d error=%d",
		c.Pass, c.Fail, c.NotApplicable, c.NotReviewed, c.Error)
}

// ToolRun records one invocation of a verification tool.
type ToolRun struct {
	Tool       Tool          `json:"tool"`
	OutputPath string        `json:"output_path"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	Counts     ResultCounts  `json:"counts"`
}

// VerifyResult summarises a verification phase.
type VerifyResult struct {
	Counts   ResultCounts `json:"counts"`
	ToolRuns []ToolRun    `json:"tool_runs"`
}

// VerifyWorkflow runs a verification tool, writing its output under
// outputRoot.
type VerifyWorkflow interface {
	Verify(ctx context.Context, outputRoot string, opts ToolOptions) (VerifyResult, error)
}

// EvidenceCollector gathers mission outputs into the bundle's evidence
// index.
type EvidenceCollector interface {
	Collect(ctx context.Context, bundleRoot string) (*bundle.EvidenceIndex, error)
}

// Alerter receives mission alerts. *alert.Dispatcher satisfies it.
type Alerter interface {
	Dispatch(event alert.AlertEvent)
}
