package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/mission"
)

// ApplyLogPath is the apply log, relative to the bundle root.
const ApplyLogPath = "Apply/apply.log"

// Subprocess applies remediation by running shell steps from the bundle
// root. With Command set it runs that one command; otherwise it runs every
// Apply/*.sh script in name order. Script arguments are passed as
// positional parameters, and the plan path and snapshot flag through
// MISSIONCTL_PLAN and MISSIONCTL_SKIP_SNAPSHOT.
type Subprocess struct {
	Command string
	// Timeout bounds each step; zero means no limit.
	Timeout time.Duration
	// Shell defaults to "sh".
	Shell string
}

var _ mission.ApplyExecutor = Subprocess{}

// Apply runs the steps in order and stops at the first failure.
func (s Subprocess) Apply(ctx context.Context, req mission.ApplyRequest) (mission.ApplyResult, error) {
	logPath := filepath.Join(req.BundleRoot, filepath.FromSlash(ApplyLogPath))
	result := mission.ApplyResult{LogPath: logPath}

	steps, err := s.steps(req)
	if err != nil {
		return result, err
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return result, fmt.Errorf("executor: create apply log: %w", err)
	}
	defer logFile.Close()

	env := append(os.Environ(),
		"MISSIONCTL_BUNDLE_ROOT="+req.BundleRoot,
		"MISSIONCTL_PLAN="+req.PlanPath,
		"MISSIONCTL_SKIP_SNAPSHOT="+boolEnv(req.SkipSnapshot),
	)

	for _, st := range steps {
		fmt.Fprintf(logFile, "=== %s ===\n", st.label)
		if _, err := runStep(ctx, s.Timeout, req.BundleRoot, env, logFile, s.shell(), st.args...); err != nil {
			fmt.Fprintf(logFile, "!!! %v\n", err)
			return result, err
		}
		result.Steps++
	}
	if err := logFile.Sync(); err != nil {
		return result, fmt.Errorf("executor: sync apply log: %w", err)
	}
	return result, nil
}

type applyStep struct {
	label string
	args  []string
}

// steps returns the shell invocation of each step.
func (s Subprocess) steps(req mission.ApplyRequest) ([]applyStep, error) {
	if s.Command != "" {
		args := []string{"-c", s.Command + ` "$@"`, "missionctl-apply"}
		return []applyStep{{label: s.Command, args: append(args, req.ScriptArgs...)}}, nil
	}

	scripts, err := filepath.Glob(filepath.Join(req.BundleRoot, bundle.DirApply, "*.sh"))
	if err != nil {
		return nil, fmt.Errorf("executor: list apply scripts: %w", err)
	}
	sort.Strings(scripts)
	steps := make([]applyStep, 0, len(scripts))
	for _, script := range scripts {
		rel, err := filepath.Rel(req.BundleRoot, script)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		steps = append(steps, applyStep{label: rel, args: append([]string{rel}, req.ScriptArgs...)})
	}
	return steps, nil
}

func (s Subprocess) shell() string {
	if s.Shell != "" {
		return s.Shell
	}
	return "sh"
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
