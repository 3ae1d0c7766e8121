package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/missionctl/internal/mission"
)

// SummaryFile is the optional result tally a tool writes into its output
// directory.
const SummaryFile = "summary.json"

// CommandVerifier runs a verification tool as a subprocess inside
// <outputRoot>/<tool>/. The tool finds that directory in
// MISSIONCTL_OUTPUT_DIR. Its combined output goes to <tool>.log there, and
// a summary.json, when present, supplies the result counts.
type CommandVerifier struct{}

var _ mission.VerifyWorkflow = CommandVerifier{}

// Verify runs the tool once. A non-zero exit fails verification.
func (CommandVerifier) Verify(ctx context.Context, outputRoot string, opts mission.ToolOptions) (mission.VerifyResult, error) {
	command := opts.Command
	if command == "" && opts.Root != "" {
		command = filepath.Join(opts.Root, string(opts.Tool))
	}
	if command == "" {
		return mission.VerifyResult{}, fmt.Errorf("executor: %s tool has no command", opts.Tool)
	}

	outDir := filepath.Join(outputRoot, string(opts.Tool))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return mission.VerifyResult{}, fmt.Errorf("executor: create output dir: %w", err)
	}
	logPath := filepath.Join(outDir, string(opts.Tool)+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return mission.VerifyResult{}, fmt.Errorf("executor: create tool log: %w", err)
	}
	defer logFile.Close()

	env := append(os.Environ(), "MISSIONCTL_OUTPUT_DIR="+outDir)
	if opts.Root != "" {
		env = append(env, "MISSIONCTL_TOOL_ROOT="+opts.Root)
	}

	sr, err := runStep(ctx, opts.Timeout, outDir, env, logFile, command, opts.Args...)
	if err != nil {
		return mission.VerifyResult{}, err
	}

	counts, err := readSummary(filepath.Join(outDir, SummaryFile))
	if err != nil {
		return mission.VerifyResult{}, err
	}
	run := mission.ToolRun{
		Tool:       opts.Tool,
		OutputPath: outDir,
		ExitCode:   sr.ExitCode,
		Duration:   sr.Duration.Round(time.Millisecond),
		Counts:     counts,
	}
	return mission.VerifyResult{Counts: counts, ToolRuns: []mission.ToolRun{run}}, nil
}

func readSummary(path string) (mission.ResultCounts, error) {
	var counts mission.ResultCounts
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return counts, nil
	}
	if err != nil {
		return counts, fmt.Errorf("executor: read summary: %w", err)
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		return counts, fmt.Errorf("executor: parse %s: %w", path, err)
	}
	return counts, nil
}
