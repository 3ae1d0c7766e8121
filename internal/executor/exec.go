// Package executor provides local subprocess implementations of the
// mission apply and verification collaborators.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output after a kill.
const waitDelay = 2 * time.Second

// StepResult captures one subprocess invocation.
type StepResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// runStep runs name with args in dir, sending combined output to out.
// Cancelling ctx kills the process. A non-zero exit is an error.
func runStep(ctx context.Context, timeout time.Duration, dir string, env []string, out io.Writer, name string, args ...string) (StepResult, error) {
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(stepCtx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	sr := StepResult{Command: name, Duration: time.Since(start)}
	if err == nil {
		return sr, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		sr.ExitCode = exitErr.ExitCode()
	} else {
		sr.ExitCode = 1
	}
	switch {
	case ctx.Err() != nil:
		return sr, fmt.Errorf("executor: %s interrupted: %w", name, ctx.Err())
	case stepCtx.Err() != nil:
		return sr, fmt.Errorf("executor: %s timed out after %s: %w", name, timeout, stepCtx.Err())
	case exitErr != nil:
		return sr, fmt.Errorf("executor: %s exited with code %d", name, sr.ExitCode)
	default:
		return sr, fmt.Errorf("executor: run %s: %w", name, err)
	}
}
