// Package run abstracts command execution so the probe and the executor
// can be driven by a real shell-out, a dry run, or a scripted fake in
// tests. Implementations: RealRunner, and per-test fakes.
package run

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Result holds the output of a single command execution.
type Result struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner executes one command to completion. A non-zero exit status is
// not an error: it is reported through Result.ExitCode. The error return
// is reserved for failures to execute at all (binary missing, context
// cancelled before start).
type Runner interface {
	Run(ctx context.Context, command string, args ...string) (*Result, error)
}

// InputRunner is a Runner that can also feed data on stdin. Needed for
// commands like chpasswd that refuse secrets on the command line.
type InputRunner interface {
	Runner
	RunInput(ctx context.Context, stdin []byte, command string, args ...string) (*Result, error)
}

// RealRunner runs commands via os/exec.
type RealRunner struct{}

// Run executes the command, capturing stdout and stderr.
func (r RealRunner) Run(ctx context.Context, command string, args ...string) (*Result, error) {
	return r.RunInput(ctx, nil, command, args...)
}

// RunInput executes the command with stdin connected to the given bytes.
func (RealRunner) RunInput(ctx context.Context, stdin []byte, command string, args ...string) (*Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("execute command %q: %w", command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
