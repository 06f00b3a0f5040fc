// Copyright 2017--2022 Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may not
// use this file except in compliance with the License. A copy of the License
// is located at
//
//     http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package harness drives end-to-end verification of the Sockeye CLI entry
// points (train, translate, score, prepare-data, lexicon).
//
// The harness never calls into the engine's internals. Every interaction is
// an argument list handed to a CommandRunner plus file I/O on the work
// directory, so the engine under test can be swapped for a scripted fake in
// unit tests.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// =============================================================================
// COMMAND RUNNER
// =============================================================================

// RunResult holds the captured outcome of one engine invocation.
type RunResult struct {
	// Stdout is the captured standard output
	Stdout string

	// Stderr is the captured standard error
	Stderr string

	// ExitCode is the process exit code
	ExitCode int

	// Duration is how long the invocation took
	Duration time.Duration

	// Command is the full command line (for diagnostics)
	Command string
}

// CommandRunner executes one engine entry point with the given argument list.
//
// # Description
//
// The first element of argv is the program (or entry-point script); the rest
// are its arguments. Implementations must run the command to completion and
// return a non-nil error when the command could not be started or exited
// non-zero. The returned RunResult is populated even on failure so callers
// can attach captured stderr to their own errors.
//
// This is the harness's only boundary to the engine under test. Tests
// substitute a scripted implementation; production use wraps os/exec.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (*RunResult, error)
}

// ExecRunner runs engine entry points as real subprocesses.
type ExecRunner struct {
	// WorkDir is the working directory for invocations (inherited if empty)
	WorkDir string

	// Env is additional environment variables to set
	Env map[string]string

	// Timeout bounds a single invocation (no timeout if zero)
	Timeout time.Duration
}

// Run executes argv and captures its output.
//
// # Inputs
//
//   - ctx: Cancels the subprocess when done
//   - argv: Program followed by its arguments
//
// # Outputs
//
//   - *RunResult: Captured stdout/stderr, exit code, duration (always non-nil
//     once the process was started)
//   - error: Non-nil if the process could not start or exited non-zero; the
//     error message carries the captured stderr
func (r *ExecRunner) Run(ctx context.Context, argv []string) (*RunResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argument list")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.WorkDir
	cmd.Env = os.Environ()
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Command:  strings.Join(argv, " "),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%s: exit code %d\nstderr: %s",
				argv[0], result.ExitCode, result.Stderr)
		}
		return result, fmt.Errorf("running %s: %w", argv[0], err)
	}

	return result, nil
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Entrypoints holds the argv prefixes for the engine's CLI entry points.
//
// Each prefix is prepended to the stage-specific arguments. The defaults
// target an installed sockeye distribution; override them to run via
// "python -m sockeye.translate" or a pinned virtualenv.
type Entrypoints struct {
	Train         []string `yaml:"train"`
	Translate     []string `yaml:"translate"`
	Score         []string `yaml:"score"`
	PrepareData   []string `yaml:"prepare_data"`
	LexiconCreate []string `yaml:"lexicon_create"`
}

// DefaultEntrypoints returns the standard sockeye console scripts.
func DefaultEntrypoints() Entrypoints {
	return Entrypoints{
		Train:         []string{"sockeye-train"},
		Translate:     []string{"sockeye-translate"},
		Score:         []string{"sockeye-score"},
		PrepareData:   []string{"sockeye-prepare-data"},
		LexiconCreate: []string{"sockeye-lexicon", "create"},
	}
}

// argv builds a full argument list from an entry-point prefix and arguments.
func argv(entry []string, args ...string) []string {
	out := make([]string, 0, len(entry)+len(args))
	out = append(out, entry...)
	out = append(out, args...)
	return out
}
