// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// localRunner executes commands on the local machine via os/exec. It
// exists for two callers: tests, which exercise the deployment steps
// against real local git repositories and a real isolated tmux server,
// and --local dry runs of the pipeline.
type localRunner struct{}

// NewLocalRunner returns a Runner that executes commands locally.
func NewLocalRunner() Runner {
	return localRunner{}
}

func (localRunner) Run(ctx context.Context, command Command) (Result, error) {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = command.Stdin

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%s: %w", command.Name,
				&ExitError{Command: command.Name, ExitCode: result.ExitCode, Stderr: result.Stderr})
		}
		return result, fmt.Errorf("%s: %w", command.Name, err)
	}
	return result, nil
}
