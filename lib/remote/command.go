// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Command is a structured remote procedure: a program name and its
// argument list. Transports that hand the command to a remote shell
// (SSH does) quote each element individually, so callers never build
// shell strings themselves.
type Command struct {
	// Name is the program to run, resolved by the remote PATH.
	Name string

	// Args are the program arguments, passed verbatim.
	Args []string

	// Stdin, when non-nil, is streamed to the command's standard input.
	Stdin io.Reader
}

// Cmd is a convenience constructor for commands without stdin.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command as a single shell line with every element
// single-quoted. This is the form handed to the remote shell by the
// SSH transport.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Name))
	for _, arg := range c.Args {
		parts = append(parts, Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Result captures the outcome of a completed remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands on the deployment host. Implementations
// return a *ExitError (wrapped) when the command itself exits non-zero,
// and other error types when the transport fails before or during
// execution.
type Runner interface {
	Run(ctx context.Context, command Command) (Result, error)
}

// ExitError reports a command that ran to completion with a non-zero
// exit status. Stderr is included in the message because remote tools
// (git, pip, tmux) put their diagnostics there.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d (%s)", e.Command, e.ExitCode, stderr)
}

// Quote wraps s in single quotes, escaping any embedded single quote
// with the standard '\'' sequence. The result is safe to embed in a
// POSIX shell command line. Plain words pass through unquoted.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\|&;<>()*?[]#~%{}!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
