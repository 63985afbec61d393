// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages the named tmux session the bot runs in on
// the deployment host. tmux gives the deployment exactly what it
// needs: a detached, named execution context that keeps running after
// the triggering SSH connection closes, with name-based exclusivity
// enforced by the tmux server itself.
//
// All tmux commands go through a [Registry], which injects the -S flag
// when a dedicated server socket is configured. Tests run against an
// isolated local tmux server (short /tmp socket, -f /dev/null) so they
// can never touch a developer's personal tmux.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/addtheletters/mid-bot/lib/remote"
)

// NameInUseError reports a Start against a session name that is
// already running. The pipeline treats this as fatal: it means the
// earlier stop step silently failed to terminate the old instance,
// which must be surfaced rather than masked.
type NameInUseError struct {
	Name string
}

func (e *NameInUseError) Error() string {
	return fmt.Sprintf("session %q already running", e.Name)
}

// Registry models the tmux sessions on the deployment host. At most
// one session per name can exist at any instant — tmux enforces that,
// and Registry maps the "duplicate session" failure to a typed error.
type Registry struct {
	runner     remote.Runner
	socketPath string // optional dedicated server socket, injected as -S
	configFile string // optional -f on new-session; tests pass /dev/null

	// startMutex serializes Start's check-then-create so two Starts
	// from this registry can never both pass the existence check.
	startMutex sync.Mutex
}

// NewRegistry returns a Registry issuing tmux commands through runner.
// socketPath selects a dedicated tmux server (empty = default server).
// configFile is passed via -f when the server is started by
// new-session; tests pass "/dev/null" to keep ~/.tmux.conf out.
func NewRegistry(runner remote.Runner, socketPath, configFile string) *Registry {
	return &Registry{
		runner:     runner,
		socketPath: socketPath,
		configFile: configFile,
	}
}

// tmuxCommand builds a tmux invocation with the -S flag injected.
func (r *Registry) tmuxCommand(args ...string) remote.Command {
	var full []string
	if r.socketPath != "" {
		full = append(full, "-S", r.socketPath)
	}
	full = append(full, args...)
	return remote.Cmd("tmux", full...)
}

// Stop terminates the named session if it exists. A session that was
// already gone (or a tmux server that was never started) is a normal
// condition on the first deployment, not an error — those outcomes
// return nil. Anything else (permission problems, a broken tmux
// install) is a real error; the pipeline logs it but still advances.
func (r *Registry) Stop(ctx context.Context, name string) error {
	_, err := r.runner.Run(ctx, r.tmuxCommand("kill-session", "-t", "="+name))
	if err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) && sessionAbsent(exitErr.Stderr) {
			return nil
		}
		return fmt.Errorf("stopping session %q: %w", name, err)
	}
	return nil
}

// Has reports whether a session with the given name exists. Returns
// false when the tmux server is not running.
func (r *Registry) Has(ctx context.Context, name string) bool {
	_, err := r.runner.Run(ctx, r.tmuxCommand("has-session", "-t", "="+name))
	return err == nil
}

// Start creates a detached session with the given name running the
// command. The session outlives the SSH connection that created it.
// Fails with *NameInUseError if a session of that name is already
// running — the existence check and creation are serialized within
// this registry, and tmux's own duplicate-session rejection covers
// races with anything else.
func (r *Registry) Start(ctx context.Context, name string, command remote.Command) error {
	r.startMutex.Lock()
	defer r.startMutex.Unlock()

	if r.Has(ctx, name) {
		return &NameInUseError{Name: name}
	}

	args := make([]string, 0, len(command.Args)+8)
	if r.configFile != "" {
		args = append(args, "-f", r.configFile)
	}
	if r.socketPath != "" {
		args = append(args, "-S", r.socketPath)
	}
	args = append(args, "new-session", "-d", "-s", name, command.Name)
	args = append(args, command.Args...)

	if _, err := r.runner.Run(ctx, remote.Cmd("tmux", args...)); err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "duplicate session") {
			return &NameInUseError{Name: name}
		}
		return fmt.Errorf("starting session %q: %w", name, err)
	}
	return nil
}

// sessionAbsent reports whether tmux stderr output indicates the
// session (or the whole server) was already gone.
func sessionAbsent(stderr string) bool {
	return strings.Contains(stderr, "can't find session") ||
		strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "no current target")
}
