// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitsync moves the remote working copy of the bot source to
// an exact target revision. All git commands target the working copy
// directory via the -C flag, which every Synchronizer method injects —
// there is no default directory, so a command can never land in the
// wrong checkout.
//
// The policy is pristine-or-fail: the deployment working copy is owned
// by the deployment pipeline, so local modifications are a fatal
// misconfiguration. No stashing, no merging.
package gitsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/addtheletters/mid-bot/lib/remote"
)

// SyncError reports a failed revision synchronization: the revision
// does not exist after fetching, the working copy has local
// modifications, or an underlying git command failed.
type SyncError struct {
	Revision string
	Reason   string
	Err      error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync to %s: %s: %v", e.Revision, e.Reason, e.Err)
	}
	return fmt.Sprintf("sync to %s: %s", e.Revision, e.Reason)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Synchronizer targets the git working copy at a specific directory on
// the deployment host.
type Synchronizer struct {
	runner remote.Runner
	dir    string
	remote string
}

// NewSynchronizer returns a Synchronizer for the working copy at dir,
// fetching from remoteName (normally "origin").
func NewSynchronizer(runner remote.Runner, dir, remoteName string) *Synchronizer {
	if remoteName == "" {
		remoteName = "origin"
	}
	return &Synchronizer{runner: runner, dir: dir, remote: remoteName}
}

// run executes a git command against the working copy and returns
// trimmed stdout. Stderr surfaces through the runner's error.
func (s *Synchronizer) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", s.dir}, args...)
	result, err := s.runner.Run(ctx, remote.Cmd("git", full...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// SyncTo fetches from the configured upstream and detaches the working
// copy's HEAD at revision. Postcondition on success: Head() returns
// exactly the commit the revision resolves to — the deployment is
// pinned, never "whatever was latest".
func (s *Synchronizer) SyncTo(ctx context.Context, revision string) error {
	if _, err := s.run(ctx, "fetch", "--tags", s.remote); err != nil {
		return &SyncError{Revision: revision, Reason: "fetching " + s.remote, Err: err}
	}

	// Resolve before touching the working copy so an unknown revision
	// fails without any mutation.
	if _, err := s.run(ctx, "rev-parse", "--verify", "--quiet", revision+"^{commit}"); err != nil {
		return &SyncError{Revision: revision, Reason: "revision not found after fetch", Err: err}
	}

	status, err := s.run(ctx, "status", "--porcelain")
	if err != nil {
		return &SyncError{Revision: revision, Reason: "checking working copy state", Err: err}
	}
	if status != "" {
		return &SyncError{Revision: revision,
			Reason: fmt.Sprintf("working copy %s has local modifications:\n%s", s.dir, status)}
	}

	if _, err := s.run(ctx, "checkout", "--detach", revision); err != nil {
		return &SyncError{Revision: revision, Reason: "checkout", Err: err}
	}
	return nil
}

// Head returns the commit hash the working copy is currently at.
func (s *Synchronizer) Head(ctx context.Context) (string, error) {
	head, err := s.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading HEAD of %s: %w", s.dir, err)
	}
	return head, nil
}

// Resolve returns the commit hash a revision expression points at,
// without modifying the working copy.
func (s *Synchronizer) Resolve(ctx context.Context, revision string) (string, error) {
	commit, err := s.run(ctx, "rev-parse", "--verify", "--quiet", revision+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving %q in %s: %w", revision, s.dir, err)
	}
	return commit, nil
}
