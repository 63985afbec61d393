// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest installs the bot's dependency manifest on the
// deployment host. The manifest format is opaque to the pipeline — it
// is whatever the bot's runtime installer (pip) accepts. Either the
// whole manifest applies or the step fails; pip provides the
// idempotency.
package manifest

import (
	"context"
	"fmt"

	"github.com/addtheletters/mid-bot/lib/remote"
)

// InstallError reports a dependency installation that exited non-zero.
type InstallError struct {
	Manifest string
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %v", e.Manifest, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Installer applies dependency manifests inside the working copy.
type Installer struct {
	runner remote.Runner
	dir    string
	python string
}

// NewInstaller returns an Installer for the working copy at dir.
// python names the interpreter used to invoke pip (normally
// "python3"), so installs land in the same environment the bot runs
// under.
func NewInstaller(runner remote.Runner, dir, python string) *Installer {
	if python == "" {
		python = "python3"
	}
	return &Installer{runner: runner, dir: dir, python: python}
}

// Install applies the manifest at manifestPath, interpreted relative
// to the working copy. Any non-zero exit from pip is an *InstallError;
// there are no partial-success semantics.
func (i *Installer) Install(ctx context.Context, manifestPath string) error {
	command := remote.Cmd(i.python,
		"-m", "pip", "install", "--requirement", manifestPath)
	// pip resolves relative requirement paths against the CWD; run
	// through sh -c with an explicit cd so the working copy is the CWD
	// regardless of the login shell's starting directory.
	wrapped := remote.Cmd("sh", "-c",
		fmt.Sprintf("cd %s && exec %s", remote.Quote(i.dir), command.String()))

	if _, err := i.runner.Run(ctx, wrapped); err != nil {
		return &InstallError{Manifest: manifestPath, Err: err}
	}
	return nil
}
