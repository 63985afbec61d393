// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/addtheletters/mid-bot/lib/remote"
	"github.com/addtheletters/mid-bot/lib/session"
	"github.com/addtheletters/mid-bot/lib/testutil"
	"github.com/addtheletters/mid-bot/lib/trigger"
)

// fixture is a complete local deployment target: an origin repository,
// a working-copy clone, and an isolated tmux server. Deployments run
// through the local runner against real git and real tmux.
type fixture struct {
	runner      remote.Runner
	originDir   string
	workDir     string
	socketPath  string
	registry    *session.Registry
	sessionName string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	f := &fixture{
		runner:      remote.NewLocalRunner(),
		socketPath:  filepath.Join(testutil.SocketDir(t), "tmux.sock"),
		sessionName: testutil.UniqueID("deploy"),
	}
	f.registry = session.NewRegistry(f.runner, f.socketPath, "/dev/null")

	base := t.TempDir()
	f.originDir = filepath.Join(base, "origin")
	f.workDir = filepath.Join(base, "work")

	if err := os.Mkdir(f.originDir, 0755); err != nil {
		t.Fatalf("mkdir origin: %v", err)
	}
	f.git(t, f.originDir, "init", "-b", "main")

	// A minimal bot checkout: manifest plus a start script that idles.
	writeScript(t, filepath.Join(f.originDir, "scripts", "run.sh"),
		"#!/bin/sh\nexec sleep infinity\n")
	if err := os.WriteFile(filepath.Join(f.originDir, "requirements.txt"), []byte("discord.py\n"), 0644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	f.git(t, f.originDir, "add", ".")
	f.git(t, f.originDir, "commit", "-m", "initial")

	command := exec.Command("git", "clone", f.originDir, f.workDir)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git clone: %v\n%s", err, output)
	}

	t.Cleanup(func() {
		kill := exec.Command("tmux", "-S", f.socketPath, "kill-server")
		_ = kill.Run()
	})
	return f
}

func (f *fixture) git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	full := append([]string{"-C", dir,
		"-c", "user.name=Test", "-c", "user.email=test@test.local",
		"-c", "commit.gpgsign=false"}, args...)
	command := exec.Command("git", full...)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// commit adds a commit to origin and returns its hash.
func (f *fixture) commit(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(f.originDir, "CHANGES")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	f.git(t, f.originDir, "add", "CHANGES")
	f.git(t, f.originDir, "commit", "-m", "update")
	return f.git(t, f.originDir, "rev-parse", "HEAD")
}

func (f *fixture) head(t *testing.T) string {
	t.Helper()
	return f.git(t, f.workDir, "rev-parse", "HEAD")
}

// pipeline builds a Pipeline against the fixture. Python is "true" so
// the install step exercises its command plumbing without a network
// pip run.
func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()

	pipeline, err := New(Options{
		Dial: func(ctx context.Context) (remote.Runner, error) {
			return f.runner, nil
		},
		WorkingCopy:    f.workDir,
		Python:         "true",
		TmuxSocket:     f.socketPath,
		TmuxConfigFile: "/dev/null",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pipeline
}

func (f *fixture) request(revision string, secrets map[string]string) Request {
	return Request{
		Trigger:     trigger.Manual,
		Revision:    revision,
		SessionName: f.sessionName,
		Secrets:     secrets,
	}
}

func readEnvFile(t *testing.T, workDir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workDir, ".env"))
	if err != nil {
		t.Fatalf("reading env file: %v", err)
	}
	return string(data)
}

func TestFirstDeployment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	revision := f.head(t)
	pipeline := f.pipeline(t)

	secrets := map[string]string{
		"DISCORD_TOKEN":  "token-one",
		"OPENAI_API_KEY": "key-one",
	}
	if err := pipeline.Run(context.Background(), f.request(revision, secrets)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !f.registry.Has(context.Background(), f.sessionName) {
		t.Error("session not running after deployment")
	}
	if head := f.head(t); head != revision {
		t.Errorf("working copy at %s, want %s", head, revision)
	}
	want := "DISCORD_TOKEN=token-one\nOPENAI_API_KEY=key-one\n"
	if got := readEnvFile(t, f.workDir); got != want {
		t.Errorf("env file = %q, want %q", got, want)
	}
}

func TestRedeploymentReplacesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.head(t)
	pipeline := f.pipeline(t)

	secrets := map[string]string{
		"DISCORD_TOKEN":  "token-one",
		"OPENAI_API_KEY": "key-one",
	}
	if err := pipeline.Run(context.Background(), f.request(first, secrets)); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// New upstream commit, rotated secret, same session name.
	second := f.commit(t, "two\n")
	secrets["DISCORD_TOKEN"] = "token-two"
	if err := pipeline.Run(context.Background(), f.request(second, secrets)); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if !f.registry.Has(context.Background(), f.sessionName) {
		t.Error("session not running after redeployment")
	}
	if head := f.head(t); head != second {
		t.Errorf("working copy at %s, want %s", head, second)
	}
	want := "DISCORD_TOKEN=token-two\nOPENAI_API_KEY=key-one\n"
	if got := readEnvFile(t, f.workDir); got != want {
		t.Errorf("env file = %q, want %q", got, want)
	}
}

func TestUnknownRevisionLeavesHostUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pipeline := f.pipeline(t)

	err := pipeline.Run(context.Background(),
		f.request("0000000000000000000000000000000000000000", map[string]string{"DISCORD_TOKEN": "t"}))
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Run = %v, want *StepError", err)
	}
	if stepErr.Step != StepSync {
		t.Errorf("Step = %s, want sync", stepErr.Step)
	}

	if f.registry.Has(context.Background(), f.sessionName) {
		t.Error("session running after failed deployment")
	}
	if _, err := os.Stat(filepath.Join(f.workDir, ".env")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("env file written despite sync failure: %v", err)
	}
}

func TestDeployToTaggedRevision(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tagged := f.commit(t, "release\n")
	f.git(t, f.originDir, "tag", "v1.2.3")
	pipeline := f.pipeline(t)

	secrets := map[string]string{
		"DISCORD_TOKEN":  "token",
		"OPENAI_API_KEY": "key",
	}
	if err := pipeline.Run(context.Background(), f.request("v1.2.3", secrets)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if head := f.head(t); head != tagged {
		t.Errorf("working copy at %s, want tagged commit %s", head, tagged)
	}
}

// writeScript writes an executable file, creating parent directories.
func writeScript(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
