// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy is the deployment pipeline: the ordered sequence of
// steps that replaces the running bot on the deployment host with one
// built from an exact target revision.
//
// The sequence is transport, stop, sync, install, secrets, start.
// Every step is fatal on failure except stop, whose errors are logged
// and absorbed — the very first deployment has no session to stop, and
// that must not fail the run. There are no retries and no rollback: a
// failed deployment may leave the host with the old session stopped
// and no new one running, and the recovery is to run the pipeline
// again. The pipeline is safe to re-run, not safe to abort.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/addtheletters/mid-bot/lib/envfile"
	"github.com/addtheletters/mid-bot/lib/gitsync"
	"github.com/addtheletters/mid-bot/lib/manifest"
	"github.com/addtheletters/mid-bot/lib/remote"
	"github.com/addtheletters/mid-bot/lib/session"
	"github.com/addtheletters/mid-bot/lib/trigger"
)

// defaultStepTimeout bounds each step when Options does not specify
// one. Remote operations can hang indefinitely on a wedged host; the
// pipeline must not.
const defaultStepTimeout = 5 * time.Minute

// Step identifies a pipeline step, in execution order.
type Step int

const (
	StepTransport Step = iota
	StepStop
	StepSync
	StepInstall
	StepSecrets
	StepStart
)

func (s Step) String() string {
	switch s {
	case StepTransport:
		return "transport"
	case StepStop:
		return "stop"
	case StepSync:
		return "sync"
	case StepInstall:
		return "install"
	case StepSecrets:
		return "secrets"
	case StepStart:
		return "start"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StepError is the pipeline's terminal failure state: the step that
// failed plus the underlying cause. Steps after the failed one never
// ran.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deploy failed at step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Request describes one deployment. It is immutable for the duration
// of the run and not persisted anywhere.
type Request struct {
	// Trigger records what initiated the deployment.
	Trigger trigger.Kind

	// Revision is the exact target revision for the working copy.
	Revision string

	// SessionName is the tmux session the bot runs in. It must be
	// stable across deployments — it is the key that pairs this run's
	// start with the next run's stop.
	SessionName string

	// Secrets is the bundle materialized into the env file. Values are
	// opaque and never logged.
	Secrets map[string]string
}

// DialFunc establishes the command channel to the deployment host.
// The pipeline calls it exactly once, as its first step, and closes
// the returned runner (when it is an io.Closer) at the end of the run.
type DialFunc func(ctx context.Context) (remote.Runner, error)

// Options configures a Pipeline.
type Options struct {
	// Dial establishes the transport. Required.
	Dial DialFunc

	// WorkingCopy is the absolute path of the bot checkout on the
	// deployment host. Required.
	WorkingCopy string

	// Manifest is the dependency manifest path, relative to the
	// working copy. Default "requirements.txt".
	Manifest string

	// EntryPoint is the bot's start script, relative to the working
	// copy. Default "scripts/run.sh".
	EntryPoint string

	// EnvFile is the secret file path, relative to the working copy.
	// Default ".env".
	EnvFile string

	// Python is the interpreter used for dependency installation.
	// Default "python3".
	Python string

	// GitRemote is the upstream fetched before pinning the revision.
	// Default "origin".
	GitRemote string

	// TmuxSocket selects a dedicated tmux server socket on the host.
	// Empty uses the default server.
	TmuxSocket string

	// TmuxConfigFile is passed to tmux via -f when the server starts.
	// Tests use "/dev/null".
	TmuxConfigFile string

	// StepTimeout bounds each individual step. Default 5m.
	StepTimeout time.Duration

	// Logger receives per-step progress. Default discards.
	Logger *slog.Logger
}

// Pipeline executes deployments. One Run per Request; only one run
// against a given host and session name should be in flight at a time
// (trigger serialization is the invoking environment's job).
type Pipeline struct {
	options Options
}

// New returns a Pipeline with defaults applied.
func New(options Options) (*Pipeline, error) {
	if options.Dial == nil {
		return nil, errors.New("deploy: Options.Dial is required")
	}
	if options.WorkingCopy == "" {
		return nil, errors.New("deploy: Options.WorkingCopy is required")
	}
	if options.Manifest == "" {
		options.Manifest = "requirements.txt"
	}
	if options.EntryPoint == "" {
		options.EntryPoint = "scripts/run.sh"
	}
	if options.EnvFile == "" {
		options.EnvFile = ".env"
	}
	if options.Python == "" {
		options.Python = "python3"
	}
	if options.GitRemote == "" {
		options.GitRemote = "origin"
	}
	if options.StepTimeout <= 0 {
		options.StepTimeout = defaultStepTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{options: options}, nil
}

// Run executes one deployment. On failure it returns a *StepError
// naming the step that failed; steps after it never ran. The stop
// step never fails the run — its errors are logged and absorbed so
// first-time deployments (no prior session) proceed.
func (p *Pipeline) Run(ctx context.Context, request Request) error {
	if request.Revision == "" {
		return &StepError{Step: StepSync, Err: errors.New("request has no target revision")}
	}
	if request.SessionName == "" {
		return &StepError{Step: StepStart, Err: errors.New("request has no session name")}
	}

	logger := p.options.Logger.With(
		"trigger", request.Trigger.String(),
		"revision", request.Revision,
		"session", request.SessionName,
	)
	logger.Info("deployment starting")

	var runner remote.Runner
	err := p.step(ctx, logger, StepTransport, func(stepCtx context.Context) error {
		var dialErr error
		runner, dialErr = p.options.Dial(stepCtx)
		return dialErr
	})
	if err != nil {
		return err
	}
	if closer, ok := runner.(io.Closer); ok {
		defer closer.Close()
	}

	registry := session.NewRegistry(runner, p.options.TmuxSocket, p.options.TmuxConfigFile)
	synchronizer := gitsync.NewSynchronizer(runner, p.options.WorkingCopy, p.options.GitRemote)
	installer := manifest.NewInstaller(runner, p.options.WorkingCopy, p.options.Python)

	// Best-effort stop. Absence of the session is handled inside the
	// registry; anything else that leaks out here is unexpected but
	// still must not fail the run — it is surfaced as a warning and
	// the start step will catch a session that truly refused to die.
	stopErr := p.step(ctx, logger, StepStop, func(stepCtx context.Context) error {
		return registry.Stop(stepCtx, request.SessionName)
	})
	if stopErr != nil {
		logger.Warn("stop step failed, continuing", "error", stopErr)
	}

	err = p.step(ctx, logger, StepSync, func(stepCtx context.Context) error {
		return synchronizer.SyncTo(stepCtx, request.Revision)
	})
	if err != nil {
		return err
	}

	err = p.step(ctx, logger, StepInstall, func(stepCtx context.Context) error {
		return installer.Install(stepCtx, p.options.Manifest)
	})
	if err != nil {
		return err
	}

	err = p.step(ctx, logger, StepSecrets, func(stepCtx context.Context) error {
		return envfile.Write(stepCtx, runner, request.Secrets,
			path.Join(p.options.WorkingCopy, p.options.EnvFile))
	})
	if err != nil {
		return err
	}

	err = p.step(ctx, logger, StepStart, func(stepCtx context.Context) error {
		return registry.Start(stepCtx, request.SessionName, p.entryCommand())
	})
	if err != nil {
		return err
	}

	logger.Info("deployment complete")
	return nil
}

// step runs one pipeline step under the per-step timeout and wraps any
// failure in a *StepError.
func (p *Pipeline) step(ctx context.Context, logger *slog.Logger, step Step, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.options.StepTimeout)
	defer cancel()

	started := time.Now()
	if err := fn(stepCtx); err != nil {
		return &StepError{Step: step, Err: err}
	}
	logger.Info("step complete", "step", step.String(), "duration", time.Since(started).Round(time.Millisecond))
	return nil
}

// entryCommand builds the session command: cd into the working copy
// (the bot resolves .env and its data file relative to it), then exec
// the entry point script.
func (p *Pipeline) entryCommand() remote.Command {
	entryPoint := path.Join(p.options.WorkingCopy, p.options.EntryPoint)
	script := fmt.Sprintf("cd %s && exec %s",
		remote.Quote(p.options.WorkingCopy), remote.Quote(entryPoint))
	return remote.Cmd("sh", "-c", script)
}
