// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// mid-deploy redeploys the mid-bot chat bot onto its deployment host.
//
// One invocation is one deployment attempt: stop the old tmux session
// (best-effort), pin the remote working copy to the target revision,
// install the dependency manifest, overwrite the .env secret file, and
// start a fresh detached session running the entry point. The pipeline
// is fire-and-forget after start and safe to re-run after a failure.
//
// Two trigger modes select the target revision:
//
//	mid-deploy --config deploy.yaml --secrets secrets.env --revision abc1234
//	mid-deploy --config deploy.yaml --secrets secrets.env.age --identity key.txt --release-event payload.json
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/addtheletters/mid-bot/lib/config"
	"github.com/addtheletters/mid-bot/lib/deploy"
	"github.com/addtheletters/mid-bot/lib/process"
	"github.com/addtheletters/mid-bot/lib/remote"
	"github.com/addtheletters/mid-bot/lib/secrets"
	"github.com/addtheletters/mid-bot/lib/trigger"
	"github.com/addtheletters/mid-bot/lib/version"
)

// requiredSecrets are the keys the bot cannot start without.
var requiredSecrets = []string{"DISCORD_TOKEN", "OPENAI_API_KEY"}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath       string
		secretsPath      string
		identityPath     string
		revision         string
		releaseEventPath string
		local            bool
		verbose          bool
	)

	flagSet := pflag.NewFlagSet("mid-deploy", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to deploy.yaml (default: $MID_DEPLOY_CONFIG)")
	flagSet.StringVar(&secretsPath, "secrets", "", "path to the secret bundle (dotenv, optionally age-encrypted)")
	flagSet.StringVar(&identityPath, "identity", "", "age identity file for encrypted secret bundles")
	flagSet.StringVar(&revision, "revision", "", "target revision for a manual deployment")
	flagSet.StringVar(&releaseEventPath, "release-event", "", "GitHub release webhook payload ('-' for stdin); the release tag becomes the target revision")
	flagSet.BoolVar(&local, "local", false, "run the pipeline against the local machine instead of SSH (testing)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the usual binary
	// convention.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("mid-deploy %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	request, err := buildRequest(cfg, revision, releaseEventPath, secretsPath, identityPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	stepTimeout, _ := cfg.StepTimeout()
	pipeline, err := deploy.New(deploy.Options{
		Dial:        dialFunc(cfg, local, logger),
		WorkingCopy: cfg.Remote.WorkingCopy,
		Manifest:    cfg.Remote.Manifest,
		EntryPoint:  cfg.Remote.EntryPoint,
		EnvFile:     cfg.Remote.EnvFile,
		Python:      cfg.Remote.Python,
		GitRemote:   cfg.Remote.GitRemote,
		TmuxSocket:  cfg.Session.SocketPath,
		StepTimeout: stepTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return pipeline.Run(context.Background(), request)
}

// loadConfig loads and validates the configuration, preferring the
// --config flag over the MID_DEPLOY_CONFIG environment variable.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildRequest resolves the trigger and loads the secret bundle.
func buildRequest(cfg *config.Config, revision, releaseEventPath, secretsPath, identityPath string) (deploy.Request, error) {
	request := deploy.Request{SessionName: cfg.Session.Name}

	switch {
	case revision != "" && releaseEventPath != "":
		return deploy.Request{}, fmt.Errorf("--revision and --release-event are mutually exclusive")
	case revision != "":
		request.Trigger = trigger.Manual
		request.Revision = revision
	case releaseEventPath != "":
		payload := os.Stdin
		if releaseEventPath != "-" {
			file, err := os.Open(releaseEventPath)
			if err != nil {
				return deploy.Request{}, fmt.Errorf("opening release event: %w", err)
			}
			defer file.Close()
			payload = file
		}
		event, err := trigger.ParseReleaseEvent(payload)
		if err != nil {
			return deploy.Request{}, err
		}
		request.Trigger = trigger.ReleasePublished
		request.Revision = event.Tag
	default:
		return deploy.Request{}, fmt.Errorf("one of --revision or --release-event is required")
	}

	if secretsPath == "" {
		return deploy.Request{}, fmt.Errorf("--secrets is required")
	}
	bundle, err := secrets.LoadFile(secretsPath, identityPath)
	if err != nil {
		return deploy.Request{}, err
	}
	if err := secrets.RequireKeys(bundle, requiredSecrets...); err != nil {
		return deploy.Request{}, err
	}
	request.Secrets = bundle

	return request, nil
}

// dialFunc builds the pipeline's transport step: an SSH client dialed
// from the config, or the local runner for --local runs.
func dialFunc(cfg *config.Config, local bool, logger *slog.Logger) deploy.DialFunc {
	if local {
		return func(ctx context.Context) (remote.Runner, error) {
			logger.Warn("running locally, skipping SSH")
			return remote.NewLocalRunner(), nil
		}
	}
	return func(ctx context.Context) (remote.Runner, error) {
		privateKey, err := os.ReadFile(cfg.Host.KeyFile)
		if err != nil {
			return nil, &remote.ConfigError{Op: "reading key file", Err: err}
		}
		var knownHosts []byte
		if cfg.Host.KnownHostsFile != "" {
			knownHosts, err = os.ReadFile(cfg.Host.KnownHostsFile)
			if err != nil {
				return nil, &remote.ConfigError{Op: "reading known_hosts file", Err: err}
			}
		}
		connectTimeout, _ := cfg.ConnectTimeout()
		return remote.Dial(ctx, remote.ClientConfig{
			Address:         cfg.Host.Address,
			User:            cfg.Host.User,
			PrivateKey:      privateKey,
			KnownHosts:      knownHosts,
			InsecureHostKey: cfg.Host.InsecureHostKey,
			ConnectTimeout:  connectTimeout,
		})
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `mid-deploy — redeploy mid-bot onto its deployment host.

Stops the bot's old tmux session (best-effort), pins the remote working
copy to the target revision, installs requirements, rewrites the .env
secret file, and starts a fresh detached session.

Usage:
  mid-deploy --config deploy.yaml --secrets secrets.env --revision <rev>
  mid-deploy --config deploy.yaml --secrets secrets.env.age --identity key.txt --release-event payload.json

Flags:
%s`, flagSet.FlagUsages())
}
