// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for mid-deploy.
type Config struct {
	// Host configures the SSH connection to the deployment host.
	Host HostConfig `yaml:"host"`

	// Remote configures the filesystem layout on the deployment host.
	Remote RemoteConfig `yaml:"remote"`

	// Session configures the tmux session the bot runs in.
	Session SessionConfig `yaml:"session"`

	// Timeouts bound the connection handshake and each pipeline step.
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// HostConfig configures the SSH connection.
type HostConfig struct {
	// Address is the SSH endpoint as host:port.
	Address string `yaml:"address"`

	// User is the login identity on the deployment host.
	User string `yaml:"user"`

	// KeyFile is the path to the PEM private key used to authenticate.
	KeyFile string `yaml:"key_file"`

	// KnownHostsFile is the path to the known_hosts data used to
	// verify the host key. Required unless InsecureHostKey is set.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// InsecureHostKey disables host key verification. Only acceptable
	// for throwaway test hosts.
	InsecureHostKey bool `yaml:"insecure_host_key"`
}

// RemoteConfig configures the filesystem layout on the deployment
// host. Manifest, EntryPoint, and EnvFile are relative to WorkingCopy.
type RemoteConfig struct {
	// WorkingCopy is the absolute path of the bot checkout.
	WorkingCopy string `yaml:"working_copy"`

	// Manifest is the dependency manifest. Default: requirements.txt
	Manifest string `yaml:"manifest"`

	// EntryPoint is the bot's start script. Default: scripts/run.sh
	EntryPoint string `yaml:"entry_point"`

	// EnvFile is the secret file the bot reads at startup. Default: .env
	EnvFile string `yaml:"env_file"`

	// Python is the interpreter used for dependency installation.
	// Default: python3
	Python string `yaml:"python"`

	// GitRemote is the upstream fetched before pinning the target
	// revision. Default: origin
	GitRemote string `yaml:"git_remote"`
}

// SessionConfig configures the tmux session.
type SessionConfig struct {
	// Name is the session name, reused across deployments. It is the
	// exclusivity key that pairs one run's start with the next run's
	// stop, so it must be stable. Default: mid-bot
	Name string `yaml:"name"`

	// SocketPath selects a dedicated tmux server socket on the host.
	// Empty uses the default server.
	SocketPath string `yaml:"socket_path"`
}

// TimeoutConfig holds duration strings (Go time.ParseDuration syntax).
type TimeoutConfig struct {
	// Connect bounds the TCP dial and SSH handshake. Default: 30s
	Connect string `yaml:"connect"`

	// Step bounds each individual pipeline step. Default: 5m
	Step string `yaml:"step"`
}

// Default returns the default configuration. The defaults cover the
// standard mid-bot remote layout; the host section has no defaults and
// must come from the config file.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Manifest:   "requirements.txt",
			EntryPoint: "scripts/run.sh",
			EnvFile:    ".env",
			Python:     "python3",
			GitRemote:  "origin",
		},
		Session: SessionConfig{
			Name: "mid-bot",
		},
		Timeouts: TimeoutConfig{
			Connect: "30s",
			Step:    "5m",
		},
	}
}

// Load loads configuration from the MID_DEPLOY_CONFIG environment
// variable. This is the only way to load configuration without an
// explicit path — there is no discovery.
func Load() (*Config, error) {
	configPath := os.Getenv("MID_DEPLOY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MID_DEPLOY_CONFIG environment variable not set; " +
			"set it to the path of your deploy.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth — environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in local
// path fields. Remote paths are deliberately left alone — they are
// resolved by the deployment host, not this machine.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Host.KeyFile = expandVars(c.Host.KeyFile, vars)
	c.Host.KnownHostsFile = expandVars(c.Host.KnownHostsFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Host.Address == "" {
		errs = append(errs, fmt.Errorf("host.address is required"))
	}
	if c.Host.User == "" {
		errs = append(errs, fmt.Errorf("host.user is required"))
	}
	if c.Host.KeyFile == "" {
		errs = append(errs, fmt.Errorf("host.key_file is required"))
	}
	if c.Host.KnownHostsFile == "" && !c.Host.InsecureHostKey {
		errs = append(errs, fmt.Errorf("host.known_hosts_file is required unless host.insecure_host_key is set"))
	}
	if c.Remote.WorkingCopy == "" {
		errs = append(errs, fmt.Errorf("remote.working_copy is required"))
	}
	if c.Session.Name == "" {
		errs = append(errs, fmt.Errorf("session.name is required"))
	}

	if _, err := c.ConnectTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.connect: %w", err))
	}
	if _, err := c.StepTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.step: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ConnectTimeout parses the connect timeout.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeouts.Connect)
}

// StepTimeout parses the per-step timeout.
func (c *Config) StepTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeouts.Step)
}
