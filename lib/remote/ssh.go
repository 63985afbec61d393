// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// defaultConnectTimeout bounds the TCP dial and SSH handshake when the
// config does not specify its own timeout.
const defaultConnectTimeout = 30 * time.Second

// ClientConfig carries everything needed to reach the deployment host.
// It is passed by value and held only for the lifetime of the client —
// no credential material or trust configuration is written into the
// user's profile. Key and known_hosts data are in-memory byte slices;
// the caller decides where they come from.
type ClientConfig struct {
	// Address is the SSH endpoint as host:port.
	Address string

	// User is the login identity on the deployment host.
	User string

	// PrivateKey is the PEM-encoded private key used for authentication.
	PrivateKey []byte

	// KnownHosts is the known_hosts data used to verify the host key.
	// Required unless InsecureHostKey is set.
	KnownHosts []byte

	// InsecureHostKey disables host key verification. Only acceptable
	// for throwaway test hosts.
	InsecureHostKey bool

	// ConnectTimeout bounds the TCP dial and SSH handshake.
	// Zero means defaultConnectTimeout.
	ConnectTimeout time.Duration
}

// ConfigError reports a transport that could not be configured or
// established: malformed key material, unusable known_hosts data, or a
// failed connection handshake. The pipeline treats it as fatal — no
// deployment step can run without a transport.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Client executes commands on the deployment host over a single SSH
// connection. Each Run opens a fresh SSH session (channel) on that
// connection, so the TCP handshake cost is paid once per deployment.
type Client struct {
	address string
	client  *ssh.Client
}

// Dial connects and authenticates eagerly, so configuration problems
// surface before the pipeline touches the remote host. Returns a
// *ConfigError on any failure.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	signer, err := ssh.ParsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, &ConfigError{Op: "parsing private key", Err: err}
	}

	hostKeyCallback, err := hostKeyPolicy(config)
	if err != nil {
		return nil, err
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	connection, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, &ConfigError{Op: fmt.Sprintf("dialing %s", config.Address), Err: err}
	}

	sshConnection, channels, requests, err := ssh.NewClientConn(connection, config.Address, sshConfig)
	if err != nil {
		connection.Close()
		return nil, &ConfigError{Op: fmt.Sprintf("ssh handshake with %s", config.Address), Err: err}
	}

	return &Client{
		address: config.Address,
		client:  ssh.NewClient(sshConnection, channels, requests),
	}, nil
}

// hostKeyPolicy builds the host key verification callback from the
// config. known_hosts data is parsed via a private temporary file
// because x/crypto's knownhosts package only accepts file paths; the
// file is removed before this function returns.
func hostKeyPolicy(config ClientConfig) (ssh.HostKeyCallback, error) {
	if config.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if len(config.KnownHosts) == 0 {
		return nil, &ConfigError{Op: "host key policy", Err: errors.New("no known_hosts data and InsecureHostKey not set")}
	}

	file, err := os.CreateTemp("", "mid-deploy-knownhosts-*")
	if err != nil {
		return nil, &ConfigError{Op: "staging known_hosts", Err: err}
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := file.Chmod(0600); err != nil {
		return nil, &ConfigError{Op: "staging known_hosts", Err: err}
	}
	if _, err := file.Write(config.KnownHosts); err != nil {
		return nil, &ConfigError{Op: "staging known_hosts", Err: err}
	}

	callback, err := knownhosts.New(file.Name())
	if err != nil {
		return nil, &ConfigError{Op: "parsing known_hosts", Err: err}
	}
	return callback, nil
}

// Run executes the command on the deployment host and captures its
// output. A non-zero exit returns the populated Result alongside a
// wrapped *ExitError; transport failures return a zero Result.
func (c *Client) Run(ctx context.Context, command Command) (Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("opening ssh session on %s: %w", c.address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	session.Stdin = command.Stdin

	// Tear the session down if the caller's context expires mid-command.
	// Closing the session unblocks Run below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	err = session.Run(command.String())
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s on %s: %w", command.Name, c.address, ctx.Err())
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, fmt.Errorf("%s on %s: %w", command.Name, c.address,
				&ExitError{Command: command.Name, ExitCode: result.ExitCode, Stderr: result.Stderr})
		}
		return result, fmt.Errorf("%s on %s: %w", command.Name, c.address, err)
	}
	return result, nil
}

// Close tears down the SSH connection. Sessions started on the host
// (tmux) are unaffected — that detachment is the whole point.
func (c *Client) Close() error {
	return c.client.Close()
}
