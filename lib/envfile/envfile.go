// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package envfile materializes the bot's secret configuration as a
// dotenv file on the deployment host. The file is fully overwritten on
// every deployment — its content afterwards is exactly the rendering
// of the current secret mapping, with no residue from prior runs.
//
// The write is atomic from the reader's perspective: content streams
// into a temporary file next to the destination and lands via mv, so
// the bot can never observe a partially written file.
package envfile

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/addtheletters/mid-bot/lib/remote"
)

// WriteError reports a secret materialization failure: an invalid key
// or value at render time, a missing destination directory, or denied
// permissions on the deployment host.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing secrets to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// keyPattern is the set of names dotenv loaders agree on. Anything
// else risks being reassembled differently by the consumer.
var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Render produces the dotenv content for the secret mapping: one
// KEY=VALUE line per entry, keys sorted for a deterministic file.
//
// Keys must be valid dotenv identifiers and values must not contain
// newlines or NUL bytes — a value with a newline would silently become
// a second, attacker-chosen line. '=' inside values is fine; dotenv
// splits on the first one.
func Render(secrets map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(secrets))
	for key := range secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var content bytes.Buffer
	for _, key := range keys {
		if !keyPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid secret key %q", key)
		}
		value := secrets[key]
		if strings.ContainsAny(value, "\n\x00") {
			return nil, fmt.Errorf("secret %s: value contains a newline or NUL byte", key)
		}
		fmt.Fprintf(&content, "%s=%s\n", key, value)
	}
	return content.Bytes(), nil
}

// Write renders the secret mapping and overwrites destPath on the
// deployment host. The destination directory must already exist. The
// file is created with mode 0600 (via umask) and replaces any previous
// content in a single rename.
func Write(ctx context.Context, runner remote.Runner, secrets map[string]string, destPath string) error {
	content, err := Render(secrets)
	if err != nil {
		return &WriteError{Path: destPath, Err: err}
	}

	temporary := destPath + ".tmp"
	script := fmt.Sprintf("umask 077 && cat > %s && mv %s %s",
		remote.Quote(temporary), remote.Quote(temporary), remote.Quote(destPath))
	command := remote.Command{
		Name:  "sh",
		Args:  []string{"-c", script},
		Stdin: bytes.NewReader(content),
	}

	if _, err := runner.Run(ctx, command); err != nil {
		return &WriteError{Path: destPath, Err: err}
	}
	return nil
}
