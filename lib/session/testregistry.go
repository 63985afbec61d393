// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/addtheletters/mid-bot/lib/remote"
	"github.com/addtheletters/mid-bot/lib/testutil"
)

// NewTestRegistry creates a Registry backed by an isolated local tmux
// server. The server:
//   - Uses a short /tmp socket path to stay within the 108-byte Unix
//     socket limit
//   - Passes -f /dev/null so the developer's ~/.tmux.conf is never
//     loaded
//   - Keeps a _guard session running "sleep infinity" alive, because a
//     tmux server exits when its last session ends
//   - Registers t.Cleanup to kill the whole server when the test
//     completes
//
// All test tmux activity MUST go through the returned Registry: a bare
// "tmux" command without -S targets the default server, which may be
// the very session the test runner lives in.
func NewTestRegistry(t *testing.T) *Registry {
	t.Helper()

	socketPath := filepath.Join(testutil.SocketDir(t), "tmux.sock")
	registry := NewRegistry(remote.NewLocalRunner(), socketPath, "/dev/null")

	if err := registry.Start(context.Background(), "_guard", remote.Cmd("sleep", "infinity")); err != nil {
		t.Fatalf("starting tmux test server: %v", err)
	}

	t.Cleanup(func() {
		_, _ = registry.runner.Run(context.Background(),
			registry.tmuxCommand("kill-server"))
	})

	return registry
}
