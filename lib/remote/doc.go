// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote provides the command channel to the deployment host.
//
// The central type is [Command]: a command name plus an argument list,
// never a free-form shell string. Arguments are quoted by the transport
// when a remote shell is involved, so revision identifiers and file
// paths can never smuggle shell metacharacters into the command line.
//
// [Runner] is the interface the rest of the deployment code depends on.
// Two implementations exist:
//
//   - [Client] -- executes commands over SSH (golang.org/x/crypto/ssh).
//     Host trust comes from known_hosts data held in memory; private
//     key material is parsed from bytes and never written anywhere.
//     One underlying SSH connection is reused for all commands.
//   - [NewLocalRunner] -- executes commands on the local machine via
//     os/exec. Used by tests (which drive real git and tmux) and by
//     --local dry runs.
//
// Exit status and captured stdout/stderr are reported via [Result].
// A non-zero exit is returned as a *[ExitError] so callers can
// distinguish "the command failed" from "the transport failed".
package remote
