// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for mid-bot packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets, which have a 108-byte path limit that deeply nested
// test temp directories can exceed. The test tmux servers are
// addressed by socket path, so every tmux-backed test needs one.
//
// [UniqueID] generates monotonically increasing identifiers so
// parallel tests sharing a tmux server never collide on session names.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no mid-bot-internal dependencies.
package testutil
