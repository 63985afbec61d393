// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It centralizes
// the raw stderr I/O that happens before the structured logger exists:
// fatal error reporting and process exit after an unrecoverable error
// in main().
package process
