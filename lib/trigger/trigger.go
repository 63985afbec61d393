// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package trigger models what started a deployment: a manual
// invocation carrying an explicit revision, or a published release
// whose tag becomes the target revision. Release triggers are parsed
// from the GitHub release webhook payload that CI hands to the
// deployment job.
package trigger

import (
	"encoding/json"
	"fmt"
	"io"
)

// Kind identifies the deployment trigger.
type Kind int

const (
	// Manual is an operator-initiated deployment with an explicit
	// target revision.
	Manual Kind = iota

	// ReleasePublished is a deployment of a freshly published release;
	// the release tag is the target revision.
	ReleasePublished
)

func (k Kind) String() string {
	switch k {
	case Manual:
		return "manual"
	case ReleasePublished:
		return "release-published"
	default:
		return fmt.Sprintf("trigger(%d)", int(k))
	}
}

// Event is a parsed release trigger.
type Event struct {
	// Tag is the release tag name, used as the target revision.
	Tag string

	// Commitish is the release's target branch or commit, kept for
	// diagnostics. The tag is authoritative.
	Commitish string
}

// releasePayload mirrors the subset of the GitHub release webhook
// payload the deployment cares about.
type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName         string `json:"tag_name"`
		TargetCommitish string `json:"target_commitish"`
		Draft           bool   `json:"draft"`
	} `json:"release"`
}

// ParseReleaseEvent parses a GitHub release webhook payload and
// returns the deployable event. Only action "published" deploys;
// edited, deleted, and prerelease-toggled events are rejected so a
// retagged draft can never restart the bot.
func ParseReleaseEvent(r io.Reader) (Event, error) {
	var payload releasePayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return Event{}, fmt.Errorf("parsing release event: %w", err)
	}
	if payload.Action != "published" {
		return Event{}, fmt.Errorf("release event action is %q, only \"published\" deploys", payload.Action)
	}
	if payload.Release.Draft {
		return Event{}, fmt.Errorf("release %q is a draft", payload.Release.TagName)
	}
	if payload.Release.TagName == "" {
		return Event{}, fmt.Errorf("release event has no tag name")
	}
	return Event{
		Tag:       payload.Release.TagName,
		Commitish: payload.Release.TargetCommitish,
	}, nil
}
