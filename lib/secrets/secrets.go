// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets loads the secret bundle a deployment injects into
// the bot: dotenv-style KEY=VALUE files, optionally age-encrypted so
// the bundle can live in version control or CI configuration without
// exposing the bot token. Values are opaque to the pipeline and are
// never logged.
package secrets

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// ParseEnv parses dotenv content: one KEY=VALUE per line, blank lines
// and #-comments ignored, values split on the first '='. Duplicate
// keys are an error rather than a silent last-one-wins.
func ParseEnv(data []byte) (map[string]string, error) {
	secrets := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: no '=' separator", lineNumber)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNumber)
		}
		if _, exists := secrets[key]; exists {
			return nil, fmt.Errorf("line %d: duplicate key %s", lineNumber, key)
		}
		secrets[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading env data: %w", err)
	}
	return secrets, nil
}

// LoadFile reads a secret bundle from path. Age-encrypted bundles
// (binary or ASCII-armored) are detected by their header and decrypted
// with the X25519 identity file at identityPath; plain files are
// parsed directly. identityPath is only required for encrypted
// bundles.
func LoadFile(path, identityPath string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	if encrypted(data) {
		data, err = decrypt(data, identityPath)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", path, err)
		}
	}

	secrets, err := ParseEnv(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return secrets, nil
}

// RequireKeys verifies that every named key is present and non-empty.
// Missing keys are reported together so a misconfigured bundle is
// fixed in one round trip.
func RequireKeys(secrets map[string]string, keys ...string) error {
	var missing []string
	for _, key := range keys {
		if secrets[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("secrets bundle is missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// encrypted reports whether data is an age ciphertext, in either the
// binary or the ASCII-armored format.
func encrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte("age-encryption.org/v1")) ||
		bytes.HasPrefix(bytes.TrimSpace(data), []byte(armor.Header))
}

// decrypt decrypts an age ciphertext using the identities in the file
// at identityPath.
func decrypt(ciphertext []byte, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("bundle is age-encrypted but no identity file was given")
	}

	identityData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(identityData))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", identityPath, err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(bytes.NewReader(bytes.TrimSpace(ciphertext)))
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted bundle: %w", err)
	}
	return plaintext, nil
}
