// Copyright 2026 The mid-bot Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
)

func TestParseEnv(t *testing.T) {
	t.Parallel()

	data := []byte(`# mid-bot secrets
DISCORD_TOKEN=token-abc

OPENAI_API_KEY=sk-1=2=3
`)
	secrets, err := ParseEnv(data)
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	if secrets["DISCORD_TOKEN"] != "token-abc" {
		t.Errorf("DISCORD_TOKEN = %q", secrets["DISCORD_TOKEN"])
	}
	if secrets["OPENAI_API_KEY"] != "sk-1=2=3" {
		t.Errorf("OPENAI_API_KEY = %q, want value split on first '='", secrets["OPENAI_API_KEY"])
	}
	if len(secrets) != 2 {
		t.Errorf("len = %d, want 2", len(secrets))
	}
}

func TestParseEnvRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	_, err := ParseEnv([]byte("A=1\nA=2\n"))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("ParseEnv = %v, want duplicate-key error", err)
	}
}

func TestParseEnvRejectsMissingSeparator(t *testing.T) {
	t.Parallel()

	_, err := ParseEnv([]byte("JUSTAWORD\n"))
	if err == nil {
		t.Fatal("ParseEnv accepted a line with no '='")
	}
}

func TestLoadFilePlain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.env")
	if err := os.WriteFile(path, []byte("DISCORD_TOKEN=abc\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	secrets, err := LoadFile(path, "")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if secrets["DISCORD_TOKEN"] != "abc" {
		t.Errorf("DISCORD_TOKEN = %q", secrets["DISCORD_TOKEN"])
	}
}

// encryptBundle encrypts plaintext to the identity's recipient,
// optionally ASCII-armored, and returns the ciphertext.
func encryptBundle(t *testing.T, identity *age.X25519Identity, plaintext string, armored bool) []byte {
	t.Helper()

	var ciphertext bytes.Buffer
	var sink io.Writer = &ciphertext
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&ciphertext)
		sink = armorWriter
	}

	writer, err := age.Encrypt(sink, identity.Recipient())
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := writer.Write([]byte(plaintext)); err != nil {
		t.Fatalf("writing plaintext: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing encryptor: %v", err)
	}
	if armored {
		if err := armorWriter.Close(); err != nil {
			t.Fatalf("closing armor: %v", err)
		}
	}
	return ciphertext.Bytes()
}

func TestLoadFileEncrypted(t *testing.T) {
	t.Parallel()

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	dir := t.TempDir()
	identityPath := filepath.Join(dir, "identity.txt")
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}

	for _, armored := range []bool{false, true} {
		bundlePath := filepath.Join(dir, "secrets.env.age")
		ciphertext := encryptBundle(t, identity, "DISCORD_TOKEN=abc\nOPENAI_API_KEY=sk-9\n", armored)
		if err := os.WriteFile(bundlePath, ciphertext, 0600); err != nil {
			t.Fatalf("writing bundle: %v", err)
		}

		secrets, err := LoadFile(bundlePath, identityPath)
		if err != nil {
			t.Fatalf("LoadFile(armored=%v): %v", armored, err)
		}
		if secrets["DISCORD_TOKEN"] != "abc" || secrets["OPENAI_API_KEY"] != "sk-9" {
			t.Errorf("armored=%v: decrypted secrets = %v", armored, secrets)
		}
	}
}

func TestLoadFileEncryptedWithoutIdentity(t *testing.T) {
	t.Parallel()

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "secrets.env.age")
	ciphertext := encryptBundle(t, identity, "DISCORD_TOKEN=abc\n", false)
	if err := os.WriteFile(bundlePath, ciphertext, 0600); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}

	_, err = LoadFile(bundlePath, "")
	if err == nil || !strings.Contains(err.Error(), "identity") {
		t.Fatalf("LoadFile = %v, want missing-identity error", err)
	}
}

func TestRequireKeys(t *testing.T) {
	t.Parallel()

	secrets := map[string]string{"DISCORD_TOKEN": "abc", "EMPTY": ""}

	if err := RequireKeys(secrets, "DISCORD_TOKEN"); err != nil {
		t.Errorf("RequireKeys(present) = %v", err)
	}

	err := RequireKeys(secrets, "DISCORD_TOKEN", "EMPTY", "OPENAI_API_KEY")
	if err == nil {
		t.Fatal("RequireKeys accepted missing keys")
	}
	if !strings.Contains(err.Error(), "EMPTY") || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error = %v, want both missing keys reported together", err)
	}
}
