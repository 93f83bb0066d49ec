// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/zeebo/blake3"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestHashFile(t *testing.T) {
	content := []byte("hello, bundle")
	got, err := HashFile(writeFile(t, "bundle", content))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	want := blake3.Sum256(content)
	if got != want {
		t.Errorf("HashFile = %x, want %x", got, want)
	}
}

func TestHashFileEmpty(t *testing.T) {
	got, err := HashFile(writeFile(t, "empty", nil))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := blake3.Sum256(nil); got != want {
		t.Errorf("HashFile(empty) = %x, want %x", got, want)
	}
}

func TestHashFileNonexistent(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("HashFile should fail for nonexistent file")
	}
}

func TestHashFileSpansChunks(t *testing.T) {
	content := make([]byte, 3*ChunkSize+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	got, err := HashFile(writeFile(t, "large", content))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := blake3.Sum256(content); got != want {
		t.Errorf("HashFile(large) = %x, want %x", got, want)
	}
}

func TestHashReaderShortReads(t *testing.T) {
	content := bytes.Repeat([]byte("abc"), 10000)
	got, err := HashReader(iotest.OneByteReader(bytes.NewReader(content)))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if want := blake3.Sum256(content); got != want {
		t.Errorf("HashReader = %x, want %x", got, want)
	}
}

func TestHashReaderPropagatesErrors(t *testing.T) {
	_, err := HashReader(iotest.ErrReader(os.ErrClosed))
	if err == nil {
		t.Fatal("HashReader should fail when the reader fails")
	}
}

func TestSingleByteChangeChangesDigest(t *testing.T) {
	content := bytes.Repeat([]byte{0x42}, 5000)
	first, err := HashFile(writeFile(t, "a", content))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	content[4321] ^= 1
	second, err := HashFile(writeFile(t, "b", content))
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if first == second {
		t.Error("single byte change did not change the digest")
	}
}

func TestFormatDigest(t *testing.T) {
	digest := blake3.Sum256([]byte("x"))
	formatted := FormatDigest(digest)
	if len(formatted) != 64 {
		t.Fatalf("FormatDigest length = %d, want 64", len(formatted))
	}
	if formatted != strings.ToLower(formatted) {
		t.Errorf("FormatDigest not lowercase: %s", formatted)
	}
	parsed, err := ParseDigest(formatted)
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Errorf("ParseDigest(FormatDigest(d)) != d")
	}
}

func TestParseDigestInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "abcd"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseDigest(test.input); err == nil {
				t.Errorf("ParseDigest(%q) should fail", test.input)
			}
		})
	}
}
