// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountsession

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	mountPrefix = ".mount_"

	// nameLength is how much of the bundle's base name goes into the
	// directory name.
	nameLength = 6

	suffixLength   = 6
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	maxAttempts = 100
)

// CreateMountDir creates a new, empty, mode 0700 directory named
// .mount_<up to 6 characters of basename(argv0)><6 random characters>
// under tempBase and returns its path.
func CreateMountDir(tempBase, argv0 string) (string, error) {
	name := []rune(filepath.Base(argv0))
	if len(name) > nameLength {
		name = name[:nameLength]
	}
	prefix := filepath.Join(tempBase, mountPrefix+string(name))

	for range maxAttempts {
		suffix, err := randomSuffix()
		if err != nil {
			return "", err
		}
		dir := prefix + suffix
		err = os.Mkdir(dir, 0o700)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating mount directory: %w", err)
		}
	}
	return "", fmt.Errorf("creating mount directory under %s: %d names already taken", tempBase, maxAttempts)
}

func randomSuffix() (string, error) {
	random := make([]byte, suffixLength)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("generating mount directory name: %w", err)
	}
	suffix := make([]byte, suffixLength)
	for i, value := range random {
		suffix[i] = suffixAlphabet[int(value)%len(suffixAlphabet)]
	}
	return string(suffix), nil
}
