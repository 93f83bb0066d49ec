// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
)

// RemoveTree deletes root and everything below it, children before
// parents. Symlinks are removed, never followed. Directories that are
// mount points are left in place, along with their ancestors, and
// reported in the returned error.
func RemoveTree(root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", root, err)
	}
	if !info.IsDir() {
		return os.Remove(root)
	}
	return removeDirectory(root)
}

func removeDirectory(dir string) error {
	mounted, err := mountinfo.Mounted(dir)
	if err != nil {
		return fmt.Errorf("checking %s for mounts: %w", dir, err)
	}
	if mounted {
		return fmt.Errorf("not removing %s: a filesystem is mounted there", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := removeDirectory(child); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.Remove(child); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}
