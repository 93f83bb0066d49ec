// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BindKind says how a composite root entry is created.
type BindKind int

const (
	// BindDirectory creates a directory and bind mounts Source on it.
	BindDirectory BindKind = iota

	// BindFile creates an empty file and bind mounts Source on it.
	BindFile

	// BindSymlink recreates a symlink whose target is Source. Bind
	// mounts follow symlinks, which would turn /lib -> usr/lib into a
	// copy of /usr/lib instead of a link into the composite root's own
	// /usr.
	BindSymlink
)

func (k BindKind) String() string {
	switch k {
	case BindDirectory:
		return "directory"
	case BindFile:
		return "file"
	case BindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("BindKind(%d)", int(k))
	}
}

// Bind is one entry of the composite root.
type Bind struct {
	Kind   BindKind
	Source string
	Target string
}

// PlanBinds lists the entries of the composite root at root: one per
// top-level entry of hostRoot except storeName, then bundleDir/storeName
// bound onto root/storeName.
func PlanBinds(hostRoot, root, storeName, bundleDir string) ([]Bind, error) {
	entries, err := os.ReadDir(hostRoot)
	if err != nil {
		return nil, &NamespaceSetupError{Step: "read host root", Path: hostRoot, Err: err}
	}

	binds := make([]Bind, 0, len(entries)+1)
	for _, entry := range entries {
		name := entry.Name()
		if name == storeName {
			continue
		}
		source := filepath.Join(hostRoot, name)
		bind := Bind{Kind: BindDirectory, Source: source, Target: filepath.Join(root, name)}

		switch entry.Type() {
		case fs.ModeDir:
		case fs.ModeSymlink:
			target, err := os.Readlink(source)
			if err != nil {
				return nil, &NamespaceSetupError{Step: "readlink", Path: source, Err: err}
			}
			bind.Kind = BindSymlink
			bind.Source = target
		default:
			bind.Kind = BindFile
		}
		binds = append(binds, bind)
	}

	return append(binds, Bind{
		Kind:   BindDirectory,
		Source: filepath.Join(bundleDir, storeName),
		Target: filepath.Join(root, storeName),
	}), nil
}
