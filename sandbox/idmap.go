// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// procRoot is where WriteIDMaps finds /proc/<pid>.
var procRoot = "/proc"

// WriteIDMaps maps uid and gid to themselves in the user namespace of
// process pid. setgroups is denied first; the kernel refuses a gid_map
// from an unprivileged writer otherwise.
func WriteIDMaps(pid, uid, gid int) error {
	dir := filepath.Join(procRoot, strconv.Itoa(pid))
	writes := []struct {
		name    string
		content string
	}{
		{"setgroups", "deny"},
		{"uid_map", fmt.Sprintf("%d %d 1\n", uid, uid)},
		{"gid_map", fmt.Sprintf("%d %d 1\n", gid, gid)},
	}
	for _, write := range writes {
		path := filepath.Join(dir, write.name)
		if err := writeProcFile(path, write.content); err != nil {
			return &NamespaceSetupError{Step: "write " + write.name, Path: path, Err: err}
		}
	}
	return nil
}

// writeProcFile writes content with a single write(2); proc map files
// reject partial and repeated writes.
func writeProcFile(path, content string) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, []byte(content)); err != nil {
		unix.Close(fd)
		return err
	}
	return unix.Close(fd)
}
