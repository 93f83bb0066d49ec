// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"fmt"

	"github.com/bureau-foundation/appimage-runtime/lib/version"
)

// UnsupportedDirectiveError reports an "--appimage-" directive this
// runtime does not implement.
type UnsupportedDirectiveError struct {
	// Name is the directive without its leading dashes.
	Name string
}

func (e *UnsupportedDirectiveError) Error() string {
	return fmt.Sprintf("--%s is not yet implemented in version %s", e.Name, version.GitCommit)
}

// UsageError reports arguments a directive cannot accept.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	return e.Message + "\n" + e.Usage
}

// ProcessError is a failure to start, exec or wait for a process.
type ProcessError struct {
	// Op is what was being done, such as "exec /tmp/.mount_app/AppRun".
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
