// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// ExitExecError is the exit status for failures of the launcher
// itself: a missing entrypoint, a failed exec, namespace setup errors,
// or a child that did not exit normally.
const ExitExecError = 127

// Fatal writes "error: err" to stderr and exits with ExitExecError.
// Use it in main() for errors that occur before the structured logger
// is initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitExecError)
}

// ExitStatus converts a reaped child's state into the status this
// process should exit with. A normal exit passes its code through;
// death by signal (or a nil state) becomes ExitExecError.
func ExitStatus(state *os.ProcessState) int {
	if state == nil || !state.Exited() {
		return ExitExecError
	}
	return state.ExitCode()
}
