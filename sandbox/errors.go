// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "fmt"

// NamespaceSetupError reports a failed step while building the
// composite root.
type NamespaceSetupError struct {
	// Step names what was being done, e.g. "mount tmpfs" or "chroot".
	Step string

	// Path is the file or directory the step operated on, if any.
	Path string

	Err error

	// Hint says which system setting keeps namespaces from working,
	// when that is known.
	Hint string
}

func (e *NamespaceSetupError) Error() string {
	message := e.Step
	if e.Path != "" {
		message += " " + e.Path
	}
	message = fmt.Sprintf("%s: %v", message, e.Err)
	if e.Hint != "" {
		message += " (" + e.Hint + ")"
	}
	return message
}

func (e *NamespaceSetupError) Unwrap() error { return e.Err }
