// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// StageEnvironment is the environment variable that carries the
// re-exec stage name into a helper process.
const StageEnvironment = "APPIMAGE_RUNTIME_STAGE"

// selfExecutable is the path used to start this binary again. The
// /proc link survives the original file being renamed or deleted.
const selfExecutable = "/proc/self/exe"

// Stage returns the re-exec stage this process was started in, or ""
// for a normal top-level invocation.
func Stage() string {
	return os.Getenv(StageEnvironment)
}

// SelfCommand returns a command that runs this binary again in the
// given stage. argv0 becomes the child's os.Args[0]; args follow it.
// The caller owns the returned command and may set ExtraFiles,
// SysProcAttr, and standard streams before starting it.
func SelfCommand(stage, argv0 string, args ...string) *exec.Cmd {
	command := exec.Command(selfExecutable)
	command.Args = append([]string{argv0}, args...)
	command.Env = append(StripStage(os.Environ()), StageEnvironment+"="+stage)
	return command
}

// StripStage returns env without the stage marker.
func StripStage(env []string) []string {
	prefix := StageEnvironment + "="
	result := make([]string, 0, len(env))
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// InheritAcrossExec clears close-on-exec on file so that the next
// exec in this process hands the descriptor to the new program.
func InheritAcrossExec(file *os.File) error {
	if _, err := unix.FcntlInt(file.Fd(), unix.F_SETFD, 0); err != nil {
		return fmt.Errorf("clearing close-on-exec on %s: %w", file.Name(), err)
	}
	return nil
}
