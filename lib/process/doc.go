// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the runtime and
// sandbox binaries.
//
// Two concerns live here:
//
//   - Exit handling. Failures inside the launcher itself (as opposed
//     to the launched application) exit with [ExitExecError], the
//     status a shell uses for "command could not be executed".
//     [ExitStatus] maps a reaped child onto the same convention.
//
//   - Self re-execution. Go cannot fork without exec, so every
//     helper process (the FUSE mount server, the namespaced sandbox
//     child) is this same binary started again through /proc/self/exe
//     with a stage marker in its environment. main() checks [Stage]
//     before doing anything else and dispatches to the stage handler.
//     [StripStage] removes the marker before the real application is
//     exec'd so it never leaks into user processes.
package process
