// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs a bundle's entrypoint inside a composite root: the
// host's root directory with the bundle's own store directory (usually
// nix) mounted over the same name.
//
// Building the root needs mount privileges, which an unprivileged user
// only has inside a new user namespace. [Launcher.Run] starts this binary again
// in the [Stage] re-exec stage with CLONE_NEWUSER|CLONE_NEWNS. The parent
// writes the child's id maps ([WriteIDMaps]) while the child blocks on a
// sync pipe. Once released, the child ([Enter]):
//
//   - makes the inherited mount tree private
//   - mounts a tmpfs on the root directory created by the parent
//   - recursively bind mounts every top-level host entry except the
//     store name ([PlanBinds])
//   - binds <bundle dir>/<store> onto <root>/<store>
//   - chroots into the root and returns to the working directory
//   - execs <bundle dir>/entrypoint with the original arguments
//
// The parent waits for the child, removes the root directory, and exits
// with the child's status. A child killed by a signal, and every setup
// failure ([NamespaceSetupError]), maps to status 127.
//
// The tmpfs and binds exist only in the child's mount namespace, so
// they disappear with the last process in it; nothing needs unmounting
// on the host.
package sandbox
