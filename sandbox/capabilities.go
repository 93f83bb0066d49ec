// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Capabilities describes what sandbox features are available on this system.
type Capabilities struct {
	// UserNamespacesEnabled is true if unprivileged user namespaces work.
	UserNamespacesEnabled bool

	// MountsRestricted is true if a security module strips mount
	// privileges from unprivileged user namespaces.
	MountsRestricted bool
}

// DetectCapabilities checks what sandbox features are available.
func DetectCapabilities() *Capabilities {
	return &Capabilities{
		UserNamespacesEnabled: checkUserNamespaces(),
		MountsRestricted:      sysctlIs("/proc/sys/kernel/apparmor_restrict_unprivileged_userns", "1"),
	}
}

// CanRunSandbox returns true if a composite root can be built.
func (c *Capabilities) CanRunSandbox() bool {
	return c.UserNamespacesEnabled && !c.MountsRestricted
}

// checkUserNamespaces tests if unprivileged user namespaces work.
func checkUserNamespaces() bool {
	// First check the sysctls.
	if sysctlIs("/proc/sys/kernel/unprivileged_userns_clone", "0") ||
		sysctlIs("/proc/sys/user/max_user_namespaces", "0") {
		return false
	}
	// File not existing usually means userns is allowed.

	// Simple test: run true in a new user and mount namespace.
	path, err := exec.LookPath("true")
	if err != nil {
		return false
	}
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS,
	}
	return cmd.Run() == nil
}

func sysctlIs(path, value string) bool {
	data, err := os.ReadFile(path)
	return err == nil && strings.TrimSpace(string(data)) == value
}

// SkipReason returns a human-readable reason why sandboxing isn't available,
// or empty string if it is available.
func (c *Capabilities) SkipReason() string {
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	if c.MountsRestricted {
		return "unprivileged user namespaces may not mount (kernel.apparmor_restrict_unprivileged_userns=1)"
	}
	return ""
}
