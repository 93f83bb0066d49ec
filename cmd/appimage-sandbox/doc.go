// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Appimage-sandbox runs the entrypoint next to it inside a composite
// root: the host's root directory with the bundle's store directory
// (nix by default) mounted in place of the host's. It is placed at the
// root of a bundle payload, usually as AppRun, and passes its arguments
// through unchanged.
//
// Configuration comes from the file named by APPIMAGE_RUNTIME_CONFIG
// (sandbox section); APPIMAGE_RUNTIME_DEBUG enables debug logging.
package main
