// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the optional runtime configuration file.
//
// A bundle must run with no configuration at all, so every field has a
// default in [Default]. Operators who want to tune the runtime point
// APPIMAGE_RUNTIME_CONFIG at a YAML file; its values are merged over
// the defaults. There is no search path and no automatic discovery.
//
// The behavioral environment variables of the bundle protocol
// (TARGET_APPIMAGE, APPIMAGE_EXTRACT_AND_RUN, NO_CLEANUP, VERBOSE,
// TMPDIR) are not configuration in this sense and are read by the
// activation package directly.
package config
