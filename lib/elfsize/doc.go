// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfsize locates the payload appended to an ELF executable.
//
// A bundle is the runtime's ELF image followed directly by a squashfs
// image. The ELF file's extent is not recorded anywhere explicitly, so
// it is derived from the header: the section header table and the
// section it describes last are, in a linker-produced executable, the
// final bytes of the file. The payload starts at whichever of the two
// ends later.
//
// Both 32- and 64-bit classes and both byte orders are supported
// regardless of the host, so the runtime can report the offset of a
// bundle built for a different architecture.
package elfsize
