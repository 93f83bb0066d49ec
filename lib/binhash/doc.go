// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash fingerprints bundle files.
//
// Extract-and-run keys its cache directory on the content of the whole
// bundle, so two launches of an unchanged bundle share one extracted
// tree while any rebuild gets a fresh one. The fingerprint is a
// 256-bit BLAKE3 digest of every byte of the file, computed by
// streaming fixed-size chunks so memory use does not grow with the
// bundle.
//
//   - [HashFile] and [HashReader] compute the digest
//   - [FormatDigest] renders it as lowercase hex, the form used in
//     cache directory names
//   - [ParseDigest] is its inverse
package binhash
