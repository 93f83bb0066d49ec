// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package squashfs reads squashfs 4.0 images.
//
// The reader is read-only and works on any [io.ReaderAt], so an image
// can be read in place from the tail of a bundle executable without
// copying it out or involving the kernel. It understands every inode
// type, directory listings, fragments, sparse blocks, and the uid/gid
// table. Block decompression is delegated to the compression libraries
// (zlib, xz, lzma, lz4, zstd); lzo-compressed images are rejected.
//
// An [Image] is safe for concurrent use: the FUSE server issues
// lookups and reads from many goroutines against one image.
//
// On-disk layout, in file order:
//
//	superblock (96 bytes)
//	[compressor options]
//	data blocks and fragment blocks
//	inode table        (metadata blocks)
//	directory table    (metadata blocks)
//	fragment table     (metadata blocks + index)
//	[export table]
//	id table           (metadata blocks + index)
//	[xattr table]
//
// Metadata blocks hold at most 8 KiB of uncompressed data behind a
// two-byte header. Inodes and directory entries refer to each other
// through 48-bit references: the offset of a metadata block relative
// to the start of its table, shifted left 16 bits, plus the byte offset
// inside that block's uncompressed contents.
package squashfs
