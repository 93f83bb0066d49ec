// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Magic is the superblock magic number ("hsqs" on disk).
const Magic = 0x73717368

// SuperblockSize is the on-disk size of the superblock.
const SuperblockSize = 96

// NoTable marks an absent optional table (xattr, export, fragment).
const NoTable = ^uint64(0)

// Superblock flags.
const (
	FlagUncompressedInodes    = 0x0001
	FlagUncompressedData      = 0x0002
	FlagUncompressedFragments = 0x0008
	FlagNoFragments           = 0x0010
	FlagAlwaysFragments       = 0x0020
	FlagDuplicates            = 0x0040
	FlagExportable            = 0x0080
	FlagUncompressedXattrs    = 0x0100
	FlagNoXattrs              = 0x0200
	FlagCompressorOptions     = 0x0400
	FlagUncompressedIDs       = 0x0800
)

// ErrNotSquashfs is returned when the superblock magic or version does
// not identify a squashfs 4.0 image.
var ErrNotSquashfs = errors.New("not a squashfs 4.0 image")

// Compression identifies the block compressor of an image.
type Compression uint16

const (
	CompressionGzip Compression = 1
	CompressionLZMA Compression = 2
	CompressionLZO  Compression = 3
	CompressionXZ   Compression = 4
	CompressionLZ4  Compression = 5
	CompressionZstd Compression = 6
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionLZMA:
		return "lzma"
	case CompressionLZO:
		return "lzo"
	case CompressionXZ:
		return "xz"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// Superblock is the decoded image header.
type Superblock struct {
	Magic               uint32
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragmentCount       uint32
	Compression         Compression
	BlockLog            uint16
	Flags               uint16
	IDCount             uint16
	VersionMajor        uint16
	VersionMinor        uint16
	RootInode           uint64
	BytesUsed           uint64
	IDTableStart        uint64
	XattrIDTableStart   uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	ExportTableStart    uint64
}

// Created returns the image modification time.
func (s *Superblock) Created() time.Time {
	return time.Unix(int64(s.ModTime), 0)
}

// ParseSuperblock decodes and validates a superblock.
func ParseSuperblock(data []byte) (Superblock, error) {
	var s Superblock
	if len(data) < SuperblockSize {
		return s, fmt.Errorf("%w: superblock is %d bytes, want %d", ErrNotSquashfs, len(data), SuperblockSize)
	}
	if _, err := binary.Decode(data[:SuperblockSize], binary.LittleEndian, &s); err != nil {
		return s, fmt.Errorf("decoding superblock: %w", err)
	}
	if s.Magic != Magic {
		return s, fmt.Errorf("%w: bad magic %#x", ErrNotSquashfs, s.Magic)
	}
	if s.VersionMajor != 4 || s.VersionMinor != 0 {
		return s, fmt.Errorf("%w: version %d.%d", ErrNotSquashfs, s.VersionMajor, s.VersionMinor)
	}
	if s.BlockLog < 12 || s.BlockLog > 20 || s.BlockSize != 1<<s.BlockLog {
		return s, fmt.Errorf("%w: block size %d does not match block log %d", ErrNotSquashfs, s.BlockSize, s.BlockLog)
	}
	if s.InodeTableStart >= s.BytesUsed || s.DirectoryTableStart >= s.BytesUsed || s.IDTableStart >= s.BytesUsed {
		return s, fmt.Errorf("%w: table offsets beyond bytes used (%d)", ErrNotSquashfs, s.BytesUsed)
	}
	return s, nil
}

// Encode renders s in its on-disk form.
func (s *Superblock) Encode() []byte {
	buffer := make([]byte, SuperblockSize)
	if _, err := binary.Encode(buffer, binary.LittleEndian, s); err != nil {
		panic(err)
	}
	return buffer
}
