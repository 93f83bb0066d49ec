// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package elfsize

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMalformedHeader is returned when the input is not an ELF file or
// its header or section table cannot be read in full.
var ErrMalformedHeader = errors.New("malformed ELF header")

// Header is the subset of the ELF file header that determines where
// the file ends.
type Header struct {
	Class     elf.Class
	ByteOrder binary.ByteOrder

	// HeaderSize is e_ehsize.
	HeaderSize uint16

	// SectionTableOffset is e_shoff.
	SectionTableOffset uint64

	// SectionEntrySize is e_shentsize.
	SectionEntrySize uint16

	// SectionCount is e_shnum. When the file uses extended section
	// numbering this is zero in the file header and the real count is
	// recovered from section zero by PayloadOffset.
	SectionCount uint64
}

// ParseHeader decodes the ELF identification and file header at the
// start of r.
func ParseHeader(r io.ReaderAt) (Header, error) {
	var ident [elf.EI_NIDENT]byte
	if err := readFull(r, ident[:], 0); err != nil {
		return Header{}, fmt.Errorf("%w: reading identification: %v", ErrMalformedHeader, err)
	}
	if !bytes.Equal(ident[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrMalformedHeader, ident[:len(elf.ELFMAG)])
	}

	var order binary.ByteOrder
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return Header{}, fmt.Errorf("%w: unknown data encoding %d", ErrMalformedHeader, ident[elf.EI_DATA])
	}

	class := elf.Class(ident[elf.EI_CLASS])
	switch class {
	case elf.ELFCLASS32:
		var raw elf.Header32
		if err := readStruct(r, 0, order, &raw); err != nil {
			return Header{}, fmt.Errorf("%w: reading 32-bit header: %v", ErrMalformedHeader, err)
		}
		return Header{
			Class:              class,
			ByteOrder:          order,
			HeaderSize:         raw.Ehsize,
			SectionTableOffset: uint64(raw.Shoff),
			SectionEntrySize:   raw.Shentsize,
			SectionCount:       uint64(raw.Shnum),
		}, nil
	case elf.ELFCLASS64:
		var raw elf.Header64
		if err := readStruct(r, 0, order, &raw); err != nil {
			return Header{}, fmt.Errorf("%w: reading 64-bit header: %v", ErrMalformedHeader, err)
		}
		return Header{
			Class:              class,
			ByteOrder:          order,
			HeaderSize:         raw.Ehsize,
			SectionTableOffset: raw.Shoff,
			SectionEntrySize:   raw.Shentsize,
			SectionCount:       uint64(raw.Shnum),
		}, nil
	default:
		return Header{}, fmt.Errorf("%w: unknown class %d", ErrMalformedHeader, ident[elf.EI_CLASS])
	}
}

// PayloadOffset returns the first byte past the ELF image described by
// h: the later of the end of the section header table and the end of
// the last section's contents.
func (h Header) PayloadOffset(r io.ReaderAt) (int64, error) {
	if h.SectionTableOffset == 0 {
		// No section table at all: only the file header is known.
		return int64(h.HeaderSize), nil
	}

	count := h.SectionCount
	if count == 0 {
		// Extended numbering keeps the real count in section zero's
		// size field.
		_, size, err := h.section(r, 0)
		if err != nil {
			return 0, err
		}
		count = size
		if count == 0 {
			return int64(h.SectionTableOffset), nil
		}
	}

	tableEnd := h.SectionTableOffset + uint64(h.SectionEntrySize)*count
	lastOffset, lastSize, err := h.section(r, count-1)
	if err != nil {
		return 0, err
	}
	contentEnd := lastOffset + lastSize

	end := max(tableEnd, contentEnd)
	if end > 1<<62 {
		return 0, fmt.Errorf("%w: payload offset %d out of range", ErrMalformedHeader, end)
	}
	return int64(end), nil
}

// section returns sh_offset and sh_size of the section header at index.
func (h Header) section(r io.ReaderAt, index uint64) (offset, size uint64, err error) {
	var minimum uint16
	switch h.Class {
	case elf.ELFCLASS32:
		minimum = uint16(binary.Size(elf.Section32{}))
	default:
		minimum = uint16(binary.Size(elf.Section64{}))
	}
	if h.SectionEntrySize < minimum {
		return 0, 0, fmt.Errorf("%w: section entry size %d smaller than %d", ErrMalformedHeader, h.SectionEntrySize, minimum)
	}

	position := h.SectionTableOffset + index*uint64(h.SectionEntrySize)
	if position > 1<<62 {
		return 0, 0, fmt.Errorf("%w: section header %d out of range", ErrMalformedHeader, index)
	}

	switch h.Class {
	case elf.ELFCLASS32:
		var raw elf.Section32
		if err := readStruct(r, int64(position), h.ByteOrder, &raw); err != nil {
			return 0, 0, fmt.Errorf("%w: reading section header %d: %v", ErrMalformedHeader, index, err)
		}
		return uint64(raw.Off), uint64(raw.Size), nil
	default:
		var raw elf.Section64
		if err := readStruct(r, int64(position), h.ByteOrder, &raw); err != nil {
			return 0, 0, fmt.Errorf("%w: reading section header %d: %v", ErrMalformedHeader, index, err)
		}
		return raw.Off, raw.Size, nil
	}
}

// PayloadOffset parses the ELF header at the start of r and returns
// the offset of the data appended after the ELF image.
func PayloadOffset(r io.ReaderAt) (int64, error) {
	header, err := ParseHeader(r)
	if err != nil {
		return 0, err
	}
	return header.PayloadOffset(r)
}

// FileOffset is PayloadOffset for the file at path.
func FileOffset(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	offset, err := PayloadOffset(file)
	if err != nil {
		return 0, fmt.Errorf("locating payload in %s: %w", path, err)
	}
	return offset, nil
}

func readStruct(r io.ReaderAt, offset int64, order binary.ByteOrder, out any) error {
	size := binary.Size(out)
	buffer := make([]byte, size)
	if err := readFull(r, buffer, offset); err != nil {
		return err
	}
	_, err := binary.Decode(buffer, order, out)
	return err
}

// readFull fills buffer from offset. A short read is an error even if
// the reader reports none; io.EOF alongside a full buffer is not.
func readFull(r io.ReaderAt, buffer []byte, offset int64) error {
	n, err := r.ReadAt(buffer, offset)
	if n == len(buffer) {
		return nil
	}
	if err == nil || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
