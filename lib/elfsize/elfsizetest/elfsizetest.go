// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfsizetest builds minimal ELF files for tests. The files
// carry a valid file header and section header table and nothing
// else; they are not loadable programs.
package elfsizetest

import (
	"debug/elf"
	"encoding/binary"
)

// Section is a section header's placement in the file.
type Section struct {
	Offset uint64
	Size   uint64
}

// File describes an ELF file to build.
type File struct {
	Class elf.Class
	Order binary.ByteOrder

	// SectionTableOffset is written to e_shoff.
	SectionTableOffset uint64

	// Sections are written to the table in order.
	Sections []Section

	// ExtendedNumbering writes e_shnum as zero and stores the count in
	// section zero's size field. Sections[0].Size is ignored.
	ExtendedNumbering bool

	// Length pads the result with zeros up to this many bytes.
	Length int
}

// HeaderSize returns the ELF file header size for class.
func HeaderSize(class elf.Class) int {
	if class == elf.ELFCLASS32 {
		return binary.Size(elf.Header32{})
	}
	return binary.Size(elf.Header64{})
}

// SectionEntrySize returns the section header size for class.
func SectionEntrySize(class elf.Class) int {
	if class == elf.ELFCLASS32 {
		return binary.Size(elf.Section32{})
	}
	return binary.Size(elf.Section64{})
}

// Bytes renders the file. Sections' contents are zero bytes; only the
// headers are meaningful.
func (f File) Bytes() []byte {
	entrySize := SectionEntrySize(f.Class)
	length := max(f.Length, HeaderSize(f.Class))
	if f.SectionTableOffset != 0 {
		length = max(length, int(f.SectionTableOffset)+entrySize*len(f.Sections))
	}
	buffer := make([]byte, length)

	data := elf.ELFDATA2LSB
	if f.Order == binary.BigEndian {
		data = elf.ELFDATA2MSB
	}

	shnum := uint16(len(f.Sections))
	if f.ExtendedNumbering {
		shnum = 0
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(f.Class)
	ident[elf.EI_DATA] = byte(data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	if f.Class == elf.ELFCLASS32 {
		header := elf.Header32{
			Ident:     ident,
			Type:      uint16(elf.ET_EXEC),
			Machine:   uint16(elf.EM_386),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     uint32(f.SectionTableOffset),
			Ehsize:    uint16(HeaderSize(f.Class)),
			Shentsize: uint16(entrySize),
			Shnum:     shnum,
		}
		encode(buffer, 0, f.Order, &header)
	} else {
		header := elf.Header64{
			Ident:     ident,
			Type:      uint16(elf.ET_EXEC),
			Machine:   uint16(elf.EM_X86_64),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     f.SectionTableOffset,
			Ehsize:    uint16(HeaderSize(f.Class)),
			Shentsize: uint16(entrySize),
			Shnum:     shnum,
		}
		encode(buffer, 0, f.Order, &header)
	}

	for index, section := range f.Sections {
		size := section.Size
		if f.ExtendedNumbering && index == 0 {
			size = uint64(len(f.Sections))
		}
		position := int(f.SectionTableOffset) + index*entrySize
		if f.Class == elf.ELFCLASS32 {
			encode(buffer, position, f.Order, &elf.Section32{Off: uint32(section.Offset), Size: uint32(size)})
		} else {
			encode(buffer, position, f.Order, &elf.Section64{Off: section.Offset, Size: size})
		}
	}
	return buffer
}

// Stub returns a little-endian 64-bit ELF file whose payload offset is
// exactly its length, so appending data to it yields a bundle.
func Stub() []byte {
	headerSize := uint64(HeaderSize(elf.ELFCLASS64))
	text := Section{Offset: headerSize, Size: 192}
	return File{
		Class:              elf.ELFCLASS64,
		Order:              binary.LittleEndian,
		SectionTableOffset: text.Offset + text.Size,
		Sections:           []Section{{}, text},
	}.Bytes()
}

func encode(buffer []byte, offset int, order binary.ByteOrder, value any) {
	if _, err := binary.Encode(buffer[offset:], order, value); err != nil {
		panic(err)
	}
}
