// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"encoding/binary"
	"fmt"
)

// fragmentEntry locates one fragment block.
type fragmentEntry struct {
	start uint64
	size  uint32
}

const fragmentEntrySize = 16

// readIndexedTable reads count fixed-size entries stored in metadata
// blocks whose absolute positions are listed, as little-endian u64
// values, at indexStart.
func (image *Image) readIndexedTable(indexStart uint64, count, entrySize int) ([]byte, error) {
	total := count * entrySize
	blockCount := (total + metadataBlockSize - 1) / metadataBlockSize

	index := make([]byte, 8*blockCount)
	if err := image.readAt(index, int64(indexStart)); err != nil {
		return nil, fmt.Errorf("reading table index at %d: %w", indexStart, err)
	}

	table := make([]byte, 0, total)
	for block := range blockCount {
		position := binary.LittleEndian.Uint64(index[8*block:])
		data, _, err := image.metadataBlock(int64(position))
		if err != nil {
			return nil, err
		}
		table = append(table, data...)
	}
	if len(table) < total {
		return nil, fmt.Errorf("table at %d holds %d bytes, want %d", indexStart, len(table), total)
	}
	return table[:total], nil
}

func (image *Image) loadIDs() error {
	count := int(image.super.IDCount)
	if count == 0 {
		return fmt.Errorf("id table is empty")
	}
	table, err := image.readIndexedTable(image.super.IDTableStart, count, 4)
	if err != nil {
		return fmt.Errorf("reading id table: %w", err)
	}
	image.ids = make([]uint32, count)
	for i := range image.ids {
		image.ids[i] = binary.LittleEndian.Uint32(table[4*i:])
	}
	return nil
}

func (image *Image) loadFragments() error {
	count := int(image.super.FragmentCount)
	if count == 0 {
		return nil
	}
	table, err := image.readIndexedTable(image.super.FragmentTableStart, count, fragmentEntrySize)
	if err != nil {
		return fmt.Errorf("reading fragment table: %w", err)
	}
	image.fragments = make([]fragmentEntry, count)
	for i := range image.fragments {
		entry := table[fragmentEntrySize*i:]
		image.fragments[i] = fragmentEntry{
			start: binary.LittleEndian.Uint64(entry),
			size:  binary.LittleEndian.Uint32(entry[8:]),
		}
	}
	return nil
}

func (image *Image) id(index uint16) (uint32, error) {
	if int(index) >= len(image.ids) {
		return 0, fmt.Errorf("id index %d outside id table (%d entries)", index, len(image.ids))
	}
	return image.ids[index], nil
}
