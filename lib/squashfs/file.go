// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"fmt"
	"io"
)

// Data block size words: the low 24 bits are the stored length, bit 24
// marks a block stored without compression. A zero word is a sparse
// block of zeros.
const (
	blockSizeMask     = 0x00ffffff
	blockUncompressed = 0x01000000
)

// ReadAt reads file content starting at off into p. It follows the
// io.ReaderAt contract: a read that stops at end of file returns the
// bytes read together with io.EOF.
func (image *Image) ReadAt(inode *Inode, p []byte, off int64) (int, error) {
	if inode.Type != TypeRegular {
		return 0, fmt.Errorf("reading inode %d: not a regular file", inode.Number)
	}
	if off < 0 {
		return 0, fmt.Errorf("reading inode %d: negative offset %d", inode.Number, off)
	}

	blockSize := int64(image.super.BlockSize)
	total := 0
	for total < len(p) {
		position := off + int64(total)
		if position >= inode.Size {
			return total, io.EOF
		}

		blockIndex := position / blockSize
		block, err := image.fileBlock(inode, blockIndex)
		if err != nil {
			return total, fmt.Errorf("reading inode %d block %d: %w", inode.Number, blockIndex, err)
		}
		within := int(position - blockIndex*blockSize)
		if within >= len(block) {
			return total, fmt.Errorf("reading inode %d block %d: short block", inode.Number, blockIndex)
		}
		total += copy(p[total:], block[within:])
	}
	return total, nil
}

// fileBlock returns the uncompressed contents of one block-sized slice
// of a file, from its own data block or from its fragment.
func (image *Image) fileBlock(inode *Inode, index int64) ([]byte, error) {
	blockSize := int64(image.super.BlockSize)
	length := min(blockSize, inode.Size-index*blockSize)

	if index < int64(len(inode.blockSizes)) {
		return image.dataBlock(inode.blockOffsets[index], inode.blockSizes[index], int(length))
	}

	if inode.fragment == noFragment {
		return nil, fmt.Errorf("block %d beyond block list and no fragment", index)
	}
	entry := image.fragments[inode.fragment]
	fragment, err := image.dataBlock(int64(entry.start), entry.size, -1)
	if err != nil {
		return nil, fmt.Errorf("fragment %d: %w", inode.fragment, err)
	}
	end := int64(inode.fragmentOffset) + length
	if end > int64(len(fragment)) {
		return nil, fmt.Errorf("fragment %d holds %d bytes, tail needs %d..%d", inode.fragment, len(fragment), inode.fragmentOffset, end)
	}
	return fragment[inode.fragmentOffset:end], nil
}

// dataBlock reads and decompresses the block at position described by
// sizeWord. length is the exact expected output, or -1 for fragment
// blocks whose length is only bounded by the block size.
func (image *Image) dataBlock(position int64, sizeWord uint32, length int) ([]byte, error) {
	if sizeWord == 0 {
		if length < 0 {
			return nil, fmt.Errorf("sparse fragment block")
		}
		return make([]byte, length), nil
	}

	if cached, _, ok := image.blocks.get(position); ok {
		return trimBlock(cached, length)
	}

	stored := int(sizeWord & blockSizeMask)
	limit := int(image.super.BlockSize)
	if stored > limit {
		return nil, fmt.Errorf("stored block size %d exceeds block size %d", stored, limit)
	}
	raw := make([]byte, stored)
	if err := image.readAt(raw, position); err != nil {
		return nil, err
	}

	data := raw
	if sizeWord&blockUncompressed == 0 {
		var err error
		data, err = image.decompress(raw, limit)
		if err != nil {
			return nil, err
		}
	}
	image.blocks.put(position, data, 0)
	return trimBlock(data, length)
}

func trimBlock(data []byte, length int) ([]byte, error) {
	if length < 0 {
		return data, nil
	}
	if len(data) < length {
		return nil, fmt.Errorf("block holds %d bytes, want %d", len(data), length)
	}
	return data[:length], nil
}

// Readlink returns a symlink's target.
func (image *Image) Readlink(inode *Inode) (string, error) {
	if inode.Type != TypeSymlink {
		return "", fmt.Errorf("inode %d is a %s, not a symlink", inode.Number, inode.Type)
	}
	return inode.target, nil
}

// fileReader adapts one inode to io.Reader.
type fileReader struct {
	image  *Image
	inode  *Inode
	offset int64
}

// Open returns a reader over a regular file's content.
func (image *Image) Open(inode *Inode) (io.Reader, error) {
	if inode.Type != TypeRegular {
		return nil, fmt.Errorf("opening inode %d: %s is not a regular file", inode.Number, inode.Type)
	}
	return &fileReader{image: image, inode: inode}, nil
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.image.ReadAt(r.inode, p, r.offset)
	r.offset += int64(n)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}
