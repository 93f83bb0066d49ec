// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Image is an open squashfs image.
type Image struct {
	reader     io.ReaderAt
	size       int64
	closer     io.Closer
	super      Superblock
	decompress decompressor

	ids       []uint32
	fragments []fragmentEntry

	metadata *blockCache
	blocks   *blockCache
}

// Open opens the squashfs image that starts offset bytes into the file
// at path. The image must be closed when no longer needed.
func Open(path string, offset int64) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if offset < 0 || offset > info.Size() {
		file.Close()
		return nil, fmt.Errorf("image offset %d outside %s (%d bytes)", offset, path, info.Size())
	}

	image, err := NewImage(io.NewSectionReader(file, offset, info.Size()-offset), info.Size()-offset)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("reading image in %s at offset %d: %w", path, offset, err)
	}
	image.closer = file
	return image, nil
}

// NewImage reads an image from reader, whose position zero is the
// superblock. size bounds every read.
func NewImage(reader io.ReaderAt, size int64) (*Image, error) {
	header := make([]byte, SuperblockSize)
	if err := readFull(reader, header, 0); err != nil {
		return nil, fmt.Errorf("%w: reading superblock: %v", ErrNotSquashfs, err)
	}
	super, err := ParseSuperblock(header)
	if err != nil {
		return nil, err
	}
	if int64(super.BytesUsed) > size {
		return nil, fmt.Errorf("image truncated: superblock claims %d bytes, %d available", super.BytesUsed, size)
	}

	decompress, err := newDecompressor(super.Compression)
	if err != nil {
		return nil, err
	}

	image := &Image{
		reader:     reader,
		size:       int64(super.BytesUsed),
		super:      super,
		decompress: decompress,
		metadata:   newBlockCache(256),
		blocks:     newBlockCache(32),
	}
	if err := image.loadIDs(); err != nil {
		return nil, err
	}
	if err := image.loadFragments(); err != nil {
		return nil, err
	}
	return image, nil
}

// Close releases the underlying file, if the image owns one.
func (image *Image) Close() error {
	if image.closer == nil {
		return nil
	}
	return image.closer.Close()
}

// Superblock returns a copy of the image header.
func (image *Image) Superblock() Superblock { return image.super }

// InodeCount returns the number of inodes. Inode numbers run from 1 to
// InodeCount inclusive.
func (image *Image) InodeCount() uint32 { return image.super.InodeCount }

// BlockSize returns the data block size.
func (image *Image) BlockSize() int { return int(image.super.BlockSize) }

// Root returns the root directory inode.
func (image *Image) Root() (*Inode, error) {
	root, err := image.InodeAt(image.super.RootInode)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	if root.Type != TypeDirectory {
		return nil, fmt.Errorf("root inode is a %s, not a directory", root.Type)
	}
	return root, nil
}

// metadataBlockSize is the largest uncompressed metadata block.
const metadataBlockSize = 8192

// metadataBlock decodes the metadata block whose header is at position
// and returns its contents and the position of the following block.
func (image *Image) metadataBlock(position int64) ([]byte, int64, error) {
	if cached, next, ok := image.metadata.get(position); ok {
		return cached, next, nil
	}

	var header [2]byte
	if err := image.readAt(header[:], position); err != nil {
		return nil, 0, fmt.Errorf("reading metadata header at %d: %w", position, err)
	}
	word := binary.LittleEndian.Uint16(header[:])
	size := int(word & 0x7fff)
	if size == 0 || size > metadataBlockSize {
		return nil, 0, fmt.Errorf("metadata block at %d has invalid size %d", position, size)
	}

	raw := make([]byte, size)
	if err := image.readAt(raw, position+2); err != nil {
		return nil, 0, fmt.Errorf("reading metadata block at %d: %w", position, err)
	}

	data := raw
	if word&0x8000 == 0 {
		var err error
		data, err = image.decompress(raw, metadataBlockSize)
		if err != nil {
			return nil, 0, fmt.Errorf("metadata block at %d: %w", position, err)
		}
	}

	next := position + 2 + int64(size)
	image.metadata.put(position, data, next)
	return data, next, nil
}

// readAt reads exactly len(buffer) bytes at position, refusing reads
// past the end of the image.
func (image *Image) readAt(buffer []byte, position int64) error {
	if position < 0 || position+int64(len(buffer)) > image.size {
		return fmt.Errorf("read of %d bytes at %d outside image (%d bytes): %w", len(buffer), position, image.size, io.ErrUnexpectedEOF)
	}
	return readFull(image.reader, buffer, position)
}

func readFull(reader io.ReaderAt, buffer []byte, position int64) error {
	n, err := reader.ReadAt(buffer, position)
	if n == len(buffer) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// metadataReader reads a byte stream that continues across metadata
// block boundaries.
type metadataReader struct {
	image  *Image
	data   []byte
	offset int
	next   int64
}

// newMetadataReader positions a reader at byte offset inside the
// metadata block at position.
func (image *Image) newMetadataReader(position int64, offset int) (*metadataReader, error) {
	data, next, err := image.metadataBlock(position)
	if err != nil {
		return nil, err
	}
	if offset > len(data) {
		return nil, fmt.Errorf("offset %d beyond metadata block at %d (%d bytes)", offset, position, len(data))
	}
	return &metadataReader{image: image, data: data, offset: offset, next: next}, nil
}

// newReferenceReader positions a reader at a 48-bit reference relative
// to tableStart.
func (image *Image) newReferenceReader(tableStart uint64, reference uint64) (*metadataReader, error) {
	block := int64(tableStart) + int64(reference>>16)
	return image.newMetadataReader(block, int(reference&0xffff))
}

// read returns the next n bytes.
func (m *metadataReader) read(n int) ([]byte, error) {
	result := make([]byte, 0, n)
	for len(result) < n {
		if m.offset == len(m.data) {
			data, next, err := m.image.metadataBlock(m.next)
			if err != nil {
				return nil, err
			}
			m.data, m.offset, m.next = data, 0, next
		}
		take := min(n-len(result), len(m.data)-m.offset)
		result = append(result, m.data[m.offset:m.offset+take]...)
		m.offset += take
	}
	return result, nil
}

// blockCache keeps recently decoded blocks keyed by image position.
// When full it is emptied wholesale.
type blockCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[int64]cachedBlock
}

type cachedBlock struct {
	data []byte
	next int64
}

func newBlockCache(capacity int) *blockCache {
	return &blockCache{capacity: capacity, entries: make(map[int64]cachedBlock, capacity)}
}

func (c *blockCache) get(position int64) ([]byte, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[position]
	return entry.data, entry.next, ok
}

func (c *blockCache) put(position int64, data []byte, next int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		clear(c.entries)
	}
	c.entries[position] = cachedBlock{data: data, next: next}
}
