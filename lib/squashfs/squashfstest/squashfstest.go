// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package squashfstest builds small squashfs 4.0 images in memory for
// tests. It writes the same structures mksquashfs does (data blocks,
// fragments, inode and directory tables, fragment and id tables) so
// readers can be tested without external tools.
package squashfstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
)

// Builder accumulates a directory tree and renders it as an image.
type Builder struct {
	// BlockSize is the data block size, a power of two from 4096 to
	// 1 MiB. Zero means 4096, small enough that test files span
	// several blocks.
	BlockSize int

	// Compression selects the block compressor. Zero stores every
	// block uncompressed and records gzip in the superblock.
	Compression squashfs.Compression

	// NoFragments stores file tails as short final blocks instead of
	// packing them into fragment blocks.
	NoFragments bool

	// ModTime is stamped on every inode and the superblock.
	ModTime time.Time

	root *node
	err  error
}

type node struct {
	kind     squashfs.FileType
	perm     uint16
	uid, gid uint32
	content  []byte
	target   string
	children map[string]*node

	number uint32
	links  uint32

	// Set while rendering.
	written     bool
	reference   uint64
	blocksStart uint64
	blockWords  []uint32
	fragment    uint32
	fragOffset  uint32
	hasData     bool
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		ModTime: time.Unix(1735689600, 0),
		root:    &node{kind: squashfs.TypeDirectory, perm: 0o755, children: map[string]*node{}},
	}
}

// Dir adds a directory, creating missing parents with mode 0755.
func (b *Builder) Dir(name string, perm os.FileMode) *Builder {
	b.add(name, &node{kind: squashfs.TypeDirectory, perm: uint16(perm.Perm()), children: map[string]*node{}})
	return b
}

// File adds a regular file.
func (b *Builder) File(name string, perm os.FileMode, content []byte) *Builder {
	b.add(name, &node{kind: squashfs.TypeRegular, perm: uint16(perm.Perm()), content: content})
	return b
}

// Symlink adds a symbolic link.
func (b *Builder) Symlink(name, target string) *Builder {
	b.add(name, &node{kind: squashfs.TypeSymlink, perm: 0o777, target: target})
	return b
}

// Fifo adds a named pipe.
func (b *Builder) Fifo(name string) *Builder {
	b.add(name, &node{kind: squashfs.TypeFifo, perm: 0o644})
	return b
}

// Hardlink adds name as a second directory entry for the regular file
// already added at existing.
func (b *Builder) Hardlink(name, existing string) *Builder {
	target := b.find(existing)
	if target == nil || target.kind != squashfs.TypeRegular {
		b.fail(fmt.Errorf("hardlink %s: %s is not a regular file in the image", name, existing))
		return b
	}
	b.add(name, target)
	return b
}

// Owner sets the uid and gid recorded for an existing entry.
func (b *Builder) Owner(name string, uid, gid uint32) *Builder {
	target := b.find(name)
	if target == nil {
		b.fail(fmt.Errorf("owner %s: no such entry", name))
		return b
	}
	target.uid, target.gid = uid, gid
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) find(name string) *node {
	current := b.root
	for _, component := range splitPath(name) {
		if current.children == nil {
			return nil
		}
		current = current.children[component]
		if current == nil {
			return nil
		}
	}
	return current
}

func (b *Builder) add(name string, entry *node) {
	components := splitPath(name)
	if len(components) == 0 {
		b.fail(fmt.Errorf("cannot add %q: empty path", name))
		return
	}
	parent := b.root
	for _, component := range components[:len(components)-1] {
		child := parent.children[component]
		if child == nil {
			child = &node{kind: squashfs.TypeDirectory, perm: 0o755, children: map[string]*node{}}
			parent.children[component] = child
		}
		if child.kind != squashfs.TypeDirectory {
			b.fail(fmt.Errorf("cannot add %s: %s is not a directory", name, component))
			return
		}
		parent = child
	}
	last := components[len(components)-1]
	if existing, ok := parent.children[last]; ok {
		if existing.kind == squashfs.TypeDirectory && entry.kind == squashfs.TypeDirectory {
			existing.perm = entry.perm
			return
		}
		b.fail(fmt.Errorf("cannot add %s: already exists", name))
		return
	}
	parent.children[last] = entry
}

func splitPath(name string) []string {
	cleaned := strings.Trim(path.Clean("/"+name), "/")
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "/")
}

// Build renders the image.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	blockSize := b.BlockSize
	if blockSize == 0 {
		blockSize = 4096
	}
	blockLog := 0
	for 1<<blockLog < blockSize {
		blockLog++
	}
	if 1<<blockLog != blockSize || blockLog < 12 || blockLog > 20 {
		return nil, fmt.Errorf("block size %d is not a power of two in [4096, 1MiB]", blockSize)
	}

	compress, err := newCompressor(b.Compression)
	if err != nil {
		return nil, err
	}

	r := &renderer{
		builder:   b,
		blockSize: blockSize,
		compress:  compress,
		ids:       map[uint32]uint16{},
		inodes:    &metadataWriter{compress: compress},
		listings:  &metadataWriter{compress: compress},
	}
	r.out.Write(make([]byte, squashfs.SuperblockSize))

	count := r.number(b.root)
	r.countLinks(b.root)
	r.writeData(b.root)
	r.flushFragment()

	rootReference, err := r.writeInode(b.root, count+1)
	if err != nil {
		return nil, err
	}

	super := squashfs.Superblock{
		Magic:             squashfs.Magic,
		InodeCount:        count,
		ModTime:           uint32(b.ModTime.Unix()),
		BlockSize:         uint32(blockSize),
		FragmentCount:     uint32(len(r.fragments)),
		Compression:       b.Compression,
		BlockLog:          uint16(blockLog),
		Flags:             squashfs.FlagNoXattrs,
		VersionMajor:      4,
		VersionMinor:      0,
		RootInode:         rootReference,
		XattrIDTableStart: squashfs.NoTable,
		ExportTableStart:  squashfs.NoTable,
	}
	if b.Compression == 0 {
		super.Compression = squashfs.CompressionGzip
		super.Flags |= squashfs.FlagUncompressedInodes | squashfs.FlagUncompressedData |
			squashfs.FlagUncompressedFragments | squashfs.FlagUncompressedIDs
	}
	if b.NoFragments {
		super.Flags |= squashfs.FlagNoFragments
	}

	r.inodes.flush()
	r.listings.flush()

	super.InodeTableStart = uint64(r.out.Len())
	r.out.Write(r.inodes.out.Bytes())
	super.DirectoryTableStart = uint64(r.out.Len())
	r.out.Write(r.listings.out.Bytes())

	super.FragmentTableStart = squashfs.NoTable
	if len(r.fragments) > 0 {
		var entries []byte
		for _, fragment := range r.fragments {
			entries = binary.LittleEndian.AppendUint64(entries, fragment.start)
			entries = binary.LittleEndian.AppendUint32(entries, fragment.word)
			entries = binary.LittleEndian.AppendUint32(entries, 0)
		}
		super.FragmentTableStart = r.writeIndexedTable(entries)
	}

	idList := make([]uint32, len(r.ids))
	for id, index := range r.ids {
		idList[index] = id
	}
	var idBytes []byte
	for _, id := range idList {
		idBytes = binary.LittleEndian.AppendUint32(idBytes, id)
	}
	super.IDCount = uint16(len(idList))
	super.IDTableStart = r.writeIndexedTable(idBytes)

	super.BytesUsed = uint64(r.out.Len())
	image := r.out.Bytes()
	copy(image, super.Encode())

	if padding := len(image) % 4096; padding != 0 {
		image = append(image, make([]byte, 4096-padding)...)
	}
	return image, nil
}

// MustBuild renders the image or fails the test.
func (b *Builder) MustBuild(t testing.TB) []byte {
	t.Helper()
	image, err := b.Build()
	if err != nil {
		t.Fatalf("building squashfs image: %v", err)
	}
	return image
}

// WriteFile renders the image, prepends prefix, and writes the result
// to a new file under t.TempDir(). It returns the path.
func (b *Builder) WriteFile(t testing.TB, prefix []byte) string {
	t.Helper()
	data := append(append([]byte{}, prefix...), b.MustBuild(t)...)
	path := filepath.Join(t.TempDir(), "image.squashfs")
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	return path
}

type fragmentRecord struct {
	start uint64
	word  uint32
}

type renderer struct {
	builder   *Builder
	blockSize int
	compress  compressor
	out       bytes.Buffer

	next      uint32
	ids       map[uint32]uint16
	fragments []fragmentRecord
	pending   []byte

	inodes   *metadataWriter
	listings *metadataWriter
}

func sortedNames(n *node) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// number assigns inode numbers depth-first and returns the count.
func (r *renderer) number(n *node) uint32 {
	if n.number != 0 {
		return r.next
	}
	r.next++
	n.number = r.next
	for _, name := range sortedNames(n) {
		r.number(n.children[name])
	}
	return r.next
}

func (r *renderer) countLinks(dir *node) {
	dir.links = 2
	for _, name := range sortedNames(dir) {
		child := dir.children[name]
		switch child.kind {
		case squashfs.TypeDirectory:
			dir.links++
			r.countLinks(child)
		default:
			child.links++
		}
	}
}

func (r *renderer) id(value uint32) uint16 {
	if index, ok := r.ids[value]; ok {
		return index
	}
	index := uint16(len(r.ids))
	r.ids[value] = index
	return index
}

// writeData lays out file contents in depth-first order.
func (r *renderer) writeData(dir *node) {
	for _, name := range sortedNames(dir) {
		child := dir.children[name]
		switch child.kind {
		case squashfs.TypeDirectory:
			r.writeData(child)
		case squashfs.TypeRegular:
			if !child.hasData {
				r.writeFile(child)
			}
		}
	}
}

func (r *renderer) writeFile(file *node) {
	file.hasData = true
	file.fragment = 0xffffffff
	file.blocksStart = uint64(r.out.Len())

	content := file.content
	full := len(content) / r.blockSize
	tail := content[full*r.blockSize:]
	if r.builder.NoFragments && len(tail) > 0 {
		full++
		tail = nil
	}

	for i := range full {
		end := min((i+1)*r.blockSize, len(content))
		file.blockWords = append(file.blockWords, r.writeBlock(content[i*r.blockSize:end]))
	}

	if len(tail) > 0 {
		if len(r.pending)+len(tail) > r.blockSize {
			r.flushFragment()
		}
		file.fragment = uint32(len(r.fragments))
		file.fragOffset = uint32(len(r.pending))
		r.pending = append(r.pending, tail...)
	}
}

// writeBlock stores one data block and returns its size word.
func (r *renderer) writeBlock(block []byte) uint32 {
	if r.compress != nil {
		if compressed := r.compress(block); compressed != nil {
			r.out.Write(compressed)
			return uint32(len(compressed))
		}
	}
	r.out.Write(block)
	return uint32(len(block)) | 1<<24
}

func (r *renderer) flushFragment() {
	if len(r.pending) == 0 {
		return
	}
	start := uint64(r.out.Len())
	word := r.writeBlock(r.pending)
	r.fragments = append(r.fragments, fragmentRecord{start: start, word: word})
	r.pending = nil
}

// writeInode writes a node's inode (children first for directories)
// and returns its reference.
func (r *renderer) writeInode(n *node, parent uint32) (uint64, error) {
	if n.written {
		return n.reference, nil
	}

	var listingBlock uint32
	var listingOffset uint16
	var listingSize int
	if n.kind == squashfs.TypeDirectory {
		type child struct {
			name      string
			node      *node
			reference uint64
		}
		var children []child
		for _, name := range sortedNames(n) {
			reference, err := r.writeInode(n.children[name], n.number)
			if err != nil {
				return 0, err
			}
			children = append(children, child{name: name, node: n.children[name], reference: reference})
		}

		position := r.listings.position()
		listingBlock = uint32(position >> 16)
		listingOffset = uint16(position & 0xffff)

		var listing []byte
		for start := 0; start < len(children); {
			base := children[start]
			end := start + 1
			for end < len(children) && end-start < 256 &&
				children[end].reference>>16 == base.reference>>16 &&
				fitsInt16(int64(children[end].node.number)-int64(base.node.number)) {
				end++
			}
			listing = binary.LittleEndian.AppendUint32(listing, uint32(end-start-1))
			listing = binary.LittleEndian.AppendUint32(listing, uint32(base.reference>>16))
			listing = binary.LittleEndian.AppendUint32(listing, base.node.number)
			for _, entry := range children[start:end] {
				listing = binary.LittleEndian.AppendUint16(listing, uint16(entry.reference&0xffff))
				listing = binary.LittleEndian.AppendUint16(listing, uint16(int16(int64(entry.node.number)-int64(base.node.number))))
				listing = binary.LittleEndian.AppendUint16(listing, uint16(entry.node.kind))
				listing = binary.LittleEndian.AppendUint16(listing, uint16(len(entry.name)-1))
				listing = append(listing, entry.name...)
			}
			start = end
		}
		r.listings.write(listing)
		listingSize = len(listing) + 3
		if listingSize > 0xffff {
			return 0, fmt.Errorf("directory listing of %d bytes needs an extended directory inode", listingSize)
		}
	}

	rawType := uint16(n.kind)
	if n.kind == squashfs.TypeRegular && (n.links > 1 || n.blocksStart > 0xffffffff || len(n.content) > 0xffffffff) {
		rawType = 9
	}

	var inode []byte
	inode = binary.LittleEndian.AppendUint16(inode, rawType)
	inode = binary.LittleEndian.AppendUint16(inode, n.perm)
	inode = binary.LittleEndian.AppendUint16(inode, r.id(n.uid))
	inode = binary.LittleEndian.AppendUint16(inode, r.id(n.gid))
	inode = binary.LittleEndian.AppendUint32(inode, uint32(r.builder.ModTime.Unix()))
	inode = binary.LittleEndian.AppendUint32(inode, n.number)

	switch rawType {
	case 1:
		inode = binary.LittleEndian.AppendUint32(inode, listingBlock)
		inode = binary.LittleEndian.AppendUint32(inode, n.links)
		inode = binary.LittleEndian.AppendUint16(inode, uint16(listingSize))
		inode = binary.LittleEndian.AppendUint16(inode, listingOffset)
		inode = binary.LittleEndian.AppendUint32(inode, parent)
	case 2:
		inode = binary.LittleEndian.AppendUint32(inode, uint32(n.blocksStart))
		inode = binary.LittleEndian.AppendUint32(inode, n.fragment)
		inode = binary.LittleEndian.AppendUint32(inode, n.fragOffset)
		inode = binary.LittleEndian.AppendUint32(inode, uint32(len(n.content)))
		for _, word := range n.blockWords {
			inode = binary.LittleEndian.AppendUint32(inode, word)
		}
	case 9:
		inode = binary.LittleEndian.AppendUint64(inode, n.blocksStart)
		inode = binary.LittleEndian.AppendUint64(inode, uint64(len(n.content)))
		inode = binary.LittleEndian.AppendUint64(inode, 0)
		inode = binary.LittleEndian.AppendUint32(inode, n.links)
		inode = binary.LittleEndian.AppendUint32(inode, n.fragment)
		inode = binary.LittleEndian.AppendUint32(inode, n.fragOffset)
		inode = binary.LittleEndian.AppendUint32(inode, 0xffffffff)
		for _, word := range n.blockWords {
			inode = binary.LittleEndian.AppendUint32(inode, word)
		}
	case 3:
		inode = binary.LittleEndian.AppendUint32(inode, n.links)
		inode = binary.LittleEndian.AppendUint32(inode, uint32(len(n.target)))
		inode = append(inode, n.target...)
	case 6:
		inode = binary.LittleEndian.AppendUint32(inode, n.links)
	default:
		return 0, fmt.Errorf("cannot write inode type %d", rawType)
	}

	n.reference = r.inodes.position()
	n.written = true
	r.inodes.write(inode)
	return n.reference, nil
}

func fitsInt16(value int64) bool {
	return value >= -32768 && value <= 32767
}

// writeIndexedTable writes table as metadata blocks followed by the
// u64 index of their positions, and returns the index position.
func (r *renderer) writeIndexedTable(table []byte) uint64 {
	var index []byte
	for start := 0; start < len(table); start += 8192 {
		end := min(start+8192, len(table))
		index = binary.LittleEndian.AppendUint64(index, uint64(r.out.Len()))
		writer := &metadataWriter{compress: r.compress}
		writer.write(table[start:end])
		writer.flush()
		r.out.Write(writer.out.Bytes())
	}
	position := uint64(r.out.Len())
	r.out.Write(index)
	return position
}

// metadataWriter packs a byte stream into metadata blocks.
type metadataWriter struct {
	compress compressor
	out      bytes.Buffer
	current  []byte
}

// position is the reference of the next byte written: the finished
// blocks' length shifted left 16 bits, plus the offset in the open
// block.
func (w *metadataWriter) position() uint64 {
	return uint64(w.out.Len())<<16 | uint64(len(w.current))
}

func (w *metadataWriter) write(data []byte) {
	for len(data) > 0 {
		take := min(8192-len(w.current), len(data))
		w.current = append(w.current, data[:take]...)
		data = data[take:]
		if len(w.current) == 8192 {
			w.flush()
		}
	}
}

func (w *metadataWriter) flush() {
	if len(w.current) == 0 {
		return
	}
	block := w.current
	word := uint16(len(block)) | 0x8000
	if w.compress != nil {
		if compressed := w.compress(block); compressed != nil {
			block = compressed
			word = uint16(len(block))
		}
	}
	w.out.Write(binary.LittleEndian.AppendUint16(nil, word))
	w.out.Write(block)
	w.current = nil
}
