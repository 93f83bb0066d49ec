// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
)

// filesystem is the state shared by every node of one mount.
type filesystem struct {
	image  *squashfs.Image
	logger *slog.Logger
	idle   *idleTracker
}

// node is one inode of the image.
type node struct {
	gofuse.Inode
	filesystem *filesystem
	inode      *squashfs.Inode
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeReader = (*node)(nil)
var _ gofuse.NodeReleaser = (*node)(nil)
var _ gofuse.NodeReadlinker = (*node)(nil)
var _ gofuse.NodeCreater = (*node)(nil)
var _ gofuse.NodeListxattrer = (*node)(nil)
var _ gofuse.NodeGetxattrer = (*node)(nil)
var _ gofuse.NodeStatfser = (*node)(nil)

// fillAttr copies an inode's metadata into a FUSE attribute block.
func fillAttr(inode *squashfs.Inode, blockSize int, out *fuse.Attr) {
	out.Ino = uint64(inode.Number)
	out.Mode = inode.UnixMode()
	out.Nlink = inode.LinkCount
	out.Owner = fuse.Owner{Uid: inode.UID, Gid: inode.GID}
	out.Blksize = uint32(blockSize)
	switch inode.Type {
	case squashfs.TypeRegular, squashfs.TypeSymlink:
		out.Size = uint64(inode.Size)
		out.Blocks = (out.Size + 511) / 512
	case squashfs.TypeBlockDevice, squashfs.TypeCharDevice:
		out.Rdev = inode.Device
	}
	modTime := inode.ModTime
	out.SetTimes(&modTime, &modTime, &modTime)
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.filesystem.idle.touch()
	fillAttr(n.inode, n.filesystem.image.BlockSize(), &out.Attr)
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	n.filesystem.idle.touch()
	if n.inode.Type != squashfs.TypeDirectory {
		return nil, syscall.ENOTDIR
	}

	child, err := n.filesystem.image.Lookup(n.inode, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, syscall.ENOENT
		}
		n.filesystem.logger.Error("lookup failed",
			"directory", n.inode.Number,
			"name", name,
			"error", err,
		)
		return nil, syscall.EIO
	}

	fillAttr(child, n.filesystem.image.BlockSize(), &out.Attr)
	return n.NewInode(ctx, &node{filesystem: n.filesystem, inode: child}, gofuse.StableAttr{
		Mode: squashfs.UnixType(child.Type),
		Ino:  uint64(child.Number),
	}), 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	n.filesystem.idle.touch()
	if n.inode.Type != squashfs.TypeDirectory {
		return nil, syscall.ENOTDIR
	}

	listing, err := n.filesystem.image.ReadDir(n.inode)
	if err != nil {
		n.filesystem.logger.Error("listing directory failed",
			"directory", n.inode.Number,
			"error", err,
		)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(listing))
	for _, entry := range listing {
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name,
			Mode: squashfs.UnixType(entry.Type),
			Ino:  uint64(entry.Number),
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	n.filesystem.idle.touch()
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if n.inode.Type != squashfs.TypeRegular {
		return nil, 0, syscall.EINVAL
	}
	n.filesystem.idle.opened()
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *node) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	n.filesystem.idle.released()
	return 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.filesystem.idle.touch()
	count, err := n.filesystem.image.ReadAt(n.inode, dest, off)
	if err != nil && err != io.EOF {
		n.filesystem.logger.Error("read failed",
			"inode", n.inode.Number,
			"offset", off,
			"error", err,
		)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:count]), 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	n.filesystem.idle.touch()
	target, err := n.filesystem.image.Readlink(n.inode)
	if err != nil {
		n.filesystem.logger.Error("readlink failed",
			"inode", n.inode.Number,
			"error", err,
		)
		return nil, syscall.EINVAL
	}
	return []byte(target), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

// The image's xattr table is not exposed; every inode has an empty
// attribute set.

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	return 0, 0
}

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	return 0, syscall.ENODATA
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	super := n.filesystem.image.Superblock()
	blockSize := uint64(super.BlockSize)
	out.Bsize = super.BlockSize
	out.Frsize = super.BlockSize
	out.Blocks = (super.BytesUsed + blockSize - 1) / blockSize
	out.Files = uint64(super.InodeCount)
	out.NameLen = 256
	return 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
