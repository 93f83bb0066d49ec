// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Type FileType

	// Number is the child's inode number.
	Number uint32

	// Reference locates the child inode for InodeAt.
	Reference uint64
}

// listingOverhead is the size reported for an empty directory; the
// kernel's squashfs driver counts "." and ".." as three bytes.
const listingOverhead = 3

// ReadDir returns a directory's entries in on-disk (sorted) order.
func (image *Image) ReadDir(dir *Inode) ([]DirEntry, error) {
	if dir.Type != TypeDirectory {
		return nil, fmt.Errorf("listing inode %d: %s is not a directory", dir.Number, dir.Type)
	}
	remaining := dir.Size - listingOverhead
	if remaining <= 0 {
		return nil, nil
	}

	reader, err := image.newMetadataReader(int64(image.super.DirectoryTableStart)+int64(dir.listingBlock), int(dir.listingOffset))
	if err != nil {
		return nil, fmt.Errorf("listing inode %d: %w", dir.Number, err)
	}

	var entries []DirEntry
	for remaining > 0 {
		header, err := reader.read(12)
		if err != nil {
			return nil, fmt.Errorf("listing inode %d: %w", dir.Number, err)
		}
		remaining -= 12
		count := int(binary.LittleEndian.Uint32(header[0:])) + 1
		start := binary.LittleEndian.Uint32(header[4:])
		base := binary.LittleEndian.Uint32(header[8:])
		if count > 256 {
			return nil, fmt.Errorf("listing inode %d: header claims %d entries", dir.Number, count)
		}

		for range count {
			raw, err := reader.read(8)
			if err != nil {
				return nil, fmt.Errorf("listing inode %d: %w", dir.Number, err)
			}
			offset := binary.LittleEndian.Uint16(raw[0:])
			delta := int16(binary.LittleEndian.Uint16(raw[2:]))
			entryType := binary.LittleEndian.Uint16(raw[4:])
			nameSize := int(binary.LittleEndian.Uint16(raw[6:])) + 1

			name, err := reader.read(nameSize)
			if err != nil {
				return nil, fmt.Errorf("listing inode %d: %w", dir.Number, err)
			}
			remaining -= int64(8 + nameSize)

			entry := DirEntry{
				Name:      string(name),
				Type:      FileType(entryType),
				Number:    uint32(int64(base) + int64(delta)),
				Reference: uint64(start)<<16 | uint64(offset),
			}
			if entryType > extendedOffset {
				entry.Type = FileType(entryType - extendedOffset)
			}
			if err := validName(entry.Name); err != nil {
				return nil, fmt.Errorf("listing inode %d: %w", dir.Number, err)
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// validName rejects names that would escape or alias their directory
// when joined onto a host path.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("invalid entry name %q", name)
	}
	return nil
}

// Lookup finds name in dir and decodes its inode. It returns an error
// wrapping fs.ErrNotExist when the name is absent.
func (image *Image) Lookup(dir *Inode, name string) (*Inode, error) {
	entries, err := image.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return image.InodeAt(entry.Reference)
		}
	}
	return nil, fmt.Errorf("%s in directory inode %d: %w", name, dir.Number, fs.ErrNotExist)
}

// LookupPath resolves a slash-separated path from the root without
// following symlinks. "" and "." name the root.
func (image *Image) LookupPath(name string) (*Inode, error) {
	current, err := image.Root()
	if err != nil {
		return nil, err
	}
	cleaned := path.Clean("/" + name)
	if cleaned == "/" {
		return current, nil
	}
	for _, component := range strings.Split(cleaned[1:], "/") {
		current, err = image.Lookup(current, component)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// SkipDir returned from a WalkFunc for a directory skips its contents.
var SkipDir = fs.SkipDir

// WalkFunc is called for every entry below the root, parents before
// children. relative is slash-separated with no leading slash.
type WalkFunc func(relative string, inode *Inode) error

// Walk visits every entry of the image depth-first in listing order.
// The root itself is not visited.
func (image *Image) Walk(fn WalkFunc) error {
	root, err := image.Root()
	if err != nil {
		return err
	}
	return image.walk("", root, fn)
}

func (image *Image) walk(prefix string, dir *Inode, fn WalkFunc) error {
	entries, err := image.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		inode, err := image.InodeAt(entry.Reference)
		if err != nil {
			return err
		}
		relative := entry.Name
		if prefix != "" {
			relative = prefix + "/" + entry.Name
		}

		if err := fn(relative, inode); err != nil {
			if errors.Is(err, SkipDir) && inode.Type == TypeDirectory {
				continue
			}
			return err
		}
		if inode.Type == TypeDirectory {
			if err := image.walk(relative, inode, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
