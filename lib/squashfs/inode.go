// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

// FileType is the kind of object an inode describes. Extended inode
// variants map onto the same values as their basic forms.
type FileType uint16

const (
	TypeDirectory   FileType = 1
	TypeRegular     FileType = 2
	TypeSymlink     FileType = 3
	TypeBlockDevice FileType = 4
	TypeCharDevice  FileType = 5
	TypeFifo        FileType = 6
	TypeSocket      FileType = 7
)

// extendedOffset converts an extended inode type (8..14) to its basic
// form.
const extendedOffset = 7

func (t FileType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "regular file"
	case TypeSymlink:
		return "symlink"
	case TypeBlockDevice:
		return "block device"
	case TypeCharDevice:
		return "character device"
	case TypeFifo:
		return "fifo"
	case TypeSocket:
		return "socket"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

// noFragment in an inode's fragment index means the file's tail is
// stored in a data block of its own.
const noFragment = 0xffffffff

// Inode is a decoded inode. It is immutable once returned.
type Inode struct {
	Type FileType

	// Number is the inode number, 1..InodeCount.
	Number uint32

	// Permissions holds the permission, setuid, setgid and sticky
	// bits.
	Permissions uint16

	UID     uint32
	GID     uint32
	ModTime time.Time

	// Size is the byte length of a regular file, the target length of
	// a symlink, or the listing size of a directory.
	Size int64

	LinkCount uint32

	// Device is the encoded device number of block and character
	// devices.
	Device uint32

	// Reference is the inode's 48-bit location in the inode table.
	Reference uint64

	// Regular files.
	blockOffsets   []int64
	blockSizes     []uint32
	fragment       uint32
	fragmentOffset uint32

	// Directories.
	listingBlock  uint32
	listingOffset uint16
	parent        uint32

	// Symlinks.
	target string
}

// Mode returns the inode's permissions and type as an fs.FileMode.
func (inode *Inode) Mode() fs.FileMode {
	mode := fs.FileMode(inode.Permissions & 0o777)
	if inode.Permissions&syscall.S_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if inode.Permissions&syscall.S_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if inode.Permissions&syscall.S_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	switch inode.Type {
	case TypeDirectory:
		mode |= fs.ModeDir
	case TypeSymlink:
		mode |= fs.ModeSymlink
	case TypeBlockDevice:
		mode |= fs.ModeDevice
	case TypeCharDevice:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case TypeFifo:
		mode |= fs.ModeNamedPipe
	case TypeSocket:
		mode |= fs.ModeSocket
	}
	return mode
}

// UnixMode returns the inode's st_mode: S_IF* type bits plus
// Permissions.
func (inode *Inode) UnixMode() uint32 {
	return UnixType(inode.Type) | uint32(inode.Permissions&0o7777)
}

// UnixType returns the S_IF* bits for a file type.
func UnixType(t FileType) uint32 {
	switch t {
	case TypeDirectory:
		return syscall.S_IFDIR
	case TypeRegular:
		return syscall.S_IFREG
	case TypeSymlink:
		return syscall.S_IFLNK
	case TypeBlockDevice:
		return syscall.S_IFBLK
	case TypeCharDevice:
		return syscall.S_IFCHR
	case TypeFifo:
		return syscall.S_IFIFO
	case TypeSocket:
		return syscall.S_IFSOCK
	default:
		return 0
	}
}

// InodeAt decodes the inode at a 48-bit inode table reference.
func (image *Image) InodeAt(reference uint64) (*Inode, error) {
	reader, err := image.newReferenceReader(image.super.InodeTableStart, reference)
	if err != nil {
		return nil, fmt.Errorf("inode %#x: %w", reference, err)
	}
	inode, err := image.parseInode(reader)
	if err != nil {
		return nil, fmt.Errorf("inode %#x: %w", reference, err)
	}
	inode.Reference = reference
	return inode, nil
}

func (image *Image) parseInode(reader *metadataReader) (*Inode, error) {
	header, err := reader.read(16)
	if err != nil {
		return nil, err
	}
	rawType := binary.LittleEndian.Uint16(header[0:])
	uid, err := image.id(binary.LittleEndian.Uint16(header[4:]))
	if err != nil {
		return nil, err
	}
	gid, err := image.id(binary.LittleEndian.Uint16(header[6:]))
	if err != nil {
		return nil, err
	}

	inode := &Inode{
		Permissions: binary.LittleEndian.Uint16(header[2:]) & 0o7777,
		UID:         uid,
		GID:         gid,
		ModTime:     time.Unix(int64(binary.LittleEndian.Uint32(header[8:])), 0),
		Number:      binary.LittleEndian.Uint32(header[12:]),
		LinkCount:   1,
	}
	if inode.Number == 0 || inode.Number > image.super.InodeCount {
		return nil, fmt.Errorf("inode number %d outside 1..%d", inode.Number, image.super.InodeCount)
	}

	extended := rawType > extendedOffset
	inode.Type = FileType(rawType)
	if extended {
		inode.Type = FileType(rawType - extendedOffset)
	}

	switch {
	case rawType == 1:
		err = image.parseBasicDirectory(reader, inode)
	case rawType == 8:
		err = image.parseExtendedDirectory(reader, inode)
	case rawType == 2:
		err = image.parseBasicFile(reader, inode)
	case rawType == 9:
		err = image.parseExtendedFile(reader, inode)
	case rawType == 3 || rawType == 10:
		err = parseSymlink(reader, inode)
	case rawType == 4 || rawType == 5 || rawType == 11 || rawType == 12:
		err = parseDevice(reader, inode)
	case rawType == 6 || rawType == 7 || rawType == 13 || rawType == 14:
		err = parseIPC(reader, inode)
	default:
		return nil, fmt.Errorf("unknown inode type %d", rawType)
	}
	if err != nil {
		return nil, fmt.Errorf("%s inode %d: %w", inode.Type, inode.Number, err)
	}
	return inode, nil
}

func (image *Image) parseBasicDirectory(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(16)
	if err != nil {
		return err
	}
	inode.listingBlock = binary.LittleEndian.Uint32(body[0:])
	inode.LinkCount = binary.LittleEndian.Uint32(body[4:])
	inode.Size = int64(binary.LittleEndian.Uint16(body[8:]))
	inode.listingOffset = binary.LittleEndian.Uint16(body[10:])
	inode.parent = binary.LittleEndian.Uint32(body[12:])
	return nil
}

func (image *Image) parseExtendedDirectory(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(24)
	if err != nil {
		return err
	}
	inode.LinkCount = binary.LittleEndian.Uint32(body[0:])
	inode.Size = int64(binary.LittleEndian.Uint32(body[4:]))
	inode.listingBlock = binary.LittleEndian.Uint32(body[8:])
	inode.parent = binary.LittleEndian.Uint32(body[12:])
	// The directory index that follows (body[16:18] entries) speeds up
	// lookups in huge directories; listings are read linearly here.
	inode.listingOffset = binary.LittleEndian.Uint16(body[18:])
	return nil
}

func (image *Image) parseBasicFile(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(16)
	if err != nil {
		return err
	}
	blocksStart := uint64(binary.LittleEndian.Uint32(body[0:]))
	inode.fragment = binary.LittleEndian.Uint32(body[4:])
	inode.fragmentOffset = binary.LittleEndian.Uint32(body[8:])
	inode.Size = int64(binary.LittleEndian.Uint32(body[12:]))
	return image.parseBlockList(reader, inode, blocksStart)
}

func (image *Image) parseExtendedFile(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(40)
	if err != nil {
		return err
	}
	blocksStart := binary.LittleEndian.Uint64(body[0:])
	size := binary.LittleEndian.Uint64(body[8:])
	if size > 1<<62 {
		return fmt.Errorf("file size %d out of range", size)
	}
	inode.Size = int64(size)
	inode.LinkCount = binary.LittleEndian.Uint32(body[24:])
	inode.fragment = binary.LittleEndian.Uint32(body[28:])
	inode.fragmentOffset = binary.LittleEndian.Uint32(body[32:])
	return image.parseBlockList(reader, inode, blocksStart)
}

// parseBlockList reads the per-block size words that follow a file
// inode and precomputes each block's position.
func (image *Image) parseBlockList(reader *metadataReader, inode *Inode, blocksStart uint64) error {
	blockSize := int64(image.super.BlockSize)
	count := inode.Size / blockSize
	if inode.fragment == noFragment && inode.Size%blockSize != 0 {
		count++
	}
	if inode.fragment != noFragment && int(inode.fragment) >= len(image.fragments) {
		return fmt.Errorf("fragment index %d outside fragment table (%d entries)", inode.fragment, len(image.fragments))
	}
	if count > image.size/4 {
		return fmt.Errorf("block count %d exceeds image size", count)
	}

	raw, err := reader.read(int(count) * 4)
	if err != nil {
		return err
	}
	inode.blockSizes = make([]uint32, count)
	inode.blockOffsets = make([]int64, count)
	position := int64(blocksStart)
	for i := range inode.blockSizes {
		word := binary.LittleEndian.Uint32(raw[4*i:])
		inode.blockSizes[i] = word
		inode.blockOffsets[i] = position
		position += int64(word & blockSizeMask)
	}
	return nil
}

func parseSymlink(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(8)
	if err != nil {
		return err
	}
	inode.LinkCount = binary.LittleEndian.Uint32(body[0:])
	length := binary.LittleEndian.Uint32(body[4:])
	if length > 4096 {
		return fmt.Errorf("symlink target length %d exceeds PATH_MAX", length)
	}
	target, err := reader.read(int(length))
	if err != nil {
		return err
	}
	inode.target = string(target)
	inode.Size = int64(length)
	return nil
}

func parseDevice(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(8)
	if err != nil {
		return err
	}
	inode.LinkCount = binary.LittleEndian.Uint32(body[0:])
	inode.Device = binary.LittleEndian.Uint32(body[4:])
	return nil
}

func parseIPC(reader *metadataReader, inode *Inode) error {
	body, err := reader.read(4)
	if err != nil {
		return err
	}
	inode.LinkCount = binary.LittleEndian.Uint32(body[0:])
	return nil
}
