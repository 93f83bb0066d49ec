// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
)

// DefaultWindowSize is the copy buffer size.
const DefaultWindowSize = 64 * 1024

// Options controls one extraction.
type Options struct {
	// Destination is the directory the image root maps onto. It is
	// created if missing.
	Destination string

	// Pattern selects entries by image-relative path. Empty selects
	// everything. See Match for the syntax.
	Pattern string

	// Overwrite rewrites regular files that already exist. When false
	// an existing file of the recorded size is kept.
	Overwrite bool

	// Verbose prints each selected destination path to Output.
	Verbose bool

	// Output receives verbose listings. Nil means os.Stdout.
	Output io.Writer

	// WindowSize is the copy buffer size. Zero means
	// DefaultWindowSize.
	WindowSize int

	// Logger receives per-entry diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Stats counts what an extraction did.
type Stats struct {
	Directories int
	Files       int
	Bytes       int64
	Hardlinks   int
	Symlinks    int
	Skipped     int
	Unsupported int
}

// Error is an extraction failure at one destination path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Match reports whether an image-relative path is selected by pattern.
// Wildcards follow shell globbing with two refinements: "*" and "?"
// never match "/", and a pattern that matches a leading directory
// selects everything beneath it. Bracket expressions are negated with
// either "[!" or "[^". The empty pattern matches everything; a
// malformed pattern matches nothing.
func Match(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	pattern = bracketNegation(pattern)
	if globMatch(pattern, name) {
		return true
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' && globMatch(pattern, name[:i]) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

// bracketNegation rewrites the "[!" negation of shell patterns into the
// "[^" form path.Match understands.
func bracketNegation(pattern string) string {
	if !strings.Contains(pattern, "[!") {
		return pattern
	}
	var builder strings.Builder
	inBracket := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			builder.WriteByte(c)
			i++
			c = pattern[i]
		case !inBracket && c == '[':
			inBracket = true
			builder.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '!' {
				builder.WriteByte('^')
				i++
			}
			continue
		case inBracket && c == ']':
			inBracket = false
		}
		builder.WriteByte(c)
	}
	return builder.String()
}

// ExtractFile extracts the image found offset bytes into the file at
// imagePath.
func ExtractFile(imagePath string, offset int64, options Options) (Stats, error) {
	image, err := squashfs.Open(imagePath, offset)
	if err != nil {
		return Stats{}, err
	}
	defer image.Close()
	return Extract(image, options)
}

// Extract writes the selected entries of image under
// options.Destination.
func Extract(image *squashfs.Image, options Options) (Stats, error) {
	if options.Destination == "" {
		return Stats{}, fmt.Errorf("extract: destination is required")
	}
	if options.Output == nil {
		options.Output = os.Stdout
	}
	if options.WindowSize <= 0 {
		options.WindowSize = DefaultWindowSize
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Destination, 0o755); err != nil {
		return Stats{}, &Error{Op: "mkdir", Path: options.Destination, Err: err}
	}

	run := &extraction{
		image:     image,
		options:   options,
		hardlinks: make([]string, image.InodeCount()),
		window:    make([]byte, options.WindowSize),
	}
	err := image.Walk(func(relative string, inode *squashfs.Inode) error {
		if !Match(options.Pattern, relative) {
			return nil
		}
		return run.entry(relative, inode)
	})
	return run.stats, err
}

type extraction struct {
	image   *squashfs.Image
	options Options
	stats   Stats

	// hardlinks maps inode number - 1 to the first destination path
	// written for that inode in this run.
	hardlinks []string

	window []byte
}

func (run *extraction) entry(relative string, inode *squashfs.Inode) error {
	destination := filepath.Join(run.options.Destination, filepath.FromSlash(relative))
	if run.options.Verbose {
		fmt.Fprintln(run.options.Output, destination)
	}

	switch inode.Type {
	case squashfs.TypeDirectory:
		if err := run.makeDirectory(relative); err != nil {
			return err
		}
		run.stats.Directories++
		return nil

	case squashfs.TypeRegular:
		return run.regular(relative, destination, inode)

	case squashfs.TypeSymlink:
		run.symlink(relative, destination, inode)
		return nil

	default:
		run.options.Logger.Warn("skipping unsupported file type",
			"path", destination,
			"type", inode.Type.String(),
		)
		run.stats.Unsupported++
		return nil
	}
}

// makeDirectory creates the image-relative directory relative and its
// parents under the destination. Existing directories are kept; any
// other entry in the way, a symlink to a directory included, is
// replaced, so nothing is ever created through a link.
func (run *extraction) makeDirectory(relative string) error {
	current := run.options.Destination
	if relative == "" || relative == "." {
		return nil
	}
	for _, component := range strings.Split(relative, "/") {
		current = filepath.Join(current, component)
		info, err := os.Lstat(current)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			if err := os.Remove(current); err != nil {
				return &Error{Op: "unlink", Path: current, Err: err}
			}
			run.options.Logger.Debug("replaced non-directory with directory", "path", current)
		case !errors.Is(err, fs.ErrNotExist):
			return &Error{Op: "lstat", Path: current, Err: err}
		}
		if err := os.Mkdir(current, 0o755); err != nil {
			return &Error{Op: "mkdir", Path: current, Err: err}
		}
	}
	return nil
}

// clearEntry removes whatever is at destination so a new entry can be
// created there. Directories are removed with their contents.
func clearEntry(destination string) error {
	info, err := os.Lstat(destination)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &Error{Op: "lstat", Path: destination, Err: err}
	}
	if info.IsDir() {
		err = RemoveTree(destination)
	} else {
		err = os.Remove(destination)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "unlink", Path: destination, Err: err}
	}
	return nil
}

func (run *extraction) regular(relative, destination string, inode *squashfs.Inode) error {
	logger := run.options.Logger
	slot := inode.Number - 1

	if first := run.hardlinks[slot]; first != "" {
		return run.link(relative, first, destination)
	}

	if err := run.makeDirectory(path.Dir(relative)); err != nil {
		return err
	}
	if !run.options.Overwrite {
		if info, err := os.Lstat(destination); err == nil && info.Mode().IsRegular() && info.Size() == inode.Size {
			logger.Debug("keeping existing file", "path", destination, "size", inode.Size)
			run.hardlinks[slot] = destination
			run.stats.Skipped++
			return nil
		}
	}

	if err := clearEntry(destination); err != nil {
		return err
	}

	file, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL|unix.O_NOFOLLOW, 0o644)
	if err != nil {
		return &Error{Op: "create", Path: destination, Err: err}
	}
	written, err := run.copyContent(file, inode)
	if err != nil {
		file.Close()
		return &Error{Op: "write", Path: destination, Err: err}
	}
	mode := inode.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	if err := file.Chmod(mode); err != nil {
		file.Close()
		return &Error{Op: "chmod", Path: destination, Err: err}
	}
	if err := file.Close(); err != nil {
		return &Error{Op: "close", Path: destination, Err: err}
	}

	logger.Debug("extracted file", "path", destination, "bytes", written)
	run.hardlinks[slot] = destination
	run.stats.Files++
	run.stats.Bytes += written
	return nil
}

func (run *extraction) copyContent(file *os.File, inode *squashfs.Inode) (int64, error) {
	var offset int64
	for offset < inode.Size {
		n, err := run.image.ReadAt(inode, run.window, offset)
		if n > 0 {
			if _, writeErr := file.Write(run.window[:n]); writeErr != nil {
				return offset, writeErr
			}
			offset += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return offset, err
		}
	}
	if offset != inode.Size {
		return offset, fmt.Errorf("copied %d of %d bytes", offset, inode.Size)
	}
	return offset, nil
}

// link makes destination a hardlink of first, the path already written
// for the same inode.
func (run *extraction) link(relative, first, destination string) error {
	if firstInfo, err := os.Stat(first); err == nil {
		if info, err := os.Lstat(destination); err == nil && os.SameFile(firstInfo, info) {
			run.stats.Skipped++
			return nil
		}
	}

	if err := run.makeDirectory(path.Dir(relative)); err != nil {
		return err
	}
	if err := clearEntry(destination); err != nil {
		return err
	}
	if err := os.Link(first, destination); err != nil {
		return &Error{Op: "link", Path: destination, Err: err}
	}
	run.options.Logger.Debug("hardlinked file", "path", destination, "target", first)
	run.stats.Hardlinks++
	return nil
}

func (run *extraction) symlink(relative, destination string, inode *squashfs.Inode) {
	logger := run.options.Logger
	target, err := run.image.Readlink(inode)
	if err != nil {
		logger.Warn("cannot read symlink target", "path", destination, "error", err)
		return
	}

	if err := run.makeDirectory(path.Dir(relative)); err != nil {
		logger.Warn("cannot create symlink parent", "path", destination, "error", err)
		return
	}
	if err := clearEntry(destination); err != nil {
		logger.Warn("cannot replace existing entry with symlink", "path", destination, "error", err)
	}
	if err := os.Symlink(target, destination); err != nil {
		logger.Warn("cannot create symlink", "path", destination, "target", target, "error", err)
		return
	}
	run.stats.Symlinks++
}

// cachePrefix names extract-and-run cache directories.
const cachePrefix = "appimage_extracted_"

// CacheDir returns the extract-and-run cache directory for a bundle
// fingerprint under tempBase.
func CacheDir(tempBase, fingerprint string) string {
	return filepath.Join(tempBase, cachePrefix+strings.ToLower(fingerprint))
}
