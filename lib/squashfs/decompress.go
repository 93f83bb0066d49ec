// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// decompressor expands one block. limit is the largest output the
// block may legitimately produce; more is treated as corruption.
type decompressor func(compressed []byte, limit int) ([]byte, error)

// zstdDecoder is shared by every image. DecodeAll is safe for
// concurrent use.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("squashfs: zstd decoder initialization failed: " + err.Error())
	}
}

func newDecompressor(compression Compression) (decompressor, error) {
	switch compression {
	case CompressionGzip:
		return decompressZlib, nil
	case CompressionLZMA:
		return decompressLZMA, nil
	case CompressionXZ:
		return decompressXZ, nil
	case CompressionLZ4:
		return decompressLZ4, nil
	case CompressionZstd:
		return decompressZstd, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}

func decompressZlib(compressed []byte, limit int) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer reader.Close()
	return readLimited(reader, limit, "zlib")
}

func decompressLZMA(compressed []byte, limit int) ([]byte, error) {
	reader, err := lzma.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("lzma decompress: %w", err)
	}
	return readLimited(reader, limit, "lzma")
}

func decompressXZ(compressed []byte, limit int) ([]byte, error) {
	reader, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("xz decompress: %w", err)
	}
	return readLimited(reader, limit, "xz")
}

func decompressLZ4(compressed []byte, limit int) ([]byte, error) {
	destination := make([]byte, limit)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return destination[:read], nil
}

func decompressZstd(compressed []byte, limit int) ([]byte, error) {
	destination, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, limit))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(destination) > limit {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, limit %d", len(destination), limit)
	}
	return destination, nil
}

func readLimited(reader io.Reader, limit int, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", name, err)
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%s decompress: output exceeds %d bytes", name, limit)
	}
	return data, nil
}
