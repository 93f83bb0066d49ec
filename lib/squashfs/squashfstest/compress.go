// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package squashfstest

import (
	"bytes"
	"fmt"

	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// compressor returns the compressed form of block, or nil when
// compression does not make it smaller.
type compressor func(block []byte) []byte

func newCompressor(compression squashfs.Compression) (compressor, error) {
	var compress func([]byte) ([]byte, error)
	switch compression {
	case 0:
		return nil, nil
	case squashfs.CompressionGzip:
		compress = compressZlib
	case squashfs.CompressionLZMA:
		compress = compressLZMA
	case squashfs.CompressionXZ:
		compress = compressXZ
	case squashfs.CompressionLZ4:
		compress = compressLZ4
	case squashfs.CompressionZstd:
		compress = compressZstd
	default:
		return nil, fmt.Errorf("squashfstest cannot write %s images", compression)
	}
	return func(block []byte) []byte {
		compressed, err := compress(block)
		if err != nil {
			panic(fmt.Sprintf("squashfstest: %s compression failed: %v", compression, err))
		}
		if len(compressed) == 0 || len(compressed) >= len(block) {
			return nil
		}
		return compressed
	}, nil
}

func compressZlib(block []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := zlib.NewWriter(&buffer)
	if _, err := writer.Write(block); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func compressLZMA(block []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := lzma.NewWriter(&buffer)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(block); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func compressXZ(block []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := xz.NewWriter(&buffer)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(block); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func compressLZ4(block []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(block)))
	written, err := lz4.CompressBlock(block, destination, nil)
	if err != nil {
		return nil, err
	}
	return destination[:written], nil
}

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("squashfstest: zstd encoder initialization failed: " + err.Error())
	}
}

func compressZstd(block []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(block, nil), nil
}
