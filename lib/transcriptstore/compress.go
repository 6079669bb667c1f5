// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package transcriptstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a transcript body is compressed. The
// value is stored in each file header; changing a value makes existing
// files unreadable.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1

	// CompressionZstd is the default: transcripts are JSON-like text
	// and compress several times over.
	CompressionZstd Compression = 2
)

// String returns the configuration name of the compression.
func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(compression))
}

// ParseCompression parses a configuration name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("transcriptstore: unknown compression %q", name)
}

// errIncompressible reports that compression would not shrink the
// data. The body is then stored uncompressed.
var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transcriptstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transcriptstore: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", compression)
}

func decompress(data []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed body is %d bytes, header says %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", compression)
}
