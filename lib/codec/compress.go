// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names a body compression algorithm.
type Compression string

const (
	// CompressionNone sends the body as encoded.
	CompressionNone Compression = "none"

	// CompressionZstd uses zstd at the default level. Best ratio for
	// JSON batches.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 uses the LZ4 frame format. Cheapest CPU cost.
	CompressionLZ4 Compression = "lz4"
)

// MaxDecompressedSize bounds the output of Decompress so a hostile
// body cannot exhaust collector memory.
const MaxDecompressedSize = 32 << 20

// ParseCompression validates a compression name. The empty string
// selects CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// ContentEncoding returns the Content-Encoding header value, or ""
// for CompressionNone.
func (c Compression) ContentEncoding() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "x-lz4"
	default:
		return ""
	}
}

// CompressionForContentEncoding maps a Content-Encoding header to a
// Compression.
func CompressionForContentEncoding(header string) (Compression, error) {
	switch header {
	case "", "identity":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "x-lz4", "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", header)
	}
}

// zstd encoders and decoders are safe for concurrent use and costly
// to build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data. CompressionNone returns data unchanged.
func Compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case "", CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// Decompress reverses Compress.
func Decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case "", CompressionNone:
		return data, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return result, nil
	case CompressionLZ4:
		reader := io.LimitReader(lz4.NewReader(bytes.NewReader(data)), MaxDecompressedSize+1)
		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if len(result) > MaxDecompressedSize {
			return nil, fmt.Errorf("lz4 decompress: output exceeds %d bytes", MaxDecompressedSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}
