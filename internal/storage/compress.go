package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a filesystem provider encodes chunks at rest.
// Checksums are always computed on the uncompressed bytes.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression resolves a compression name; empty means none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("%w: unknown compression %q", models.ErrInvalidInput, name)
	}
}

type codec interface {
	encode(data []byte) ([]byte, error)
	decode(data []byte) ([]byte, error)
}

func newCodec(c Compression) (codec, error) {
	switch c {
	case "", CompressionNone:
		return noneCodec{}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return &zstdCodec{enc: enc, dec: dec}, nil
	case CompressionLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", models.ErrInvalidInput, c)
	}
}

type noneCodec struct{}

func (noneCodec) encode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) decode(data []byte) ([]byte, error) { return data, nil }

// EncodeAll and DecodeAll are safe for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (c *zstdCodec) encode(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) decode(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode zstd chunk: %w", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to encode lz4 chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish lz4 chunk: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) decode(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode lz4 chunk: %w", err)
	}
	return out, nil
}
