package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/maneesh/scatterstore/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const chunkFileExt = ".chunk"

// FilesystemProvider keeps each chunk as <baseDir>/<chunkID>.chunk
type FilesystemProvider struct {
	name        string
	baseDir     string
	compression Compression
	codec       codec
}

// NewFilesystemProvider creates baseDir if needed.
func NewFilesystemProvider(name, baseDir string, compression Compression) (*FilesystemProvider, error) {
	if name == "" || baseDir == "" {
		return nil, fmt.Errorf("%w: filesystem provider needs a name and a directory", models.ErrInvalidInput)
	}
	c, err := newCodec(compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}
	return &FilesystemProvider{
		name:        name,
		baseDir:     baseDir,
		compression: compression,
		codec:       c,
	}, nil
}

func (p *FilesystemProvider) Name() string { return p.name }

func (p *FilesystemProvider) chunkPath(chunkID string) (string, error) {
	if err := validateChunkID(chunkID); err != nil {
		return "", err
	}
	return filepath.Join(p.baseDir, chunkID+chunkFileExt), nil
}

// Store writes through a temp file and renames it into place.
func (p *FilesystemProvider) Store(ctx context.Context, chunkID string, data []byte) (string, error) {
	_, span := tracer.Start(ctx, "filesystem.store_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	path, err := p.chunkPath(chunkID)
	if err != nil {
		return "", err
	}

	encoded, err := p.codec.encode(data)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	tmp, err := os.CreateTemp(p.baseDir, ".tmp-"+chunkID+"-*")
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create temp chunk: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		span.RecordError(err)
		return "", fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return "", fmt.Errorf("failed to close chunk: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return "", fmt.Errorf("failed to commit chunk: %w", err)
	}

	span.SetAttributes(attribute.Int("stored_bytes", len(encoded)))
	return path, nil
}

func (p *FilesystemProvider) Retrieve(ctx context.Context, chunkID string) ([]byte, error) {
	_, span := tracer.Start(ctx, "filesystem.retrieve_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
		),
	)
	defer span.End()

	path, err := p.chunkPath(chunkID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: chunk %s in %s", models.ErrNotFound, chunkID, p.name)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read chunk: %w", err)
	}

	data, err := p.codec.decode(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return data, nil
}

// Delete is a no-op for an absent chunk.
func (p *FilesystemProvider) Delete(ctx context.Context, chunkID string) error {
	_, span := tracer.Start(ctx, "filesystem.delete_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
		),
	)
	defer span.End()

	path, err := p.chunkPath(chunkID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func (p *FilesystemProvider) Exists(ctx context.Context, chunkID string) (bool, error) {
	path, err := p.chunkPath(chunkID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to stat chunk: %w", err)
	}
	return true, nil
}

// Stats reports on-disk (possibly compressed) bytes.
func (p *FilesystemProvider) Stats(ctx context.Context) (models.ProviderStats, error) {
	stats := models.ProviderStats{Name: p.name}
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return stats, fmt.Errorf("failed to list chunk directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkFileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.ChunkCount++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

func validateChunkID(chunkID string) error {
	if chunkID == "" || strings.ContainsAny(chunkID, `/\`) || strings.Contains(chunkID, "..") {
		return fmt.Errorf("%w: bad chunk id %q", models.ErrInvalidInput, chunkID)
	}
	return nil
}
