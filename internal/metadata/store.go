// Package metadata persists file and chunk records.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/maneesh/scatterstore/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scatterstore-metadata")

// Store is the durable catalogue of chunked files. GetFile returns the
// record without chunks; GetChunks returns them in ascending sequence order.
// Lookups of unknown ids return models.ErrNotFound.
type Store interface {
	// CreateFile persists the file and all its chunks in one transaction.
	CreateFile(ctx context.Context, file *models.FileRecord, chunks []*models.ChunkRecord) error
	GetFile(ctx context.Context, fileID string) (*models.FileRecord, error)
	ListFiles(ctx context.Context) ([]*models.FileRecord, error)
	GetChunks(ctx context.Context, fileID string) ([]*models.ChunkRecord, error)
	// DeleteChunk is a no-op for an unknown chunk id.
	DeleteChunk(ctx context.Context, chunkID string) error
	// DeleteFile removes the file and any chunk records still attached to it.
	DeleteFile(ctx context.Context, fileID string) error
	TouchFile(ctx context.Context, fileID string, at time.Time) error
	Close() error
}

func checkCreate(file *models.FileRecord, chunks []*models.ChunkRecord) error {
	if file == nil {
		return fmt.Errorf("%w: nil file record", models.ErrInvalidInput)
	}
	if err := file.Validate(); err != nil {
		return err
	}
	for _, c := range chunks {
		if c == nil || c.FileID != file.ID {
			return fmt.Errorf("%w: chunk does not belong to file %s", models.ErrInvalidInput, file.ID)
		}
	}
	return nil
}
