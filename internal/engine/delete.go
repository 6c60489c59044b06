package engine

import (
	"context"
	"fmt"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeleteFile removes the chunk bytes, the chunk records and the file
// record, in that order. Chunk cleanup is best effort: a chunk whose
// provider is gone or fails is logged and skipped. The call succeeds only
// if the file record itself was removed; an unknown id returns
// models.ErrNotFound without touching any provider.
func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "engine.delete_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	if fileID == "" {
		return fmt.Errorf("%w: file id is empty", models.ErrInvalidInput)
	}

	if _, err := s.store.GetFile(ctx, fileID); err != nil {
		return err
	}
	chunks, err := s.store.GetChunks(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load chunks: %w", err)
	}

	log := s.log.WithField("file_id", fileID)
	skipped := 0
	for _, c := range chunks {
		clog := log.WithFields(logrus.Fields{"chunk": c.SequenceNumber, "provider": c.StorageProviderName})

		provider, err := s.registry.Get(c.StorageProviderName)
		if err != nil {
			clog.WithError(err).Warn("Skipping chunk with unknown provider")
			skipped++
		} else if err := provider.Delete(ctx, c.ID); err != nil {
			clog.WithError(err).Warn("Failed to delete chunk bytes")
			skipped++
		}

		if err := s.store.DeleteChunk(ctx, c.ID); err != nil {
			clog.WithError(err).Warn("Failed to delete chunk record")
		}
	}

	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.Int("chunks_skipped", skipped),
	)
	log.WithFields(logrus.Fields{"chunks": len(chunks), "skipped": skipped}).Info("File deleted")
	return nil
}
