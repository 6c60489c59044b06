package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/maneesh/scatterstore/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type chunkBlob struct {
	ID        string `gorm:"primaryKey;size:191"`
	Data      []byte
	Size      int64
	CreatedAt time.Time
}

func (chunkBlob) TableName() string { return "chunk_blobs" }

// DatabaseProvider keeps chunk bytes as rows in a SQL table
type DatabaseProvider struct {
	name string
	db   *gorm.DB
}

// OpenDatabaseProvider opens (or creates) a SQLite file for chunk blobs.
func OpenDatabaseProvider(name, path string) (*DatabaseProvider, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}
	return NewDatabaseProvider(name, db)
}

// NewDatabaseProvider migrates the blob table on an existing connection.
func NewDatabaseProvider(name string, db *gorm.DB) (*DatabaseProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: database provider needs a name", models.ErrInvalidInput)
	}
	if err := db.AutoMigrate(&chunkBlob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chunk table: %w", err)
	}
	return &DatabaseProvider{name: name, db: db}, nil
}

func (p *DatabaseProvider) Name() string { return p.name }

// Close releases the underlying connection pool.
func (p *DatabaseProvider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *DatabaseProvider) Store(ctx context.Context, chunkID string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "database.store_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	if err := validateChunkID(chunkID); err != nil {
		return "", err
	}

	blob := &chunkBlob{ID: chunkID, Data: data, Size: int64(len(data)), CreatedAt: time.Now().UTC()}
	if err := p.db.WithContext(ctx).Save(blob).Error; err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to insert chunk: %w", err)
	}

	return "db://chunk_blobs/" + chunkID, nil
}

func (p *DatabaseProvider) Retrieve(ctx context.Context, chunkID string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "database.retrieve_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
		),
	)
	defer span.End()

	var blob chunkBlob
	err := p.db.WithContext(ctx).First(&blob, "id = ?", chunkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: chunk %s in %s", models.ErrNotFound, chunkID, p.name)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}

	if blob.Data == nil {
		blob.Data = []byte{}
	}
	span.SetAttributes(attribute.Int("size_bytes", len(blob.Data)))
	return blob.Data, nil
}

func (p *DatabaseProvider) Delete(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "database.delete_chunk",
		trace.WithAttributes(
			attribute.String("provider", p.name),
			attribute.String("chunk_id", chunkID),
		),
	)
	defer span.End()

	if err := p.db.WithContext(ctx).Delete(&chunkBlob{}, "id = ?", chunkID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func (p *DatabaseProvider) Exists(ctx context.Context, chunkID string) (bool, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&chunkBlob{}).Where("id = ?", chunkID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to count chunk: %w", err)
	}
	return count > 0, nil
}

func (p *DatabaseProvider) Stats(ctx context.Context) (models.ProviderStats, error) {
	var row struct {
		ChunkCount int
		TotalBytes int64
	}
	err := p.db.WithContext(ctx).Model(&chunkBlob{}).
		Select("COUNT(*) AS chunk_count, COALESCE(SUM(size), 0) AS total_bytes").
		Scan(&row).Error
	if err != nil {
		return models.ProviderStats{Name: p.name}, fmt.Errorf("failed to compute chunk stats: %w", err)
	}
	return models.ProviderStats{Name: p.name, ChunkCount: row.ChunkCount, TotalBytes: row.TotalBytes}, nil
}
