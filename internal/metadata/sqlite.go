package metadata

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

type fileRow struct {
	ID                string `gorm:"primaryKey;size:64"`
	Name              string `gorm:"not null"`
	OriginalPath      string
	Size              int64 `gorm:"not null"`
	Checksum          string
	ChecksumAlgorithm string `gorm:"size:16"`
	ChunkSize         int64
	TotalChunks       int
	CreatedAt         time.Time
	LastAccessedAt    *time.Time
}

func (fileRow) TableName() string { return "files" }

type chunkRow struct {
	ID                  string `gorm:"primaryKey;size:191"`
	FileID              string `gorm:"size:64;not null;uniqueIndex:idx_chunks_file_seq"`
	SequenceNumber      int    `gorm:"not null;uniqueIndex:idx_chunks_file_seq"`
	Size                int64
	StorageProviderName string `gorm:"size:64"`
	StorageLocation     string
	Checksum            string
	CreatedAt           time.Time
}

func (chunkRow) TableName() string { return "chunks" }

// SQLiteStore keeps the catalogue in a local SQLite database through gorm
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens the database at path and migrates the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	if err := db.AutoMigrate(&fileRow{}, &chunkRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) CreateFile(ctx context.Context, file *models.FileRecord, chunks []*models.ChunkRecord) error {
	if err := checkCreate(file, chunks); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "sqlite.create_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
			attribute.Int64("file_size", file.Size),
			attribute.Int("chunk_count", len(chunks)),
		),
	)
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&fileRow{}).Where("id = ?", file.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: file %s already exists", models.ErrInvalidInput, file.ID)
		}

		if err := tx.Create(toFileRow(file)).Error; err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}

		rows := make([]*chunkRow, len(chunks))
		for i, c := range chunks {
			rows[i] = toChunkRow(c)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.get_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	var row fileRow
	err := s.db.WithContext(ctx).Where("id = ?", fileID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return row.record(), nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.list_files")
	defer span.End()

	var rows []fileRow
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files := make([]*models.FileRecord, len(rows))
	for i := range rows {
		files[i] = rows[i].record()
	}
	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, fileID string) ([]*models.ChunkRecord, error) {
	ctx, span := tracer.Start(ctx, "sqlite.get_chunks",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	var rows []chunkRow
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	chunks := make([]*models.ChunkRecord, len(rows))
	for i := range rows {
		chunks[i] = rows[i].record()
	}
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}

func (s *SQLiteStore) DeleteChunk(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "sqlite.delete_chunk",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	if err := s.db.WithContext(ctx).Where("id = ?", chunkID).Delete(&chunkRow{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "sqlite.delete_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", fileID).Delete(&chunkRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunk records: %w", err)
		}
		res := tx.Where("id = ?", fileID).Delete(&fileRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete file record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		span.RecordError(err)
	}
	return err
}

func (s *SQLiteStore) TouchFile(ctx context.Context, fileID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "sqlite.touch_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	res := s.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", fileID).Update("last_accessed_at", at)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update last access: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}
	return nil
}

func toFileRow(f *models.FileRecord) *fileRow {
	return &fileRow{
		ID:                f.ID,
		Name:              f.Name,
		OriginalPath:      f.OriginalPath,
		Size:              f.Size,
		Checksum:          f.Checksum,
		ChecksumAlgorithm: f.ChecksumAlgorithm,
		ChunkSize:         f.ChunkSize,
		TotalChunks:       f.TotalChunks,
		CreatedAt:         f.CreatedAt,
		LastAccessedAt:    f.LastAccessedAt,
	}
}

func (r *fileRow) record() *models.FileRecord {
	return &models.FileRecord{
		ID:                r.ID,
		Name:              r.Name,
		OriginalPath:      r.OriginalPath,
		Size:              r.Size,
		Checksum:          r.Checksum,
		ChecksumAlgorithm: r.ChecksumAlgorithm,
		ChunkSize:         r.ChunkSize,
		TotalChunks:       r.TotalChunks,
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
	}
}

func toChunkRow(c *models.ChunkRecord) *chunkRow {
	return &chunkRow{
		ID:                  c.ID,
		FileID:              c.FileID,
		SequenceNumber:      c.SequenceNumber,
		Size:                c.Size,
		StorageProviderName: c.StorageProviderName,
		StorageLocation:     c.StorageLocation,
		Checksum:            c.Checksum,
		CreatedAt:           c.CreatedAt,
	}
}

func (r *chunkRow) record() *models.ChunkRecord {
	return &models.ChunkRecord{
		ID:                  r.ID,
		FileID:              r.FileID,
		SequenceNumber:      r.SequenceNumber,
		Size:                r.Size,
		StorageProviderName: r.StorageProviderName,
		StorageLocation:     r.StorageLocation,
		Checksum:            r.Checksum,
		CreatedAt:           r.CreatedAt,
	}
}
