package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/scatterstore/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tidbSchema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		original_path TEXT,
		size BIGINT NOT NULL,
		checksum VARCHAR(128) NOT NULL,
		checksum_algorithm VARCHAR(16) NOT NULL,
		chunk_size BIGINT NOT NULL,
		total_chunks INT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		last_accessed_at DATETIME(6) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id VARCHAR(191) PRIMARY KEY,
		file_id VARCHAR(64) NOT NULL,
		sequence_number INT NOT NULL,
		size BIGINT NOT NULL,
		storage_provider VARCHAR(64) NOT NULL,
		storage_location TEXT NOT NULL,
		checksum VARCHAR(128) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY idx_chunks_file_seq (file_id, sequence_number)
	)`,
}

const fileColumns = `id, name, original_path, size, checksum, checksum_algorithm, chunk_size, total_chunks, created_at, last_accessed_at`

// TiDBStore wraps TiDB operations with tracing
type TiDBStore struct {
	db *sql.DB
}

// NewTiDBStore connects to TiDB (or any MySQL compatible server). The DSN
// must carry parseTime=true.
func NewTiDBStore(dsn string) (*TiDBStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &TiDBStore{db: db}, nil
}

// Close closes the database connection
func (ts *TiDBStore) Close() error {
	return ts.db.Close()
}

// EnsureSchema creates the files and chunks tables when missing.
func (ts *TiDBStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range tidbSchema {
		if _, err := ts.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// CreateFile inserts the file and its chunks in a single transaction
func (ts *TiDBStore) CreateFile(ctx context.Context, file *models.FileRecord, chunks []*models.ChunkRecord) error {
	if err := checkCreate(file, chunks); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "tidb.create_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
			attribute.Int64("file_size", file.Size),
			attribute.Int("chunk_count", len(chunks)),
		),
	)
	defer span.End()

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE id = ?`, file.ID).Scan(&existing); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check file: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: file %s already exists", models.ErrInvalidInput, file.ID)
	}

	query := `INSERT INTO files (` + fileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		file.ID, file.Name, file.OriginalPath, file.Size, file.Checksum, file.ChecksumAlgorithm,
		file.ChunkSize, file.TotalChunks, file.CreatedAt, nullTime(file.LastAccessedAt),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", err)
	}

	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, file_id, sequence_number, size, storage_provider, storage_location, checksum, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.FileID, chunk.SequenceNumber, chunk.Size,
			chunk.StorageProviderName, chunk.StorageLocation, chunk.Checksum, chunk.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.SequenceNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit file: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetFile retrieves file metadata by ID with tracing
func (ts *TiDBStore) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`

	file, err := scanFile(ts.db.QueryRowContext(ctx, query, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

func (ts *TiDBStore) ListFiles(ctx context.Context) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_files")
	defer span.End()

	rows, err := ts.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY created_at ASC, id ASC`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// GetChunks retrieves all chunks for a file ordered by sequence number with tracing
func (ts *TiDBStore) GetChunks(ctx context.Context, fileID string) ([]*models.ChunkRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_chunks",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT id, file_id, sequence_number, size, storage_provider, storage_location, checksum, created_at
			  FROM chunks
			  WHERE file_id = ?
			  ORDER BY sequence_number ASC`

	rows, err := ts.db.QueryContext(ctx, query, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.ChunkRecord
	for rows.Next() {
		var chunk models.ChunkRecord
		err := rows.Scan(
			&chunk.ID,
			&chunk.FileID,
			&chunk.SequenceNumber,
			&chunk.Size,
			&chunk.StorageProviderName,
			&chunk.StorageLocation,
			&chunk.Checksum,
			&chunk.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &chunk)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.Bool("query_success", true),
	)
	return chunks, nil
}

func (ts *TiDBStore) DeleteChunk(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_chunk",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	if _, err := ts.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk record: %w", err)
	}
	return nil
}

func (ts *TiDBStore) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (ts *TiDBStore) TouchFile(ctx context.Context, fileID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "tidb.touch_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	res, err := ts.db.ExecContext(ctx, `UPDATE files SET last_accessed_at = ? WHERE id = ?`, at, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update last access: %w", err)
	}
	// MySQL reports zero affected rows when the value is unchanged, so
	// confirm the file exists before calling it missing.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := ts.GetFile(ctx, fileID); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		file         models.FileRecord
		originalPath sql.NullString
		lastAccessed sql.NullTime
	)
	err := row.Scan(
		&file.ID,
		&file.Name,
		&originalPath,
		&file.Size,
		&file.Checksum,
		&file.ChecksumAlgorithm,
		&file.ChunkSize,
		&file.TotalChunks,
		&file.CreatedAt,
		&lastAccessed,
	)
	if err != nil {
		return nil, err
	}
	file.OriginalPath = originalPath.String
	if lastAccessed.Valid {
		t := lastAccessed.Time
		file.LastAccessedAt = &t
	}
	return &file, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
