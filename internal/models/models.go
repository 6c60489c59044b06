package models

import (
	"fmt"
	"sort"
	"time"
)

// FileRecord describes a chunked file and owns its chunk records
type FileRecord struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	OriginalPath      string         `json:"original_path"`
	Size              int64          `json:"size"`
	Checksum          string         `json:"checksum"`
	ChecksumAlgorithm string         `json:"checksum_algorithm"`
	ChunkSize         int64          `json:"chunk_size"`
	TotalChunks       int            `json:"total_chunks"`
	CreatedAt         time.Time      `json:"created_at"`
	LastAccessedAt    *time.Time     `json:"last_accessed_at,omitempty"`
	Chunks            []*ChunkRecord `json:"chunks,omitempty"`
}

// ChunkRecord locates one stored byte range of a file
type ChunkRecord struct {
	ID                  string    `json:"id"`
	FileID              string    `json:"file_id"`
	SequenceNumber      int       `json:"sequence_number"`
	Size                int64     `json:"size"`
	StorageProviderName string    `json:"storage_provider"`
	StorageLocation     string    `json:"storage_location"`
	Checksum            string    `json:"checksum"`
	CreatedAt           time.Time `json:"created_at"`
}

// ProviderStats summarises what a storage provider currently holds
type ProviderStats struct {
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
	TotalBytes int64  `json:"total_bytes"`
}

// ChunkID derives the chunk identifier for a file position.
func ChunkID(fileID string, sequenceNumber int) string {
	return fmt.Sprintf("%s_chunk_%d", fileID, sequenceNumber)
}

// Validate checks the immutable descriptor fields.
func (f *FileRecord) Validate() error {
	switch {
	case f.ID == "":
		return fmt.Errorf("%w: file id is empty", ErrInvalidInput)
	case f.Name == "":
		return fmt.Errorf("%w: file name is empty", ErrInvalidInput)
	case f.Size <= 0:
		return fmt.Errorf("%w: file size must be positive, got %d", ErrInvalidInput, f.Size)
	case f.Checksum == "":
		return fmt.Errorf("%w: file checksum is empty", ErrInvalidInput)
	case f.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, f.ChunkSize)
	case f.TotalChunks < 2:
		return fmt.Errorf("%w: total chunks must be at least 2, got %d", ErrInvalidInput, f.TotalChunks)
	}
	return nil
}

// AddChunk appends a chunk owned by this file.
func (f *FileRecord) AddChunk(chunk *ChunkRecord) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil chunk", ErrInvalidInput)
	}
	if chunk.FileID != f.ID {
		return fmt.Errorf("%w: chunk %s does not belong to file %s", ErrInvalidInput, chunk.ID, f.ID)
	}
	f.Chunks = append(f.Chunks, chunk)
	return nil
}

// IsComplete reports whether every planned chunk is present.
func (f *FileRecord) IsComplete() bool {
	return len(f.Chunks) == f.TotalChunks
}

// TotalChunkSize sums the sizes of the loaded chunks.
func (f *FileRecord) TotalChunkSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		total += c.Size
	}
	return total
}

// ValidateIntegrity checks chunk count and the sum-of-sizes invariant.
func (f *FileRecord) ValidateIntegrity() bool {
	return f.IsComplete() && f.TotalChunkSize() == f.Size
}

// SortChunks orders chunks by sequence number only.
func SortChunks(chunks []*ChunkRecord) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].SequenceNumber < chunks[j].SequenceNumber
	})
}
