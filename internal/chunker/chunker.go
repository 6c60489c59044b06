package chunker

import (
	"fmt"

	"github.com/maneesh/scatterstore/internal/models"
)

const (
	KiB = 1024
	MiB = 1024 * KiB

	// SmallFileThreshold is the exclusive upper bound of the two-chunk halving regime
	SmallFileThreshold = 64 * KiB

	// MinChunkCount holds for every positive file size
	MinChunkCount = 2

	minSmallChunkSize = 1 * KiB
)

// Plan is the planner's decision for one file
type Plan struct {
	ChunkSize  int64 `json:"chunk_size"`
	ChunkCount int   `json:"chunk_count"`
}

// tier maps files smaller than limit to a nominal chunk size
type tier struct {
	limit     int64
	chunkSize int64
}

// tiers are size ordered; files at or above the last limit use largestChunkSize.
var tiers = []tier{
	{limit: 256 * KiB, chunkSize: 128 * KiB},
	{limit: 1 * MiB, chunkSize: 256 * KiB},
	{limit: 5 * MiB, chunkSize: 512 * KiB},
	{limit: 10 * MiB, chunkSize: 1 * MiB},
	{limit: 100 * MiB, chunkSize: 2 * MiB},
}

const largestChunkSize = 5 * MiB

// PlanChunks picks the nominal chunk size and chunk count for a file.
// Files under SmallFileThreshold are always cut in two; everything else
// gets ceil(size/chunkSize) chunks, never fewer than MinChunkCount.
func PlanChunks(fileSize int64) (Plan, error) {
	if fileSize <= 0 {
		return Plan{}, fmt.Errorf("%w: file size must be positive, got %d", models.ErrInvalidInput, fileSize)
	}

	if fileSize < SmallFileThreshold {
		return Plan{
			ChunkSize:  max(minSmallChunkSize, fileSize/2),
			ChunkCount: MinChunkCount,
		}, nil
	}

	chunkSize := int64(largestChunkSize)
	for _, t := range tiers {
		if fileSize < t.limit {
			chunkSize = t.chunkSize
			break
		}
	}

	count := int((fileSize + chunkSize - 1) / chunkSize)
	if count < MinChunkCount {
		count = MinChunkCount
	}

	return Plan{ChunkSize: chunkSize, ChunkCount: count}, nil
}

// ChunkLength returns how many bytes chunk seq should take given the
// bytes still unread. The last chunk absorbs everything that remains.
func ChunkLength(seq int, fileSize, remaining int64, plan Plan) int64 {
	last := seq == plan.ChunkCount-1
	if fileSize < SmallFileThreshold {
		if seq == 0 && !last {
			return fileSize / 2
		}
		return remaining
	}
	if last {
		return remaining
	}
	return min(plan.ChunkSize, remaining)
}

// Layout returns the byte count of every chunk for a fully readable source.
func Layout(fileSize int64, plan Plan) []int64 {
	sizes := make([]int64, plan.ChunkCount)
	remaining := fileSize
	for seq := range sizes {
		sizes[seq] = ChunkLength(seq, fileSize, remaining, plan)
		remaining -= sizes[seq]
	}
	return sizes
}
