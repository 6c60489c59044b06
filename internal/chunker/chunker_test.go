package chunker

import (
	"testing"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		wantSize  int64
		wantCount int
	}{
		{name: "one byte", size: 1, wantSize: 1 * KiB, wantCount: 2},
		{name: "ten bytes", size: 10, wantSize: 1 * KiB, wantCount: 2},
		{name: "small file halves", size: 10 * KiB, wantSize: 5 * KiB, wantCount: 2},
		{name: "just under 64KiB", size: 64*KiB - 1, wantSize: (64*KiB - 1) / 2, wantCount: 2},
		{name: "exactly 64KiB", size: 64 * KiB, wantSize: 128 * KiB, wantCount: 2},
		{name: "200KiB", size: 200 * KiB, wantSize: 128 * KiB, wantCount: 2},
		{name: "just under 256KiB", size: 256*KiB - 1, wantSize: 128 * KiB, wantCount: 2},
		{name: "exactly 256KiB", size: 256 * KiB, wantSize: 256 * KiB, wantCount: 2},
		{name: "900KiB", size: 900 * KiB, wantSize: 256 * KiB, wantCount: 4},
		{name: "exactly 1MiB", size: 1 * MiB, wantSize: 512 * KiB, wantCount: 2},
		{name: "3MiB", size: 3 * MiB, wantSize: 512 * KiB, wantCount: 6},
		{name: "exactly 5MiB", size: 5 * MiB, wantSize: 1 * MiB, wantCount: 5},
		{name: "exactly 10MiB", size: 10 * MiB, wantSize: 2 * MiB, wantCount: 5},
		{name: "99MiB plus one", size: 99*MiB + 1, wantSize: 2 * MiB, wantCount: 50},
		{name: "exactly 100MiB", size: 100 * MiB, wantSize: 5 * MiB, wantCount: 20},
		{name: "1GiB", size: 1024 * MiB, wantSize: 5 * MiB, wantCount: 205},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanChunks(tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, plan.ChunkSize)
			assert.Equal(t, tt.wantCount, plan.ChunkCount)
		})
	}
}

func TestPlanChunks_RejectsNonPositive(t *testing.T) {
	for _, size := range []int64{0, -1} {
		_, err := PlanChunks(size)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
}

func TestPlanChunks_NeverFewerThanTwo(t *testing.T) {
	sizes := []int64{1, 2, 3, 1023, 1024, 1025}
	for s := int64(4 * KiB); s < 12*MiB; s = s*3/2 + 7 {
		sizes = append(sizes, s)
	}
	for _, size := range sizes {
		plan, err := PlanChunks(size)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, plan.ChunkCount, MinChunkCount, "size %d", size)
	}
}

func TestLayout_SumsToFileSize(t *testing.T) {
	sizes := []int64{1, 2, 3, 10, 1000, 64*KiB - 1, 64 * KiB, 64*KiB + 1, 128 * KiB, 256 * KiB, 3 * MiB, 3*MiB + 17, 7*MiB + 3}
	for _, size := range sizes {
		plan, err := PlanChunks(size)
		require.NoError(t, err)

		layout := Layout(size, plan)
		require.Len(t, layout, plan.ChunkCount)

		var total int64
		for _, n := range layout {
			assert.GreaterOrEqual(t, n, int64(0))
			total += n
		}
		assert.Equal(t, size, total, "size %d", size)
	}
}

func TestLayout_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		size int64
		want []int64
	}{
		{name: "ten bytes", size: 10, want: []int64{5, 5}},
		{name: "odd small file", size: 11, want: []int64{5, 6}},
		{name: "one byte keeps an empty first chunk", size: 1, want: []int64{0, 1}},
		{name: "just under 64KiB halves", size: 64*KiB - 1, want: []int64{32*KiB - 1, 32 * KiB}},
		{name: "exactly 64KiB leaves an empty tail", size: 64 * KiB, want: []int64{64 * KiB, 0}},
		{name: "3MiB", size: 3 * MiB, want: []int64{512 * KiB, 512 * KiB, 512 * KiB, 512 * KiB, 512 * KiB, 512 * KiB}},
		{name: "last chunk absorbs remainder", size: 3*MiB - 100, want: []int64{512 * KiB, 512 * KiB, 512 * KiB, 512 * KiB, 512 * KiB, 512*KiB - 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanChunks(tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Layout(tt.size, plan))
		})
	}
}

func TestChunkLength_LastChunkTakesEverything(t *testing.T) {
	plan := Plan{ChunkSize: 512 * KiB, ChunkCount: 3}
	// a remainder larger than the nominal size still goes to the last chunk
	assert.Equal(t, int64(700*KiB), ChunkLength(2, 2*MiB, 700*KiB, plan))
	assert.Equal(t, int64(512*KiB), ChunkLength(1, 2*MiB, 700*KiB, plan))
}
