package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleFile(id string, created time.Time) (*models.FileRecord, []*models.ChunkRecord) {
	file := &models.FileRecord{
		ID:                id,
		Name:              id + ".bin",
		OriginalPath:      "/data/" + id + ".bin",
		Size:              10,
		Checksum:          "abc123",
		ChecksumAlgorithm: "sha256",
		ChunkSize:         1024,
		TotalChunks:       2,
		CreatedAt:         created,
	}
	// inserted out of order on purpose
	chunks := []*models.ChunkRecord{
		{ID: models.ChunkID(id, 1), FileID: id, SequenceNumber: 1, Size: 5, StorageProviderName: "b", StorageLocation: "loc1", Checksum: "c1", CreatedAt: created},
		{ID: models.ChunkID(id, 0), FileID: id, SequenceNumber: 0, Size: 5, StorageProviderName: "a", StorageLocation: "loc0", Checksum: "c0", CreatedAt: created},
	}
	return file, chunks
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	file, chunks := sampleFile("f1", now)
	require.NoError(t, s.CreateFile(ctx, file, chunks))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1.bin", got.Name)
	assert.Equal(t, "/data/f1.bin", got.OriginalPath)
	assert.Equal(t, int64(10), got.Size)
	assert.Equal(t, 2, got.TotalChunks)
	assert.Equal(t, "sha256", got.ChecksumAlgorithm)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)
	assert.Nil(t, got.LastAccessedAt)
	assert.Empty(t, got.Chunks)

	stored, err := s.GetChunks(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].SequenceNumber)
	assert.Equal(t, 1, stored[1].SequenceNumber)
	assert.Equal(t, "loc0", stored[0].StorageLocation)
	assert.Equal(t, "b", stored[1].StorageProviderName)
}

func TestSQLiteStore_GetUnknownFile(t *testing.T) {
	s := setupSQLite(t)
	_, err := s.GetFile(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	chunks, err := s.GetChunks(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSQLiteStore_CreateRejectsDuplicatesAndBadInput(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, s.CreateFile(ctx, file, chunks))
	assert.ErrorIs(t, s.CreateFile(ctx, file, chunks), models.ErrInvalidInput)

	bad, badChunks := sampleFile("f2", time.Now().UTC())
	badChunks[0].FileID = "other"
	assert.ErrorIs(t, s.CreateFile(ctx, bad, badChunks), models.ErrInvalidInput)

	_, err := s.GetFile(ctx, "f2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteStore_CreateIsAtomic(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	// duplicate sequence numbers violate the unique index
	chunks[0].SequenceNumber = 0
	assert.Error(t, s.CreateFile(ctx, file, chunks))

	_, err := s.GetFile(ctx, "f1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteStore_ListFiles(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"b", "a", "c"} {
		file, chunks := sampleFile(id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateFile(ctx, file, chunks))
	}

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "b", files[0].ID)
	assert.Equal(t, "a", files[1].ID)
	assert.Equal(t, "c", files[2].ID)
}

func TestSQLiteStore_DeleteFile(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, s.CreateFile(ctx, file, chunks))

	require.NoError(t, s.DeleteChunk(ctx, models.ChunkID("f1", 0)))
	require.NoError(t, s.DeleteChunk(ctx, models.ChunkID("f1", 0)))
	remaining, err := s.GetChunks(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	require.NoError(t, s.DeleteFile(ctx, "f1"))
	remaining, err = s.GetChunks(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.ErrorIs(t, s.DeleteFile(ctx, "f1"), models.ErrNotFound)
}

func TestSQLiteStore_TouchFile(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, s.CreateFile(ctx, file, chunks))

	at := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.TouchFile(ctx, "f1", at))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, at, *got.LastAccessedAt, time.Second)

	assert.ErrorIs(t, s.TouchFile(ctx, "nope", at), models.ErrNotFound)
}

func setupCached(t *testing.T) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log, _ := test.NewNullLogger()

	cs := NewCachedStore(setupSQLite(t), client, log)
	return cs, mr
}

func TestCachedStore_ReadThrough(t *testing.T) {
	cs, mr := setupCached(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, cs.CreateFile(ctx, file, chunks))
	assert.False(t, mr.Exists("file:f1"))

	got, err := cs.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1.bin", got.Name)
	assert.True(t, mr.Exists("file:f1"))
	assert.Equal(t, CacheTTL, mr.TTL("file:f1"))

	// a hit is served from Redis
	require.NoError(t, mr.Set("file:f1", `{"id":"f1","name":"cached.bin","size":10,"total_chunks":2}`))
	got, err = cs.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "cached.bin", got.Name)
}

func TestCachedStore_InvalidatesOnTouchAndDelete(t *testing.T) {
	cs, mr := setupCached(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, cs.CreateFile(ctx, file, chunks))

	_, err := cs.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.True(t, mr.Exists("file:f1"))

	require.NoError(t, cs.TouchFile(ctx, "f1", time.Now().UTC()))
	assert.False(t, mr.Exists("file:f1"))

	_, err = cs.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NoError(t, cs.DeleteFile(ctx, "f1"))
	assert.False(t, mr.Exists("file:f1"))

	_, err = cs.GetFile(ctx, "f1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedStore_FallsBackWhenRedisIsDown(t *testing.T) {
	cs, mr := setupCached(t)
	ctx := context.Background()

	file, chunks := sampleFile("f1", time.Now().UTC())
	require.NoError(t, cs.CreateFile(ctx, file, chunks))

	mr.Close()

	got, err := cs.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.ID)
}
