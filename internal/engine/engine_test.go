package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/chunker"
	"github.com/maneesh/scatterstore/internal/metadata"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/maneesh/scatterstore/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider records calls made to the provider it wraps.
type countingProvider struct {
	storage.Provider
	stores    atomic.Int32
	retrieves atomic.Int32
	deletes   atomic.Int32
	failAfter int32
}

func (c *countingProvider) Store(ctx context.Context, id string, data []byte) (string, error) {
	if c.failAfter > 0 && c.stores.Load() >= c.failAfter {
		return "", errors.New("provider offline")
	}
	c.stores.Add(1)
	return c.Provider.Store(ctx, id, data)
}

func (c *countingProvider) Retrieve(ctx context.Context, id string) ([]byte, error) {
	c.retrieves.Add(1)
	return c.Provider.Retrieve(ctx, id)
}

func (c *countingProvider) Delete(ctx context.Context, id string) error {
	c.deletes.Add(1)
	return c.Provider.Delete(ctx, id)
}

func (c *countingProvider) calls() int32 {
	return c.stores.Load() + c.retrieves.Load() + c.deletes.Load()
}

type fixture struct {
	svc      *Service
	store    *metadata.SQLiteStore
	registry *storage.Registry
	disks    []*storage.FilesystemProvider
	counters []*countingProvider
	dir      string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := metadata.OpenSQLiteStore(filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, dir: dir}
	for _, name := range []string{"disk-a", "disk-b"} {
		disk, err := storage.NewFilesystemProvider(name, filepath.Join(dir, name), storage.CompressionNone)
		require.NoError(t, err)
		f.disks = append(f.disks, disk)
		f.counters = append(f.counters, &countingProvider{Provider: disk})
	}
	f.registry, err = storage.NewRegistry(f.counters[0], f.counters[1])
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	base := []Option{WithLogger(log), WithSeed(42)}
	f.svc = NewService(store, f.registry, append(base, opts...)...)
	f.svc.reassembler.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, verifyAttempts-1)
	}
	return f
}

func (f *fixture) writeSource(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, "src", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func (f *fixture) providerFor(t *testing.T, c *models.ChunkRecord) *storage.FilesystemProvider {
	t.Helper()
	for _, d := range f.disks {
		if d.Name() == c.StorageProviderName {
			return d
		}
	}
	t.Fatalf("no provider named %q", c.StorageProviderName)
	return nil
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/509)
	}
	return data
}

func TestChunkAndReconstruct_RoundTrip(t *testing.T) {
	sizes := []int{1, 2, 10, 1000, 64*chunker.KiB - 1, 64 * chunker.KiB, 300 * chunker.KiB, 3*chunker.MiB + 3}
	for _, size := range sizes {
		f := newFixture(t)
		ctx := context.Background()
		data := pattern(size)
		src := f.writeSource(t, "input.bin", data)

		file, err := f.svc.ChunkFile(ctx, src)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, int64(size), file.Size)
		assert.GreaterOrEqual(t, file.TotalChunks, 2)
		assert.Len(t, file.Chunks, file.TotalChunks)
		assert.Equal(t, int64(size), file.TotalChunkSize())
		assert.Equal(t, checksum.SHA256.Sum(data), file.Checksum)

		out := filepath.Join(f.dir, "out", "rebuilt.bin")
		require.NoError(t, f.svc.ReconstructFile(ctx, file.ID, out), "size %d", size)

		got, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
	}
}

func TestChunkFile_TenBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.writeSource(t, "ten.txt", []byte("abcdefghij"))

	file, err := f.svc.ChunkFile(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, "ten.txt", file.Name)
	assert.Equal(t, 2, file.TotalChunks)
	assert.Equal(t, int64(chunker.KiB), file.ChunkSize)
	require.Len(t, file.Chunks, 2)
	assert.Equal(t, int64(5), file.Chunks[0].Size)
	assert.Equal(t, int64(5), file.Chunks[1].Size)
	assert.Equal(t, models.ChunkID(file.ID, 1), file.Chunks[1].ID)

	info, err := f.svc.GetFileInfo(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, info.ValidateIntegrity())
	assert.Equal(t, checksum.SHA256.Sum([]byte("abcde")), info.Chunks[0].Checksum)
}

func TestChunkFile_ThreeMiB(t *testing.T) {
	f := newFixture(t)
	src := f.writeSource(t, "three.bin", pattern(3*chunker.MiB-100))

	file, err := f.svc.ChunkFile(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, int64(512*chunker.KiB), file.ChunkSize)
	require.Equal(t, 6, file.TotalChunks)
	for _, c := range file.Chunks[:5] {
		assert.Equal(t, int64(512*chunker.KiB), c.Size)
	}
	assert.Equal(t, int64(512*chunker.KiB-100), file.Chunks[5].Size)
}

func TestChunkFile_UsesConfiguredAlgorithm(t *testing.T) {
	f := newFixture(t, WithAlgorithm(checksum.BLAKE3))
	data := pattern(5000)
	src := f.writeSource(t, "b3.bin", data)

	file, err := f.svc.ChunkFile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "blake3", file.ChecksumAlgorithm)
	assert.Equal(t, checksum.BLAKE3.Sum(data), file.Checksum)

	out := filepath.Join(f.dir, "b3.out")
	require.NoError(t, f.svc.ReconstructFile(context.Background(), file.ID, out))
}

func TestChunkFile_RejectsBadSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ChunkFile(ctx, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.ChunkFile(ctx, filepath.Join(f.dir, "missing.bin"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.ChunkFile(ctx, f.writeSource(t, "empty.bin", nil))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.ChunkFile(ctx, f.dir)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	for _, c := range f.counters {
		assert.Zero(t, c.calls())
	}
}

func TestChunkFile_CleansUpAfterProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.counters[0].failAfter = 1
	f.counters[1].failAfter = 1

	src := f.writeSource(t, "big.bin", pattern(900*chunker.KiB))
	_, err := f.svc.ChunkFile(ctx, src)
	require.Error(t, err)

	files, err := f.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	for _, d := range f.disks {
		stats, err := d.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.ChunkCount, d.Name())
	}
}

func TestChunkFiles_Batch(t *testing.T) {
	f := newFixture(t)
	a := f.writeSource(t, "a.bin", pattern(100))
	b := f.writeSource(t, "b.bin", pattern(200))

	results := f.svc.ChunkFiles(context.Background(), []string{a, " ", filepath.Join(f.dir, "nope"), b})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, models.ErrNotFound)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, int64(200), results[2].File.Size)

	files, err := f.svc.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestReconstruct_TamperedOutputIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "t.bin", pattern(4096)))
	require.NoError(t, err)

	f.svc.reassembler.sumFile = func(alg checksum.Algorithm, path string) (string, error) {
		if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
			return "", err
		}
		return alg.SumFile(path)
	}

	out := filepath.Join(f.dir, "t.out")
	err = f.svc.ReconstructFile(ctx, file.ID, out)
	require.ErrorIs(t, err, models.ErrIntegrityFailure)

	var rerr *ReconstructError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, PhaseCorruptionDetected, rerr.Outcome)
	assert.Equal(t, PhaseVerifying, rerr.Step)
	assert.NoFileExists(t, out)
}

func TestReconstruct_CorruptChunk(t *testing.T) {
	for _, verifyChunks := range []bool{true, false} {
		f := newFixture(t, WithChunkVerification(verifyChunks))
		ctx := context.Background()
		file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "c.bin", pattern(10*chunker.KiB)))
		require.NoError(t, err)

		c := file.Chunks[1]
		_, err = f.providerFor(t, c).Store(ctx, c.ID, bytes.Repeat([]byte{0xAB}, int(c.Size)))
		require.NoError(t, err)

		out := filepath.Join(f.dir, "c.out")
		err = f.svc.ReconstructFile(ctx, file.ID, out)
		require.ErrorIs(t, err, models.ErrIntegrityFailure, "verifyChunks=%v", verifyChunks)

		var rerr *ReconstructError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, PhaseCorruptionDetected, rerr.Outcome)
		if verifyChunks {
			assert.Equal(t, PhaseStreaming, rerr.Step)
		} else {
			assert.Equal(t, PhaseVerifying, rerr.Step)
		}
		assert.NoFileExists(t, out)
	}
}

func TestReconstruct_MissingChunkRecordIsPartialData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "p.bin", pattern(900*chunker.KiB)))
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteChunk(ctx, file.Chunks[2].ID))

	retrievesBefore := f.counters[0].retrieves.Load() + f.counters[1].retrieves.Load()

	out := filepath.Join(f.dir, "p.out")
	err = f.svc.ReconstructFile(ctx, file.ID, out)
	require.ErrorIs(t, err, models.ErrPartialData)

	var rerr *ReconstructError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, PhaseNotFound, rerr.Outcome)
	assert.Equal(t, PhaseLoading, rerr.Step)
	assert.NoFileExists(t, out)
	assert.Equal(t, retrievesBefore, f.counters[0].retrieves.Load()+f.counters[1].retrieves.Load())
}

func TestReconstruct_MissingChunkBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "m.bin", pattern(2048)))
	require.NoError(t, err)

	c := file.Chunks[0]
	require.NoError(t, f.providerFor(t, c).Delete(ctx, c.ID))

	out := filepath.Join(f.dir, "m.out")
	err = f.svc.ReconstructFile(ctx, file.ID, out)
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.NoFileExists(t, out)
}

func TestReconstruct_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "u.bin", pattern(2048)))
	require.NoError(t, err)

	empty, err := storage.NewRegistry()
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	other := NewService(f.store, empty, WithLogger(log))

	out := filepath.Join(f.dir, "u.out")
	err = other.ReconstructFile(ctx, file.ID, out)
	require.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.NoFileExists(t, out)
}

func TestReconstruct_UnknownFile(t *testing.T) {
	f := newFixture(t)
	existing := filepath.Join(f.dir, "keep.txt")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))

	err := f.svc.ReconstructFile(context.Background(), "nope", existing)
	require.ErrorIs(t, err, models.ErrNotFound)

	var rerr *ReconstructError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, PhaseNotFound, rerr.Outcome)
	// nothing was written, so nothing is removed
	assert.FileExists(t, existing)
}

func TestReconstruct_VerificationReadIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "r.bin", pattern(3000)))
	require.NoError(t, err)

	attempts := 0
	f.svc.reassembler.sumFile = func(alg checksum.Algorithm, path string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("file is locked")
		}
		return alg.SumFile(path)
	}

	require.NoError(t, f.svc.ReconstructFile(ctx, file.ID, filepath.Join(f.dir, "r.out")))
	assert.Equal(t, 3, attempts)
}

func TestReconstruct_VerificationFallsBackToStreamedDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "l.bin", pattern(3000)))
	require.NoError(t, err)

	attempts := 0
	f.svc.reassembler.sumFile = func(checksum.Algorithm, string) (string, error) {
		attempts++
		return "", errors.New("file is locked")
	}

	out := filepath.Join(f.dir, "l.out")
	require.NoError(t, f.svc.ReconstructFile(ctx, file.ID, out))
	assert.Equal(t, verifyAttempts, attempts)
	assert.FileExists(t, out)
}

func TestReconstruct_FallbackStillCatchesCorruption(t *testing.T) {
	f := newFixture(t, WithChunkVerification(false))
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "x.bin", pattern(3000)))
	require.NoError(t, err)

	c := file.Chunks[0]
	_, err = f.providerFor(t, c).Store(ctx, c.ID, bytes.Repeat([]byte{1}, int(c.Size)))
	require.NoError(t, err)

	f.svc.reassembler.sumFile = func(checksum.Algorithm, string) (string, error) {
		return "", errors.New("file is locked")
	}

	out := filepath.Join(f.dir, "x.out")
	require.ErrorIs(t, f.svc.ReconstructFile(ctx, file.ID, out), models.ErrIntegrityFailure)
	assert.NoFileExists(t, out)
}

func TestReconstruct_UpdatesLastAccess(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return at }))
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "a.bin", pattern(100)))
	require.NoError(t, err)
	assert.Nil(t, file.LastAccessedAt)

	require.NoError(t, f.svc.ReconstructFile(ctx, file.ID, filepath.Join(f.dir, "a.out")))

	info, err := f.svc.GetFileInfo(ctx, file.ID)
	require.NoError(t, err)
	require.NotNil(t, info.LastAccessedAt)
	assert.WithinDuration(t, at, *info.LastAccessedAt, time.Second)
}

func TestProgressWriter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := pattern(300 * chunker.KiB)

	var in bytes.Buffer
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "p.bin", data), WithProgress(&in))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, in.Bytes()))

	var out bytes.Buffer
	require.NoError(t, f.svc.ReconstructFile(ctx, file.ID, filepath.Join(f.dir, "p.out"), WithProgress(&out)))
	assert.True(t, bytes.Equal(data, out.Bytes()))
}

func TestDeleteFile_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "d.bin", pattern(900*chunker.KiB)))
	require.NoError(t, err)

	deletesBefore := f.counters[0].deletes.Load() + f.counters[1].deletes.Load()
	require.NoError(t, f.svc.DeleteFile(ctx, file.ID))
	deletesAfter := f.counters[0].deletes.Load() + f.counters[1].deletes.Load()
	assert.Equal(t, int32(file.TotalChunks), deletesAfter-deletesBefore)

	callsBefore := f.counters[0].calls() + f.counters[1].calls()
	err = f.svc.DeleteFile(ctx, file.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, callsBefore, f.counters[0].calls()+f.counters[1].calls())

	_, err = f.svc.GetFileInfo(ctx, file.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	for _, d := range f.disks {
		stats, err := d.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.ChunkCount)
	}
}

func TestDeleteFile_ContinuesPastUnknownProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "d.bin", pattern(900*chunker.KiB)))
	require.NoError(t, err)

	only, err := storage.NewRegistry(f.counters[0])
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	partial := NewService(f.store, only, WithLogger(log))

	require.NoError(t, partial.DeleteFile(ctx, file.ID))

	stats, err := f.disks[0].Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount)

	chunks, err := f.store.GetChunks(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestVerifyFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file, err := f.svc.ChunkFile(ctx, f.writeSource(t, "v.bin", pattern(900*chunker.KiB)))
	require.NoError(t, err)

	report, err := f.svc.VerifyFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	require.Len(t, report.Chunks, 4)
	for _, c := range report.Chunks {
		assert.Equal(t, ChunkOK, c.Status)
	}

	missing, corrupt := file.Chunks[1], file.Chunks[3]
	require.NoError(t, f.providerFor(t, missing).Delete(ctx, missing.ID))
	_, err = f.providerFor(t, corrupt).Store(ctx, corrupt.ID, []byte("short"))
	require.NoError(t, err)

	report, err = f.svc.VerifyFile(ctx, file.ID)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, ChunkOK, report.Chunks[0].Status)
	assert.Equal(t, ChunkMissing, report.Chunks[1].Status)
	assert.Equal(t, ChunkCorrupt, report.Chunks[3].Status)

	_, err = f.svc.VerifyFile(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProviderStats(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.ProviderStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "disk-a", stats[0].Name)
	assert.Equal(t, "disk-b", stats[1].Name)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "corruption_detected", PhaseCorruptionDetected.String())
	assert.Equal(t, "phase(99)", Phase(99).String())
}
