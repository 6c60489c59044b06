// Package engine chunks files across storage providers and rebuilds them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/chunker"
	"github.com/maneesh/scatterstore/internal/metadata"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/maneesh/scatterstore/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scatterstore-engine")

// Service is the chunking engine. It owns no file state between calls;
// the metadata store is the only source of chunk order and location.
type Service struct {
	store        metadata.Store
	registry     *storage.Registry
	picker       chunker.Picker
	splitter     *chunker.Splitter
	reassembler  *Reassembler
	algorithm    checksum.Algorithm
	verifyChunks bool
	log          logrus.FieldLogger
	now          func() time.Time
	newID        func() string
}

// Option configures a Service
type Option func(*Service)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithAlgorithm sets the digest used for new files. Existing files keep
// the algorithm recorded with them.
func WithAlgorithm(a checksum.Algorithm) Option {
	return func(s *Service) { s.algorithm = a }
}

// WithChunkVerification toggles per-chunk checksum checks while
// reconstructing. The whole-file check always runs.
func WithChunkVerification(on bool) Option {
	return func(s *Service) { s.verifyChunks = on }
}

// WithPicker replaces the random provider picker.
func WithPicker(p chunker.Picker) Option {
	return func(s *Service) { s.picker = p }
}

// WithSeed makes chunk placement reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Service) { s.picker = chunker.NewSeededPicker(s.registry, seed) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService builds the engine on top of a metadata store and a provider registry.
func NewService(store metadata.Store, registry *storage.Registry, opts ...Option) *Service {
	s := &Service{
		store:        store,
		registry:     registry,
		algorithm:    checksum.Default,
		verifyChunks: true,
		log:          logrus.StandardLogger(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        newFileID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.picker == nil {
		seed := uint64(time.Now().UnixNano())
		s.picker = chunker.NewRandomPicker(registry, rand.New(rand.NewPCG(seed, rand.Uint64())))
	}

	s.splitter = chunker.NewSplitter(s.picker, s.algorithm, s.log)
	s.reassembler = NewReassembler(store, registry, s.verifyChunks, s.log)
	s.reassembler.now = s.now
	return s
}

func newFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CallOption tunes a single ChunkFile or ReconstructFile call
type CallOption func(*callOptions)

type callOptions struct {
	progress io.Writer
	name     string
}

// WithProgress copies every byte read from the source, or written to the
// output, into w.
func WithProgress(w io.Writer) CallOption {
	return func(o *callOptions) { o.progress = w }
}

// WithName records name instead of the source file's base name.
func WithName(name string) CallOption {
	return func(o *callOptions) { o.name = name }
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ChunkFile splits the file at sourcePath across the registered providers
// and records it. Nothing is left behind when it fails: stored chunks are
// deleted and no record is written.
func (s *Service) ChunkFile(ctx context.Context, sourcePath string, opts ...CallOption) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "engine.chunk_file",
		trace.WithAttributes(attribute.String("source_path", sourcePath)),
	)
	defer span.End()

	o := applyCallOptions(opts)

	if strings.TrimSpace(sourcePath) == "" {
		return nil, fmt.Errorf("%w: source path is empty", models.ErrInvalidInput)
	}

	info, err := os.Stat(sourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: source file %s", models.ErrNotFound, sourcePath)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", models.ErrInvalidInput, sourcePath)
	}

	plan, err := chunker.PlanChunks(info.Size())
	if err != nil {
		return nil, err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	fileID := s.newID()
	span.SetAttributes(
		attribute.String("file_id", fileID),
		attribute.Int64("file_size", info.Size()),
		attribute.Int("chunk_count", plan.ChunkCount),
	)

	// the whole-file digest is taken in the same pass as the split
	hasher := s.algorithm.NewHash()
	var sink io.Writer = hasher
	if o.progress != nil {
		sink = io.MultiWriter(hasher, o.progress)
	}

	chunks, err := s.splitter.Split(ctx, fileID, io.TeeReader(src, sink), info.Size(), plan, nil)
	if err != nil {
		span.RecordError(err)
		s.discardChunks(ctx, chunks)
		return nil, fmt.Errorf("failed to split %s: %w", sourcePath, err)
	}

	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		absPath = sourcePath
	}

	name := o.name
	if name == "" {
		name = filepath.Base(sourcePath)
	}

	file := &models.FileRecord{
		ID:                fileID,
		Name:              name,
		OriginalPath:      absPath,
		Size:              info.Size(),
		Checksum:          checksum.Hex(hasher),
		ChecksumAlgorithm: string(s.algorithm),
		ChunkSize:         plan.ChunkSize,
		TotalChunks:       plan.ChunkCount,
		CreatedAt:         s.now(),
	}
	for _, c := range chunks {
		if err := file.AddChunk(c); err != nil {
			s.discardChunks(ctx, chunks)
			return nil, err
		}
	}
	if !file.ValidateIntegrity() {
		s.discardChunks(ctx, chunks)
		return nil, fmt.Errorf("%w: %d chunks cover %d of %d bytes", models.ErrPartialData, len(chunks), file.TotalChunkSize(), file.Size)
	}

	if err := s.store.CreateFile(ctx, file, chunks); err != nil {
		span.RecordError(err)
		s.discardChunks(ctx, chunks)
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"file_id":    file.ID,
		"name":       file.Name,
		"size":       file.Size,
		"chunks":     file.TotalChunks,
		"chunk_size": file.ChunkSize,
	}).Info("File chunked")

	span.SetAttributes(attribute.Bool("chunk_success", true))
	return file, nil
}

// discardChunks removes stored chunk bytes after a failed split. Errors are
// logged only; the original failure is what the caller sees.
func (s *Service) discardChunks(ctx context.Context, chunks []*models.ChunkRecord) {
	for _, c := range chunks {
		p, err := s.registry.Get(c.StorageProviderName)
		if err != nil {
			s.log.WithError(err).WithField("chunk_id", c.ID).Warn("Cannot clean up chunk")
			continue
		}
		if err := p.Delete(ctx, c.ID); err != nil {
			s.log.WithError(err).WithField("chunk_id", c.ID).Warn("Failed to clean up chunk")
		}
	}
}

// BatchResult is the outcome of one path in ChunkFiles
type BatchResult struct {
	Path string             `json:"path"`
	File *models.FileRecord `json:"file,omitempty"`
	Err  error              `json:"-"`
}

// ChunkFiles chunks each path in turn. A failing path does not stop the batch.
func (s *Service) ChunkFiles(ctx context.Context, paths []string) []BatchResult {
	results := make([]BatchResult, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, BatchResult{Path: p, Err: err})
			continue
		}
		file, err := s.ChunkFile(ctx, p)
		if err != nil {
			s.log.WithError(err).WithField("path", p).Warn("Failed to chunk file")
		}
		results = append(results, BatchResult{Path: p, File: file, Err: err})
	}
	return results
}

// ReconstructFile rebuilds the file into outputPath. A nil error means the
// output matched the recorded checksum; on any failure the output is removed.
func (s *Service) ReconstructFile(ctx context.Context, fileID, outputPath string, opts ...CallOption) error {
	o := applyCallOptions(opts)
	return s.reassembler.Reconstruct(ctx, fileID, outputPath, o.progress)
}

// GetFileInfo returns the file record with its chunks in sequence order.
func (s *Service) GetFileInfo(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "engine.get_file_info",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	if fileID == "" {
		return nil, fmt.Errorf("%w: file id is empty", models.ErrInvalidInput)
	}

	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.GetChunks(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	models.SortChunks(chunks)
	file.Chunks = chunks
	return file, nil
}

// ListFiles returns every recorded file without chunk detail.
func (s *Service) ListFiles(ctx context.Context) ([]*models.FileRecord, error) {
	return s.store.ListFiles(ctx)
}

// ProviderStats reports usage for every registered provider. Providers
// that cannot report usage are listed by name only.
func (s *Service) ProviderStats(ctx context.Context) ([]models.ProviderStats, error) {
	providers := s.registry.Providers()
	stats := make([]models.ProviderStats, 0, len(providers))
	for _, p := range providers {
		sp, ok := p.(storage.StatsProvider)
		if !ok {
			stats = append(stats, models.ProviderStats{Name: p.Name()})
			continue
		}
		st, err := sp.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats for %s: %w", p.Name(), err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}
