package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/maneesh/scatterstore/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scatterstore-chunker")

// Picker chooses the provider for the next chunk.
type Picker interface {
	Pick() (storage.Provider, error)
}

// RandomPicker picks uniformly among registered providers, independently
// per chunk. The random source is owned by the picker.
type RandomPicker struct {
	mu       sync.Mutex
	registry *storage.Registry
	rng      *rand.Rand
}

// NewRandomPicker uses rng for every choice.
func NewRandomPicker(registry *storage.Registry, rng *rand.Rand) *RandomPicker {
	return &RandomPicker{registry: registry, rng: rng}
}

// NewSeededPicker builds a picker from a seed; equal seeds give equal placements.
func NewSeededPicker(registry *storage.Registry, seed uint64) *RandomPicker {
	return NewRandomPicker(registry, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func (p *RandomPicker) Pick() (storage.Provider, error) {
	providers := p.registry.Providers()
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no storage providers registered", models.ErrProviderUnavailable)
	}

	p.mu.Lock()
	i := p.rng.IntN(len(providers))
	p.mu.Unlock()

	return providers[i], nil
}

// Observer is told about every chunk once it is stored.
type Observer func(chunk *models.ChunkRecord, total int)

// Splitter cuts a stream into planned chunks and stores each one
type Splitter struct {
	picker    Picker
	algorithm checksum.Algorithm
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewSplitter creates a splitter hashing chunks with algorithm.
func NewSplitter(picker Picker, algorithm checksum.Algorithm, log logrus.FieldLogger) *Splitter {
	return &Splitter{
		picker:    picker,
		algorithm: algorithm,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Split reads r sequentially and stores plan.ChunkCount chunks. On error
// the records of chunks already stored are returned with it so the caller
// can remove their bytes. A source that ends early yields ErrPartialData.
func (s *Splitter) Split(ctx context.Context, fileID string, r io.Reader, fileSize int64, plan Plan, observe Observer) ([]*models.ChunkRecord, error) {
	ctx, span := tracer.Start(ctx, "split_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int64("file_size", fileSize),
			attribute.Int64("chunk_size", plan.ChunkSize),
			attribute.Int("chunk_count", plan.ChunkCount),
		),
	)
	defer span.End()

	if fileID == "" || fileSize <= 0 || plan.ChunkCount < MinChunkCount || plan.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: split of %q (%d bytes) with plan %+v", models.ErrInvalidInput, fileID, fileSize, plan)
	}

	records := make([]*models.ChunkRecord, 0, plan.ChunkCount)
	remaining := fileSize

	for seq := 0; seq < plan.ChunkCount; seq++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		want := ChunkLength(seq, fileSize, remaining, plan)
		buf := make([]byte, want)
		n, err := readChunk(r, buf)
		if err != nil {
			span.RecordError(err)
			return records, fmt.Errorf("error reading chunk %d: %w", seq, err)
		}
		if n == 0 && want > 0 {
			break
		}
		data := buf[:n]

		record, err := s.storeChunk(ctx, fileID, seq, data)
		if err != nil {
			span.RecordError(err)
			return records, err
		}
		records = append(records, record)
		remaining -= int64(n)

		if observe != nil {
			observe(record, plan.ChunkCount)
		}
	}

	if len(records) != plan.ChunkCount || remaining != 0 {
		err := fmt.Errorf("%w: stored %d of %d chunks, %d bytes unread", models.ErrPartialData, len(records), plan.ChunkCount, remaining)
		span.RecordError(err)
		return records, err
	}

	span.SetAttributes(attribute.Bool("split_success", true))
	return records, nil
}

func (s *Splitter) storeChunk(ctx context.Context, fileID string, seq int, data []byte) (*models.ChunkRecord, error) {
	provider, err := s.picker.Pick()
	if err != nil {
		return nil, err
	}

	chunkID := models.ChunkID(fileID, seq)
	sum := s.algorithm.Sum(data)

	location, err := provider.Store(ctx, chunkID, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store chunk %d in %s: %w", seq, provider.Name(), err)
	}

	s.log.WithFields(logrus.Fields{
		"file_id":  fileID,
		"chunk":    seq,
		"size":     len(data),
		"provider": provider.Name(),
	}).Debug("Stored chunk")

	return &models.ChunkRecord{
		ID:                  chunkID,
		FileID:              fileID,
		SequenceNumber:      seq,
		Size:                int64(len(data)),
		StorageProviderName: provider.Name(),
		StorageLocation:     location,
		Checksum:            sum,
		CreatedAt:           s.now(),
	}, nil
}

// readChunk fills buf from r, retrying a short read once before treating
// it as the end of the stream.
func readChunk(r io.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if n < len(buf) && err == nil {
		var m int
		m, err = r.Read(buf[n:])
		n += m
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}
