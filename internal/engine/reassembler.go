package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maneesh/scatterstore/internal/checksum"
	"github.com/maneesh/scatterstore/internal/metadata"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/maneesh/scatterstore/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Phase is a step of a reconstruction attempt
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseStreaming
	PhaseVerifying
	PhaseSuccess
	PhaseCorruptionDetected
	PhaseNotFound
	// PhaseFailed covers I/O errors that are neither missing data nor corruption.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseStreaming:
		return "streaming"
	case PhaseVerifying:
		return "verifying"
	case PhaseSuccess:
		return "success"
	case PhaseCorruptionDetected:
		return "corruption_detected"
	case PhaseNotFound:
		return "not_found"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ReconstructError reports where a reconstruction stopped. It unwraps to
// the models error that caused it.
type ReconstructError struct {
	FileID string
	// Step is the phase that was running when the failure happened.
	Step Phase
	// Outcome is the terminal state.
	Outcome Phase
	Err     error
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("reconstruct %s: %s during %s: %v", e.FileID, e.Outcome, e.Step, e.Err)
}

func (e *ReconstructError) Unwrap() error { return e.Err }

// outcomeOf classifies err into a terminal phase.
func outcomeOf(err error) Phase {
	switch {
	case errors.Is(err, models.ErrIntegrityFailure):
		return PhaseCorruptionDetected
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrPartialData),
		errors.Is(err, models.ErrProviderUnavailable):
		return PhaseNotFound
	}
	return PhaseFailed
}

const (
	verifyAttempts = 3
	verifyInterval = 100 * time.Millisecond
)

// Reassembler rebuilds files from their stored chunks
type Reassembler struct {
	store        metadata.Store
	registry     *storage.Registry
	verifyChunks bool
	log          logrus.FieldLogger
	now          func() time.Time

	sumFile    func(alg checksum.Algorithm, path string) (string, error)
	newBackOff func() backoff.BackOff
}

// NewReassembler creates a reassembler. With verifyChunks every chunk is
// checked against its recorded digest before it is written.
func NewReassembler(store metadata.Store, registry *storage.Registry, verifyChunks bool, log logrus.FieldLogger) *Reassembler {
	return &Reassembler{
		store:        store,
		registry:     registry,
		verifyChunks: verifyChunks,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		sumFile:      checksum.Algorithm.SumFile,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(verifyInterval), verifyAttempts-1)
		},
	}
}

// Reconstruct writes the file to outputPath in sequence order and verifies
// the whole-file digest. Any failure removes the output it created.
func (r *Reassembler) Reconstruct(ctx context.Context, fileID, outputPath string, progress io.Writer) (err error) {
	ctx, span := tracer.Start(ctx, "engine.reconstruct_file",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.String("output_path", outputPath),
		),
	)
	defer span.End()

	if fileID == "" || outputPath == "" {
		return fmt.Errorf("%w: file id and output path are required", models.ErrInvalidInput)
	}

	log := r.log.WithField("file_id", fileID)
	phase := PhaseLoading
	created := false
	defer func() {
		if err == nil {
			return
		}
		outcome := outcomeOf(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("outcome", outcome.String()))
		if created {
			if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				log.WithError(rmErr).Warn("Failed to remove output after failed reconstruction")
			}
		}
		log.WithError(err).WithField("outcome", outcome.String()).Warn("Reconstruction failed")
		err = &ReconstructError{FileID: fileID, Step: phase, Outcome: outcome, Err: err}
	}()

	file, chunks, err := r.load(ctx, fileID)
	if err != nil {
		return err
	}
	alg, err := checksum.Parse(file.ChecksumAlgorithm)
	if err != nil {
		return err
	}

	phase = PhaseStreaming
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	created = true

	streamed := alg.NewHash()
	w := io.MultiWriter(out, streamed)
	if progress != nil {
		w = io.MultiWriter(out, streamed, progress)
	}
	if err := r.stream(ctx, alg, chunks, w); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	phase = PhaseVerifying
	if err := r.verify(ctx, alg, file, outputPath, checksum.Hex(streamed), log); err != nil {
		return err
	}

	if err := r.store.TouchFile(ctx, fileID, r.now()); err != nil {
		log.WithError(err).Warn("Failed to update last access time")
	}

	log.WithFields(logrus.Fields{
		"output": outputPath,
		"size":   file.Size,
		"chunks": len(chunks),
	}).Info("File reconstructed")
	span.SetAttributes(attribute.String("outcome", PhaseSuccess.String()))
	return nil
}

func (r *Reassembler) load(ctx context.Context, fileID string) (*models.FileRecord, []*models.ChunkRecord, error) {
	file, err := r.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := r.store.GetChunks(ctx, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) != file.TotalChunks {
		return nil, nil, fmt.Errorf("%w: found %d of %d chunks", models.ErrPartialData, len(chunks), file.TotalChunks)
	}
	models.SortChunks(chunks)
	for i, c := range chunks {
		if c.SequenceNumber != i {
			return nil, nil, fmt.Errorf("%w: chunk %d is missing", models.ErrPartialData, i)
		}
	}
	return file, chunks, nil
}

func (r *Reassembler) stream(ctx context.Context, alg checksum.Algorithm, chunks []*models.ChunkRecord, w io.Writer) error {
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		provider, err := r.registry.Get(c.StorageProviderName)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.SequenceNumber, err)
		}
		data, err := provider.Retrieve(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to retrieve chunk %d from %s: %w", c.SequenceNumber, provider.Name(), err)
		}

		if r.verifyChunks {
			if int64(len(data)) != c.Size {
				return fmt.Errorf("%w: chunk %d has %d bytes, expected %d", models.ErrIntegrityFailure, c.SequenceNumber, len(data), c.Size)
			}
			if !alg.Verify(data, c.Checksum) {
				return fmt.Errorf("%w: chunk %d checksum mismatch", models.ErrIntegrityFailure, c.SequenceNumber)
			}
		}

		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", c.SequenceNumber, err)
		}
	}
	return nil
}

// verify re-reads the written output and compares it with the record. When
// the output cannot be read back after every attempt, the digest of the
// bytes that were streamed out is compared instead.
func (r *Reassembler) verify(ctx context.Context, alg checksum.Algorithm, file *models.FileRecord, outputPath, streamed string, log logrus.FieldLogger) error {
	var actual string
	attempt := 0
	op := func() error {
		attempt++
		sum, err := r.sumFile(alg, outputPath)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("Verification read failed")
			return err
		}
		actual = sum
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(r.newBackOff(), ctx)); err != nil {
		if errors.Is(err, fs.ErrNotExist) || ctx.Err() != nil {
			return fmt.Errorf("failed to read output for verification: %w", err)
		}
		log.WithError(err).WithField("attempts", attempt).Warn("Could not re-read output, using streamed checksum")
		actual = streamed
	}

	if actual != file.Checksum {
		return fmt.Errorf("%w: output checksum %s does not match %s", models.ErrIntegrityFailure, actual, file.Checksum)
	}
	return nil
}
