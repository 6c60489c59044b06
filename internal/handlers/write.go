package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/maneesh/scatterstore/internal/engine"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WriteHandler chunks uploaded bodies and local paths
type WriteHandler struct {
	engine Engine
	log    logrus.FieldLogger
}

// NewWriteHandler creates a new write handler
func NewWriteHandler(eng Engine, log logrus.FieldLogger) *WriteHandler {
	return &WriteHandler{engine: eng, log: log}
}

// WriteResponse represents the response for a write operation
type WriteResponse struct {
	FileID     string `json:"file_id"`
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	ChunkCount int    `json:"chunk_count"`
	Checksum   string `json:"checksum"`
	Message    string `json:"message"`
}

func newWriteResponse(f *models.FileRecord) WriteResponse {
	return WriteResponse{
		FileID:     f.ID,
		FileName:   f.Name,
		FileSize:   f.Size,
		ChunkCount: f.TotalChunks,
		Checksum:   f.Checksum,
		Message:    "File chunked successfully",
	}
}

// ServeHTTP handles PUT /write?name=filename. The body is spooled to a
// temporary file and chunked from there.
func (wh *WriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "write_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	filename := r.URL.Query().Get("name")
	if filename == "" {
		writeError(w, fmt.Errorf("%w: missing 'name' query parameter", models.ErrInvalidInput))
		return
	}
	span.SetAttributes(attribute.String("file_name", filename))

	tmp, err := os.CreateTemp("", "scatterstore-upload-*")
	if err != nil {
		span.RecordError(err)
		writeError(w, fmt.Errorf("failed to buffer upload: %w", err))
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		span.RecordError(err)
		writeError(w, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	wh.log.WithField("name", filename).Info("Chunking uploaded file")
	file, err := wh.engine.ChunkFile(ctx, tmp.Name(), engine.WithName(filename))
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	span.SetAttributes(
		attribute.String("file_id", file.ID),
		attribute.Int64("file_size", file.Size),
		attribute.Int("chunk_count", file.TotalChunks),
	)
	writeJSON(w, http.StatusCreated, newWriteResponse(file))
}

// ChunkRequest names local files to chunk. Path may hold a comma separated list.
type ChunkRequest struct {
	Paths []string `json:"paths"`
	Path  string   `json:"path"`
}

// ChunkResult is one entry of a batch response
type ChunkResult struct {
	Path  string         `json:"path"`
	File  *WriteResponse `json:"file,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ChunkPaths handles POST /files
func (wh *WriteHandler) ChunkPaths(w http.ResponseWriter, r *http.Request) {
	var req ChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}

	paths := req.Paths
	for _, p := range strings.Split(req.Path, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		writeError(w, fmt.Errorf("%w: no paths given", models.ErrInvalidInput))
		return
	}

	if len(paths) == 1 {
		file, err := wh.engine.ChunkFile(r.Context(), paths[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newWriteResponse(file))
		return
	}

	results := wh.engine.ChunkFiles(r.Context(), paths)
	out := make([]ChunkResult, len(results))
	for i, res := range results {
		out[i].Path = res.Path
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		resp := newWriteResponse(res.File)
		out[i].File = &resp
	}
	writeJSON(w, http.StatusOK, out)
}
