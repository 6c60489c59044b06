package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReadHandler serves reconstructed files
type ReadHandler struct {
	engine Engine
	log    logrus.FieldLogger
}

// NewReadHandler creates a new read handler
func NewReadHandler(eng Engine, log logrus.FieldLogger) *ReadHandler {
	return &ReadHandler{engine: eng, log: log}
}

// ServeHTTP handles GET /read/{file_id}. The file is rebuilt and verified
// in a temporary directory before any byte is sent.
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID := fileIDFrom(r)
	if fileID == "" {
		writeError(w, fmt.Errorf("%w: missing file_id in path", models.ErrInvalidInput))
		return
	}
	span.SetAttributes(attribute.String("file_id", fileID))

	info, err := rh.engine.GetFileInfo(ctx, fileID)
	if err != nil {
		writeError(w, err)
		return
	}

	dir, err := os.MkdirTemp("", "scatterstore-read-*")
	if err != nil {
		span.RecordError(err)
		writeError(w, fmt.Errorf("failed to create temp dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	rh.log.WithField("file_id", fileID).Info("Reading file")
	out := filepath.Join(dir, "file")
	if err := rh.engine.ReconstructFile(ctx, fileID, out); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	f, err := os.Open(out)
	if err != nil {
		span.RecordError(err)
		writeError(w, fmt.Errorf("failed to open reconstructed file: %w", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		span.RecordError(err)
		rh.log.WithError(err).WithField("file_id", fileID).Warn("Failed to stream file")
	}
}

// ReconstructRequest is the body of POST /files/{file_id}/reconstruct
type ReconstructRequest struct {
	OutputPath string `json:"output_path"`
}

// ReconstructResponse reports a successful reconstruction
type ReconstructResponse struct {
	FileID     string `json:"file_id"`
	OutputPath string `json:"output_path"`
	Success    bool   `json:"success"`
}

// Reconstruct handles POST /files/{file_id}/reconstruct
func (rh *ReadHandler) Reconstruct(w http.ResponseWriter, r *http.Request) {
	fileID := fileIDFrom(r)

	var req ReconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}
	if req.OutputPath == "" {
		writeError(w, fmt.Errorf("%w: output_path is required", models.ErrInvalidInput))
		return
	}

	if err := rh.engine.ReconstructFile(r.Context(), fileID, req.OutputPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconstructResponse{FileID: fileID, OutputPath: req.OutputPath, Success: true})
}
