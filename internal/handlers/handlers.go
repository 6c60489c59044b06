package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/scatterstore/internal/engine"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scatterstore-handlers")

// Engine is the set of engine operations served over HTTP
type Engine interface {
	ChunkFile(ctx context.Context, sourcePath string, opts ...engine.CallOption) (*models.FileRecord, error)
	ChunkFiles(ctx context.Context, paths []string) []engine.BatchResult
	ReconstructFile(ctx context.Context, fileID, outputPath string, opts ...engine.CallOption) error
	GetFileInfo(ctx context.Context, fileID string) (*models.FileRecord, error)
	ListFiles(ctx context.Context) ([]*models.FileRecord, error)
	DeleteFile(ctx context.Context, fileID string) error
	VerifyFile(ctx context.Context, fileID string) (*engine.VerifyReport, error)
	ProviderStats(ctx context.Context) ([]models.ProviderStats, error)
}

// NewRouter registers every route. Each route except /health is wrapped
// in an otelhttp handler named after it.
func NewRouter(eng Engine, log logrus.FieldLogger) *mux.Router {
	write := NewWriteHandler(eng, log)
	read := NewReadHandler(eng, log)
	files := NewFilesHandler(eng, log)

	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	route := func(method, path string, h http.HandlerFunc) {
		router.Handle(path, otelhttp.NewHandler(h, method+" "+path)).Methods(method)
	}

	router.Handle("/write", otelhttp.NewHandler(write, "PUT /write")).Methods(http.MethodPut)
	router.Handle("/read/{file_id}", otelhttp.NewHandler(read, "GET /read/{file_id}")).Methods(http.MethodGet)

	route(http.MethodPost, "/files", write.ChunkPaths)
	route(http.MethodGet, "/files", files.List)
	route(http.MethodGet, "/files/{file_id}", files.Info)
	route(http.MethodPost, "/files/{file_id}/reconstruct", read.Reconstruct)
	route(http.MethodPost, "/files/{file_id}/verify", files.Verify)
	route(http.MethodDelete, "/files/{file_id}", files.Delete)
	route(http.MethodGet, "/providers", files.Providers)

	return router
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the engine error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrIntegrityFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPartialData):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func fileIDFrom(r *http.Request) string {
	return mux.Vars(r)["file_id"]
}
