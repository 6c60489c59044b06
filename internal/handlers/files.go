package handlers

import (
	"net/http"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/sirupsen/logrus"
)

// FilesHandler serves catalogue queries and maintenance
type FilesHandler struct {
	engine Engine
	log    logrus.FieldLogger
}

func NewFilesHandler(eng Engine, log logrus.FieldLogger) *FilesHandler {
	return &FilesHandler{engine: eng, log: log}
}

// FileInfoResponse is a file record with its integrity summary
type FileInfoResponse struct {
	*models.FileRecord
	IsComplete  bool `json:"is_complete"`
	IntegrityOK bool `json:"integrity_ok"`
}

// List handles GET /files
func (fh *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := fh.engine.ListFiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []*models.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

// Info handles GET /files/{file_id}
func (fh *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	file, err := fh.engine.GetFileInfo(r.Context(), fileIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileInfoResponse{
		FileRecord:  file,
		IsComplete:  file.IsComplete(),
		IntegrityOK: file.ValidateIntegrity(),
	})
}

// Verify handles POST /files/{file_id}/verify
func (fh *FilesHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := fh.engine.VerifyFile(r.Context(), fileIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Delete handles DELETE /files/{file_id}
func (fh *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := fileIDFrom(r)
	if err := fh.engine.DeleteFile(r.Context(), fileID); err != nil {
		writeError(w, err)
		return
	}
	fh.log.WithField("file_id", fileID).Info("File deleted over HTTP")
	w.WriteHeader(http.StatusNoContent)
}

// Providers handles GET /providers
func (fh *FilesHandler) Providers(w http.ResponseWriter, r *http.Request) {
	stats, err := fh.engine.ProviderStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
