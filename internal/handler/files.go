package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/middleware"
	"github.com/wavelink-im/chat-platform/internal/storage"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// maxUploadBytes caps one file upload.
const maxUploadBytes = 25 << 20

// FileHandler handles attachment uploads. The upload returns a URI the
// client embeds in a FILE message; binary content never touches the
// message path.
type FileHandler struct {
	blobs  storage.BlobStore
	logger *logger.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(blobs storage.BlobStore, log *logger.Logger) *FileHandler {
	return &FileHandler{
		blobs:  blobs,
		logger: log,
	}
}

// Upload handles POST /api/v1/files (multipart form, field "file").
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	// Reject before reading the body when no blob backend is configured.
	if !h.blobs.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "file uploads are not enabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("uploads/%s/%s%s", user.ID, uuid.New().String(), path.Ext(header.Filename))

	uri, err := h.blobs.Put(ctx, key, file, header.Size, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrStorageDisabled) {
			writeError(w, http.StatusServiceUnavailable, "file uploads are not enabled")
			return
		}
		h.logger.Error("failed to store upload", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"file_uri": uri})
}
