package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink-im/chat-platform/internal/middleware"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// fakeBlobs records uploads in memory.
type fakeBlobs struct {
	enabled bool
	keys    []string
}

func (f *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	f.keys = append(f.keys, key)
	return "s3://test-bucket/" + key, nil
}

func (f *fakeBlobs) Enabled() bool { return f.enabled }

func uploadRequest(t *testing.T, user *model.User) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("not-really-a-png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req.WithContext(context.WithValue(req.Context(), middleware.UserKey, user))
}

func TestUploadStoresFile(t *testing.T) {
	blobs := &fakeBlobs{enabled: true}
	h := NewFileHandler(blobs, logger.Nop())
	user := &model.User{ID: "u-alice", Username: "alice"}

	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, user))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, blobs.keys, 1)
	assert.True(t, strings.HasPrefix(blobs.keys[0], "uploads/u-alice/"))
	assert.True(t, strings.HasSuffix(blobs.keys[0], ".png"))
	assert.Contains(t, rec.Body.String(), "file_uri")
}

func TestUploadRejectedWhenStorageDisabled(t *testing.T) {
	blobs := &fakeBlobs{enabled: false}
	h := NewFileHandler(blobs, logger.Nop())
	user := &model.User{ID: "u-alice", Username: "alice"}

	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, user))

	// No body is read when uploads are disabled.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, blobs.keys)
}
