package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/middleware"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/service"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// UserHandler handles profile and user search endpoints.
type UserHandler struct {
	service *service.UserService
	logger  *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *service.UserService, log *logger.Logger) *UserHandler {
	return &UserHandler{
		service: svc,
		logger:  log,
	}
}

// Me handles GET /api/v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential := middleware.GetCredential(ctx)

	user, err := h.service.Me(ctx, credential)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// SetUsername handles POST /api/v1/users/username
func (h *UserHandler) SetUsername(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential := middleware.GetCredential(ctx)

	var req model.SetUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.service.SetUsername(ctx, credential, req.Username)
	if err != nil {
		h.logger.Error("failed to set username", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Search handles GET /api/v1/users/search?q=...
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential := middleware.GetCredential(ctx)

	query := r.URL.Query().Get("q")

	users, err := h.service.Search(ctx, credential, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.User{"users": users})
}
