package handlers

import (
	"net/http"
	"strings"

	"crewcanvas/application/secrets"
	"crewcanvas/pkg/common"
	apperrors "crewcanvas/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SecretHandler serves API key and secret metadata and the key editor flag
type SecretHandler struct {
	store  *secrets.Store
	logger *zap.Logger
}

// NewSecretHandler creates a new secret handler
func NewSecretHandler(store *secrets.Store, logger *zap.Logger) *SecretHandler {
	return &SecretHandler{store: store, logger: logger}
}

// SetAPIKeyRequest is the body of PUT /secrets/api-keys/{name}
type SetAPIKeyRequest struct {
	Value       string `json:"value" validate:"required"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// OpenEditorRequest optionally names the key to edit
type OpenEditorRequest struct {
	KeyName string `json:"keyName,omitempty"`
}

// ListAPIKeys handles GET /secrets/api-keys
func (h *SecretHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.APIKeys(r.Context())
	if err != nil {
		h.logger.Error("Failed to list API keys", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, keys)
}

// ListSecrets handles GET /secrets
func (h *SecretHandler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Secrets(r.Context())
	if err != nil {
		h.logger.Error("Failed to list secrets", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, list)
}

// SetAPIKey handles PUT /secrets/api-keys/{name}
func (h *SecretHandler) SetAPIKey(w http.ResponseWriter, r *http.Request) {
	name, err := keyNameParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	var req SetAPIKeyRequest
	if err := decode(r, &req, false); err != nil {
		common.RespondAppError(w, err)
		return
	}

	if err := h.store.SetAPIKey(r.Context(), name, req.Value, req.Description); err != nil {
		// The value never reaches the log
		h.logger.Error("Failed to set API key", zap.String("name", name), zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAPIKey handles DELETE /secrets/api-keys/{name}
func (h *SecretHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	name, err := keyNameParam(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), name); err != nil {
		h.logger.Error("Failed to delete API key", zap.String("name", name), zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEditor handles GET /secrets/editor
func (h *SecretHandler) GetEditor(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, h.store.EditorState())
}

// OpenEditor handles POST /secrets/editor
func (h *SecretHandler) OpenEditor(w http.ResponseWriter, r *http.Request) {
	var req OpenEditorRequest
	if err := decode(r, &req, true); err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, h.store.RequestEditor(r.Context(), strings.TrimSpace(req.KeyName)))
}

// CloseEditor handles DELETE /secrets/editor
func (h *SecretHandler) CloseEditor(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, h.store.CloseEditor(r.Context()))
}

func keyNameParam(r *http.Request) (string, error) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		return "", apperrors.NewValidationError("key name is required")
	}
	return name, nil
}
