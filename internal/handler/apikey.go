package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/middleware"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/service"
)

// KeyManager manages the API keys of an account.
type KeyManager interface {
	Create(ctx context.Context, accountID string, req model.APIKeyCreateRequest) (*service.CreatedKey, error)
	List(ctx context.Context, accountID string) ([]*model.APIKey, error)
	Update(ctx context.Context, accountID, keyID string, req model.APIKeyUpdateRequest) (*model.APIKey, error)
	Revoke(ctx context.Context, accountID, keyID string) (time.Time, error)
	Rotate(ctx context.Context, accountID, keyID string) (*service.CreatedKey, time.Time, error)
}

// APIKeyHandler handles API key management endpoints.
// Every route requires a session; keys are scoped to its account.
type APIKeyHandler struct {
	keys     KeyManager
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(keys KeyManager, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		keys:     keys,
		validate: newValidator(),
		logger:   logger.With("component", "handler.apikey"),
	}
}

// CreateAPIKey handles POST /account/api-keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	var req model.APIKeyCreateRequest
	if msg, err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if err := middleware.ValidateKeyName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	created, err := h.keys.Create(r.Context(), session.AccountID(), req)
	if err != nil {
		h.writeServiceError(w, "create", err)
		return
	}

	writeJSON(w, http.StatusCreated, model.APIKeyCreateResponse{
		APIKeyResponse: created.Key.ToResponse(),
		Key:            created.Plaintext,
	})
}

// ListAPIKeys handles GET /account/api-keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())

	keys, err := h.keys.List(r.Context(), session.AccountID())
	if err != nil {
		h.writeServiceError(w, "list", err)
		return
	}

	// Convert to response format (without secrets)
	responses := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, key.ToResponse())
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": responses})
}

// UpdateAPIKey handles PATCH /account/api-keys/{key_id}
func (h *APIKeyHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())
	keyID, ok := keyIDParam(w, r)
	if !ok {
		return
	}

	var req model.APIKeyUpdateRequest
	if msg, err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if req.Name != nil {
		if err := middleware.ValidateKeyName(*req.Name); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	key, err := h.keys.Update(r.Context(), session.AccountID(), keyID, req)
	if err != nil {
		h.writeServiceError(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, key.ToResponse())
}

// RevokeAPIKey handles DELETE /account/api-keys/{key_id}
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())
	keyID, ok := keyIDParam(w, r)
	if !ok {
		return
	}

	if _, err := h.keys.Revoke(r.Context(), session.AccountID(), keyID); err != nil {
		h.writeServiceError(w, "revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey handles POST /account/api-keys/{key_id}/rotate
func (h *APIKeyHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	session := auth.MustSessionFromContext(r.Context())
	keyID, ok := keyIDParam(w, r)
	if !ok {
		return
	}

	created, revokedAt, err := h.keys.Rotate(r.Context(), session.AccountID(), keyID)
	if err != nil {
		h.writeServiceError(w, "rotate", err)
		return
	}

	writeJSON(w, http.StatusCreated, model.APIKeyRotateResponse{
		OldKeyID:        keyID,
		OldKeyRevokedAt: revokedAt,
		NewKey: model.APIKeyCreateResponse{
			APIKeyResponse: created.Key.ToResponse(),
			Key:            created.Plaintext,
		},
	})
}

func keyIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	keyID := chi.URLParam(r, "key_id")
	if err := middleware.ValidateKeyID(keyID); err != nil {
		// Malformed IDs cannot name a key.
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
		return "", false
	}
	return keyID, true
}

func (h *APIKeyHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound), errors.Is(err, service.ErrKeyRevoked):
		// Revoked and foreign keys look the same as missing ones.
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found or already revoked")
	case errors.Is(err, service.ErrTooManyKeys):
		writeError(w, http.StatusConflict, "TOO_MANY_KEYS", err.Error())
	case errors.Is(err, service.ErrNothingToUpdate),
		errors.Is(err, service.ErrInvalidTier),
		errors.Is(err, service.ErrKeyNameTooLong):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		h.logger.Error("API key operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op+" API key")
	}
}
