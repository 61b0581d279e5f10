package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/noncegate/noncegate/internal/challenge"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

// SignInner turns a signed challenge into a session.
type SignInner interface {
	SignIn(ctx context.Context, ch challenge.Challenge) (*model.VerifyResponse, error)
}

// AccountHandler serves sign-in.
type AccountHandler struct {
	signIn   SignInner
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(signIn SignInner, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		signIn:   signIn,
		validate: newValidator(),
		logger:   logger.With("component", "handler.account"),
	}
}

// Verify handles POST /account/verify
//
// Every authentication failure returns the same 401 body; the reason is
// only logged.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyRequest
	if msg, err := decodeJSON(r, h.validate, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}

	resp, err := h.signIn.SignIn(r.Context(), challenge.Challenge{
		Address:   req.Address,
		Nonce:     req.Nonce,
		Signature: req.Signature,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		var authErr *challenge.Error
		switch {
		case errors.As(err, &authErr):
			h.logger.Warn("authentication failed", "reason", authErr.Code())
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication failed")
		case errors.Is(err, nonce.ErrStoreUnavailable):
			h.logger.Error("nonce store unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
		default:
			h.logger.Error("sign-in failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Sign-in failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
