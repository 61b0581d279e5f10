package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/noncegate/noncegate/internal/address"
	"github.com/noncegate/noncegate/internal/challenge"
	"github.com/noncegate/noncegate/internal/middleware"
	"github.com/noncegate/noncegate/internal/model"
	"github.com/noncegate/noncegate/internal/nonce"
)

// NonceIssuer issues sign-in nonces.
type NonceIssuer interface {
	Issue(ctx context.Context, ttl time.Duration) (*model.Nonce, error)
}

// NonceConfig holds the TTL policy of the nonce endpoint.
type NonceConfig struct {
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
	ServiceName string
}

// NonceHandler serves sign-in nonces.
type NonceHandler struct {
	nonces NonceIssuer
	cfg    NonceConfig
	logger *slog.Logger
}

// NewNonceHandler creates a NonceHandler.
func NewNonceHandler(nonces NonceIssuer, cfg NonceConfig, logger *slog.Logger) *NonceHandler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = challenge.DefaultServiceName
	}
	return &NonceHandler{nonces: nonces, cfg: cfg, logger: logger.With("component", "handler.nonce")}
}

// Issue handles GET /account/nonce?ttl=&address=
//
// ttl is in seconds; 0 issues a nonce without expiry. When address is
// given, the response includes the exact message to sign.
func (h *NonceHandler) Issue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	ttl, err := middleware.ParseNonceTTL(query.Get("ttl"), h.cfg.DefaultTTL, h.cfg.MaxTTL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TTL", err.Error())
		return
	}

	var addr *address.Address
	if raw := query.Get("address"); raw != "" {
		if err := middleware.ValidateAddressParam(raw); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid address")
			return
		}
		parsed, err := address.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Invalid address")
			return
		}
		addr = &parsed
	}

	n, err := h.nonces.Issue(r.Context(), ttl)
	if err != nil {
		if errors.Is(err, nonce.ErrInvalidTTL) {
			writeError(w, http.StatusBadRequest, "INVALID_TTL", err.Error())
			return
		}
		if errors.Is(err, nonce.ErrStoreUnavailable) {
			h.logger.Error("nonce store unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
			return
		}
		h.logger.Error("failed to issue nonce", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue nonce")
		return
	}

	resp := model.NonceResponse{Nonce: n.Token, ExpiresAt: n.ExpiresAt}
	if addr != nil {
		resp.Message = challenge.Message(*addr, n.Token, h.cfg.ServiceName)
	}
	writeJSON(w, http.StatusOK, resp)
}
