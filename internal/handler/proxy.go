package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/noncegate/noncegate/internal/auth"
	"github.com/noncegate/noncegate/internal/middleware"
)

// Headers set on proxied requests so the upstream knows the caller.
const (
	HeaderKeyID     = "X-Noncegate-Key-ID"
	HeaderAccountID = "X-Noncegate-Account-ID"
	HeaderTier      = "X-Noncegate-Tier"
	HeaderRequestID = "X-Noncegate-Request-ID"
)

// ProxyHandler forwards authorized requests to the upstream API.
type ProxyHandler struct {
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler for upstream. A nil upstream
// answers every request with 503.
func NewProxyHandler(upstream *url.URL, logger *slog.Logger) *ProxyHandler {
	h := &ProxyHandler{logger: logger.With("component", "handler.proxy")}
	if upstream == nil {
		return h
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()

			// Credentials stay at the gateway.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("X-API-Key")
			pr.Out.Header.Del(HeaderKeyID)
			pr.Out.Header.Del(HeaderAccountID)
			pr.Out.Header.Del(HeaderTier)
			pr.Out.Header.Del(HeaderRequestID)

			if id := middleware.GetRequestID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(HeaderRequestID, id)
			}

			if p := auth.PrincipalFromContext(pr.In.Context()); p != nil {
				pr.Out.Header.Set(HeaderKeyID, p.KeyID)
				pr.Out.Header.Set(HeaderAccountID, p.AccountID)
				pr.Out.Header.Set(HeaderTier, p.Tier.String())
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "BAD_GATEWAY", "Upstream unavailable")
		},
	}
	return h
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Upstream not configured")
		return
	}
	h.proxy.ServeHTTP(w, r)
}
