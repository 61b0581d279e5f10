package middleware

import (
	"log/slog"
	"net/http"

	"github.com/noncegate/noncegate/internal/auth"
)

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(token string) (*auth.SessionClaims, error)
}

// Session returns middleware that requires a valid session token issued
// by sign-in. The claims are stored in the request context.
func Session(logger *slog.Logger, tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeSessionError(w)
				return
			}

			claims, err := tokens.Parse(token)
			if err != nil {
				logger.Warn("session rejected",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeSessionError(w)
				return
			}

			annotateKey(r.Context(), "", claims.AccountID())
			ctx := auth.ContextWithSession(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeSessionError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="noncegate"`)
	WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing session token")
}
