package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status != 0 {
		return
	}
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach Flush on the proxied writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

const logIdentityKey contextKey = "log_identity"

// logIdentity is filled in by the session and API key guards.
type logIdentity struct {
	keyID     string
	accountID string
}

func annotateKey(ctx context.Context, keyID, accountID string) {
	if ident, ok := ctx.Value(logIdentityKey).(*logIdentity); ok {
		ident.keyID = keyID
		ident.accountID = accountID
	}
}

// pollPaths are polled by orchestrators and logged at debug level.
var pollPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Logger logs one line per request. Credentials and query strings are never
// logged; the key and account the guards resolved are, by ID.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			ident := &logIdentity{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logIdentityKey, ident)))

			status := rec.code()
			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
			}
			if traceID := GetTraceID(r.Context()); traceID != "" {
				attrs = append(attrs, slog.String("trace_id", traceID))
			}
			if ident.keyID != "" {
				attrs = append(attrs, slog.String("key_id", ident.keyID))
			}
			if ident.accountID != "" {
				attrs = append(attrs, slog.String("account_id", ident.accountID))
			}

			logger.LogAttrs(r.Context(), requestLevel(r.URL.Path, status), "http request", attrs...)
		})
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case pollPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
