package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		allowed       []string
		origin        string
		method        string
		requestMethod string
		wantStatus    int
		wantOrigin    string
		wantNext      bool
	}{
		{
			name:       "no origins configured",
			origin:     "https://dashboard.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "allowed origin tagged",
			allowed:    []string{"https://dashboard.example.com"},
			origin:     "https://dashboard.example.com",
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			wantOrigin: "https://dashboard.example.com",
			wantNext:   true,
		},
		{
			name:       "origin match ignores case",
			allowed:    []string{"HTTPS://DASHBOARD.EXAMPLE.COM"},
			origin:     "https://dashboard.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "https://dashboard.example.com",
			wantNext:   true,
		},
		{
			name:       "subdomain pattern",
			allowed:    []string{"*.example.com"},
			origin:     "https://app.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com",
			wantNext:   true,
		},
		{
			name:       "subdomain pattern rejects lookalike",
			allowed:    []string{"*.example.com"},
			origin:     "https://evilexample.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "subdomain pattern rejects apex",
			allowed:    []string{"*.example.com"},
			origin:     "https://example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:          "disallowed preflight forbidden",
			allowed:       []string{"https://dashboard.example.com"},
			origin:        "https://evil.com",
			method:        http.MethodOptions,
			requestMethod: http.MethodPost,
			wantStatus:    http.StatusForbidden,
		},
		{
			name:          "preflight answered without reaching handler",
			allowed:       []string{"https://dashboard.example.com"},
			origin:        "https://dashboard.example.com",
			method:        http.MethodOptions,
			requestMethod: http.MethodPost,
			wantStatus:    http.StatusNoContent,
			wantOrigin:    "https://dashboard.example.com",
		},
		{
			name:          "preflight for unserved method forbidden",
			allowed:       []string{"https://dashboard.example.com"},
			origin:        "https://dashboard.example.com",
			method:        http.MethodOptions,
			requestMethod: http.MethodPut,
			wantStatus:    http.StatusForbidden,
			wantOrigin:    "https://dashboard.example.com",
		},
		{
			name:       "no origin header skips CORS",
			allowed:    []string{"https://dashboard.example.com"},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultCORSConfig()
			cfg.AllowedOrigins = tt.allowed

			reached := false
			handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/score/1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.requestMethod != "" {
				req.Header.Set("Access-Control-Request-Method", tt.requestMethod)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if reached != tt.wantNext {
				t.Errorf("handler reached = %v, want %v", reached, tt.wantNext)
			}
			if tt.origin != "" && rec.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", rec.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_PreflightAllowsCredentialHeaders(t *testing.T) {
	t.Parallel()

	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
	handler := CORS(cfg)(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/submit-passport", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, x-api-key, content-type")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	for _, h := range []string{"authorization", "x-api-key", "content-type", "x-request-id"} {
		if !strings.Contains(allowed, h) {
			t.Errorf("Access-Control-Allow-Headers = %q, missing %s", allowed, h)
		}
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want unset", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
	}
}

func TestCORS_ExposesQuotaHeaders(t *testing.T) {
	t.Parallel()

	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "124")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/score/1", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("X-API-Key", "ng_test_deadbeef_x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", RequestIDHeader} {
		if !strings.Contains(exposed, h) {
			t.Errorf("Access-Control-Expose-Headers = %q, missing %s", exposed, h)
		}
	}
}
