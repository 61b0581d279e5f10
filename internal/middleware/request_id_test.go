package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		inbound   string
		wantKept  bool
		traceID   string
		wantTrace string
	}{
		{name: "generated when absent", inbound: ""},
		{name: "well-formed id kept", inbound: "req-01HZ.abc:9", wantKept: true},
		{name: "id with spaces replaced", inbound: "req 1"},
		{name: "id with newline replaced", inbound: "req\r\nX-Noncegate-Tier: TIER_4"},
		{name: "overlong id replaced", inbound: strings.Repeat("a", maxCorrelationIDLength+1)},
		{name: "valid trace id kept", traceID: "trace-1", wantTrace: "trace-1"},
		{name: "malformed trace id dropped", traceID: "trace 1", wantTrace: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var ctxID, ctxTrace, forwardedID, forwardedTrace string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
				ctxTrace = GetTraceID(r.Context())
				forwardedID = r.Header.Get(RequestIDHeader)
				forwardedTrace = r.Header.Get(TraceIDHeader)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header[RequestIDHeader] = []string{tt.inbound}
			}
			if tt.traceID != "" {
				req.Header.Set(TraceIDHeader, tt.traceID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.wantKept {
				if ctxID != tt.inbound {
					t.Errorf("request id = %q, want %q", ctxID, tt.inbound)
				}
			} else if _, err := uuid.Parse(ctxID); err != nil {
				t.Errorf("request id = %q, want a generated UUID", ctxID)
			}
			if got := rec.Header().Get(RequestIDHeader); got != ctxID {
				t.Errorf("response %s = %q, want %q", RequestIDHeader, got, ctxID)
			}
			if forwardedID != ctxID {
				t.Errorf("request header %s = %q, want %q", RequestIDHeader, forwardedID, ctxID)
			}

			if ctxTrace != tt.wantTrace || forwardedTrace != tt.wantTrace {
				t.Errorf("trace id = %q (header %q), want %q", ctxTrace, forwardedTrace, tt.wantTrace)
			}
			if got := rec.Header().Get(TraceIDHeader); got != tt.wantTrace {
				t.Errorf("response %s = %q, want %q", TraceIDHeader, got, tt.wantTrace)
			}
		})
	}
}

func TestGetRequestID_OutsideMiddleware(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("GetRequestID = %q, want empty", id)
	}
	if id := GetTraceID(req.Context()); id != "" {
		t.Errorf("GetTraceID = %q, want empty", id)
	}
}
