package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not valid; drop table")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not valid; drop table", seen)
	assert.Len(t, seen, 36)
}

func TestRequestLoggerAndRecoverer(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := RequestID(RequestLogger(log)(Recoverer(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/stock", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"INTERNAL_ERROR","request_id":"req-1"}`, rec.Body.String())

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "req-1", entries[0].Data["request_id"])
	assert.Equal(t, "request", entries[1].Message)
	assert.Equal(t, http.StatusInternalServerError, entries[1].Data["status"])
	assert.Equal(t, "/api/inventory/stock", entries[1].Data["path"])
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name       string
		origins    string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"disabled", "", http.MethodGet, "https://shop.example", http.StatusTeapot, ""},
		{"allowed", "https://a.example, https://shop.example", http.MethodGet, "https://shop.example", http.StatusTeapot, "https://shop.example"},
		{"preflight", "https://shop.example", http.MethodOptions, "https://shop.example", http.StatusNoContent, "https://shop.example"},
		{"other origin", "https://shop.example", http.MethodGet, "https://evil.example", http.StatusTeapot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORS(tt.origins)(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
