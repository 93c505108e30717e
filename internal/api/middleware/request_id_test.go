package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func requestIDHandler(seen *string) http.Handler {
	return RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := requestIDHandler(&seen)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestRequestID_HonorsInboundID(t *testing.T) {
	var seen string
	handler := requestIDHandler(&seen)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "proxy-42_a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "proxy-42_a", seen)
	assert.Equal(t, "proxy-42_a", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_ReplacesMalformedInboundID(t *testing.T) {
	cases := map[string]string{
		"control chars": "abc\ndef",
		"spaces":        "not a token",
		"too long":      strings.Repeat("a", maxRequestIDLen+1),
	}

	for name, inbound := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			handler := requestIDHandler(&seen)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("X-Request-ID", inbound)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.NotEqual(t, inbound, seen)
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}
