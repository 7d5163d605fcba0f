package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveLogged(env, target string) string {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, nil, env)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = "198.51.100.23:4000"
	req.Header.Set("User-Agent", "curl/8.4.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestSecureLogger_Production(t *testing.T) {
	out := serveLogged("production", "/findings?code=OPEN-SESAME")

	assert.Contains(t, out, `"status":204`)
	assert.Contains(t, out, `"path":"/findings?[REDACTED]"`)
	assert.Contains(t, out, `"user_agent":"[REDACTED]"`)
	assert.Contains(t, out, `"ip_address":"198.51.***"`)
	assert.NotContains(t, out, "OPEN-SESAME")
	assert.NotContains(t, out, "198.51.100.23")
}

func TestSecureLogger_Development(t *testing.T) {
	out := serveLogged("development", "/findings?status=open")

	assert.Contains(t, out, `"path":"/findings?status=open"`)
	assert.Contains(t, out, `"user_agent":"curl/8.4.0"`)
}
