package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T, roles ...string) http.Handler {
	t.Helper()
	issuer := NewSessionIssuer(testSessionSecret, time.Hour)
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetSessionFromContext(r.Context())
		require.NotNil(t, claims)
		w.WriteHeader(http.StatusNoContent)
	})
	return RequireSession(issuer)(RequireRole(roles...)(final))
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, _, err := NewSessionIssuer(testSessionSecret, time.Hour).Issue("subject", role)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRequireSession_MissingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	protectedHandler(t, models.AccessRolePrivileged).ServeHTTP(w, httptest.NewRequest("GET", "/findings", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestRequireSession_MalformedHeader(t *testing.T) {
	for _, header := range []string{"Token abc", "Bearer", "Bearer "} {
		req := httptest.NewRequest("GET", "/findings", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()

		protectedHandler(t, models.AccessRolePrivileged).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestRequireSession_InvalidToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/findings", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()

	protectedHandler(t, models.AccessRolePrivileged).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole_Allowed(t *testing.T) {
	req := httptest.NewRequest("GET", "/findings", nil)
	req.Header.Set("Authorization", bearer(t, models.AccessRolePrivileged))
	w := httptest.NewRecorder()

	protectedHandler(t, models.AccessRolePrivileged).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireRole_Forbidden(t *testing.T) {
	req := httptest.NewRequest("GET", "/findings", nil)
	req.Header.Set("Authorization", bearer(t, models.AccessRoleDemo))
	w := httptest.NewRecorder()

	protectedHandler(t, models.AccessRolePrivileged).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole_AnyOfSeveral(t *testing.T) {
	req := httptest.NewRequest("GET", "/findings", nil)
	req.Header.Set("Authorization", bearer(t, models.AccessRoleMember))
	w := httptest.NewRecorder()

	protectedHandler(t, models.AccessRolePrivileged, models.AccessRoleMember).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequireRole_WithoutSession(t *testing.T) {
	h := RequireRole(models.AccessRolePrivileged)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
