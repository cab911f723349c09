package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func issueTokenFor(t *testing.T, tokens *TokenManager, role string) string {
	t.Helper()
	access, err := tokens.IssueAccessToken(&User{ID: 1, Email: "a@b.c", Role: role})
	require.NoError(t, err)
	return access
}

func guarded(mw Middleware, roles ...string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mw.RequireAuth(mw.RequireRole(roles...)(ok))
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Minute, time.Hour)
	mw := NewMiddleware(tokens)

	rec := httptest.NewRecorder()
	guarded(mw, RoleClerk).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsBadToken(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Minute, time.Hour)
	mw := NewMiddleware(tokens)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	guarded(mw, RoleClerk).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoleEnforcesMembership(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Minute, time.Hour)
	mw := NewMiddleware(tokens)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueTokenFor(t, tokens, RoleClerk))
	rec := httptest.NewRecorder()
	guarded(mw, RoleAccountant).ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", "Bearer "+issueTokenFor(t, tokens, RoleAccountant))
	rec = httptest.NewRecorder()
	guarded(mw, RoleAccountant).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminPassesEveryGuard(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Minute, time.Hour)
	mw := NewMiddleware(tokens)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueTokenFor(t, tokens, RoleAdmin))
	rec := httptest.NewRecorder()
	guarded(mw, RoleAccountant).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
