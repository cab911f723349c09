package auth

import (
	"net/http"
	"strings"

	"github.com/meridian-billing/meridian/internal/platform/httpx"
	"github.com/meridian-billing/meridian/internal/shared"
)

// Middleware authenticates bearer tokens and enforces role guards.
type Middleware struct {
	tokens *TokenManager
}

// NewMiddleware constructs the auth middleware.
func NewMiddleware(tokens *TokenManager) Middleware {
	return Middleware{tokens: tokens}
}

// RequireAuth validates the Authorization header and stores the principal.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authorization header required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid authorization header")
			return
		}
		claims, err := m.tokens.ValidateAccessToken(parts[1])
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
			return
		}
		principal := &shared.Principal{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole allows only principals holding one of the given roles.
// Admin passes every guard.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if principal.Role == RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
		})
	}
}
