package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/deepserve/deepserve/pkg/models"
)

type contextKey string

const userContextKey contextKey = "current_user"

// UserLoader resolves a token subject to a full user row.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// CurrentUser returns the authenticated user stored on the request context.
func CurrentUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// WithUser stores a user on the context. Exposed for tests.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Middleware validates the bearer token and attaches the resolved user to
// the request context. Inactive users are rejected.
func Middleware(jwtService *JWTService, loader UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			userID, _, err := jwtService.Validate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			user, err := loader.GetUser(r.Context(), userID)
			if err != nil || !user.IsActive {
				http.Error(w, "unknown or inactive user", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin wraps a handler and rejects non-admin callers.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := CurrentUser(r.Context())
		if !ok || !user.IsAdmin {
			http.Error(w, "admin required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
