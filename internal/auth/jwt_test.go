package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepserve/deepserve/pkg/models"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.Generate(42, "alice")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	userID, claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
	if claims.Username != "alice" {
		t.Errorf("username = %q, want alice", claims.Username)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", -time.Minute)
	token, err := svc.Generate(1, "bob")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Generate(1, "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, _, err := NewJWTService("secret-b", time.Hour).Validate(token); err == nil {
		t.Fatal("Validate with wrong secret should fail")
	}
}

type staticLoader struct {
	user *models.User
	err  error
}

func (l *staticLoader) GetUser(context.Context, int64) (*models.User, error) {
	return l.user, l.err
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	token, err := svc.Generate(7, "carol")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen *models.User
	handler := Middleware(svc, &staticLoader{user: &models.User{ID: 7, Username: "carol", IsActive: true}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = CurrentUser(r.Context())
		}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
	if seen == nil || seen.ID != 7 {
		t.Fatalf("handler did not observe user: %+v", seen)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: 1, IsAdmin: false}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), &models.User{ID: 1, IsAdmin: true}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", rec.Code)
	}
}
