// README: Tests for Firebase auth middleware and role gating.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"errand/internal/http/middleware"
	"errand/internal/infra"
	"errand/internal/types"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role})
	})
	r.GET("/admin", middleware.RequireRole(types.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	w := get(r, "/test", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unauthenticated") {
		t.Errorf("expected machine code in body, got %s", w.Body.String())
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	w := get(r, "/test", "Token sometoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	w := get(r, "/test", "Bearer invalidtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "courier123",
		Claims: map[string]interface{}{"role": "provider"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "courier123") {
		t.Errorf("expected uid courier123 in body, got %s", body)
	}
	if !strings.Contains(body, `"role":"provider"`) {
		t.Errorf("expected role provider in body, got %s", body)
	}
}

func TestAuth_ValidToken_NoRoleClaimIsCustomer(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "customer456",
		Claims: map[string]interface{}{},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"role":"customer"`) {
		t.Errorf("expected customer role, got %s", w.Body.String())
	}
}

func TestAuth_RejectsUnknownAndSystemRoles(t *testing.T) {
	for _, role := range []string{"driver", "system"} {
		token := &infra.FirebaseToken{UID: "u1", Claims: map[string]interface{}{"role": role}}
		w := get(newTestRouter(&stubVerifier{token: token}), "/test", "Bearer validtoken")
		if w.Code != http.StatusForbidden {
			t.Errorf("role %q: expected 403, got %d", role, w.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{"admin", http.StatusNoContent},
		{"provider", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		claims := map[string]interface{}{}
		if tc.role != "" {
			claims["role"] = tc.role
		}
		r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "u1", Claims: claims}})
		if w := get(r, "/admin", "Bearer t"); w.Code != tc.want {
			t.Errorf("role %q: expected %d, got %d", tc.role, tc.want, w.Code)
		}
	}
}
