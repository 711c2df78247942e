package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		route  string
		url    string
		public bool
	}{
		{"/health", "/health", true},
		{"/health/db", "/health/db", true},
		{"/api/v1/auth/login", "/api/v1/auth/login", true},
		{"", "/health", true},
		{"/api/v1/auth/me", "/api/v1/auth/me", false},
		{"/api/v1/citas/reschedule", "/api/v1/citas/reschedule", false},
		{"/api/v1/backups/:name/restore", "/api/v1/backups/x/restore", false},
		{"", "/api/v1/patients", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, tt.url, nil), httptest.NewRecorder())
			if tt.route != "" {
				c.SetPath(tt.route)
			}
			if got := AuthSkipper(c); got != tt.public {
				t.Errorf("AuthSkipper(%q) = %v, want %v", tt.url, got, tt.public)
			}
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})

	login := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil), httptest.NewRecorder())
	login.SetPath("/api/v1/auth/login")
	if err := mw(okHandler)(login); err != nil {
		t.Fatalf("login should bypass auth, got %v", err)
	}

	citas := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/citas", nil), httptest.NewRecorder())
	citas.SetPath("/api/v1/citas")
	expectStatus(t, mw(okHandler)(citas), http.StatusUnauthorized)
}
