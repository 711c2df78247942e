package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/platform/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		LogLevel:       "debug",
		JWTSecret:      "test-secret-0123456789",
		JWTIssuer:      "clinic",
		TokenTTL:       time.Hour,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
}

func TestBuildServer_Routes(t *testing.T) {
	e := buildServer(testConfig(), zerolog.Nop(), nil, infra{})

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	want := []string{
		"GET /health",
		"GET /health/db",
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/logout",
		"GET /api/v1/auth/me",
		"GET /api/v1/users",
		"POST /api/v1/citas/reschedule",
		"POST /api/v1/citas/resize",
		"GET /api/v1/calendar/events",
		"GET /api/v1/citas",
		"POST /api/v1/citas",
		"GET /api/v1/citas/check-conflict",
		"PATCH /api/v1/citas/:id/status",
		"PATCH /api/v1/citas/:id/payment",
		"GET /api/v1/citas/:id/history",
		"POST /api/v1/citas/:id/notes",
		"PUT /api/v1/notes/:note_id",
		"GET /api/v1/patients",
		"GET /api/v1/patients/:id/citas",
		"POST /api/v1/patients/:id/bonos",
		"DELETE /api/v1/bonos/:id",
		"PUT /api/v1/settings/:key",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route %s not registered", route)
		}
	}
	if registered["GET /api/v1/backups"] {
		t.Error("backup routes need a backup service")
	}
}

func TestBuildServer_RequiresToken(t *testing.T) {
	e := buildServer(testConfig(), zerolog.Nop(), nil, infra{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/citas", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}
}

func TestBuildServer_AcceptsIssuedToken(t *testing.T) {
	cfg := testConfig()
	e := buildServer(cfg, zerolog.Nop(), nil, infra{})
	issuer := auth.NewTokenIssuer(auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret), TTL: time.Hour})
	token, _, err := issuer.Issue("7c1f0b8e-4a55-4a43-9d1c-2b0c8f1e2a11", "ana", auth.RoleStaff)
	if err != nil {
		t.Fatal(err)
	}

	// Validation fails before any repository is touched.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar/events?start=2024-06-10", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing end date, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("staff should not read settings, got %d", rec.Code)
	}
}

func TestHTTPErrorHandler_LogsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	e.HTTPErrorHandler = httpErrorHandler(e, logger)
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(errors.New("db down"))
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("internal error must not leak to the client")
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Errorf("expected the cause to be logged, got %q", buf.String())
	}

	buf.Reset()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound || buf.Len() != 0 {
		t.Errorf("4xx should not be logged: %d %q", rec.Code, buf.String())
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "WARN"
	if got := newLogger(cfg).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("expected warn, got %v", got)
	}
	cfg.LogLevel = "verbose"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %v", got)
	}
}

func TestMigrationSource(t *testing.T) {
	dir := t.TempDir()
	if migrationSource("") == nil || migrationSource(dir) == nil {
		t.Fatal("expected a filesystem")
	}
}
