package backup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
)

func newTestServer(t *testing.T, role string) (*echo.Echo, *Service) {
	t.Helper()
	svc, _ := newTestService(t, nil)
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{UserID: "u1", Role: role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Backups(t *testing.T) {
	e, _ := newTestServer(t, auth.RoleAdmin)

	rec := do(e, http.MethodPost, "/api/v1/backups")
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "clinic-20240610T153000Z.db") {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/api/v1/backups")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"local":true`) {
		t.Errorf("list: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/backups/clinic-20240610T153000Z.db/restore")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"schema_version":2`) {
		t.Errorf("restore: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, "/api/v1/backups/clinic-20990101T000000Z.db/restore"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/backups/latest/restore"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_StaffForbidden(t *testing.T) {
	e, svc := newTestServer(t, auth.RoleStaff)
	if rec := do(e, http.MethodPost, "/api/v1/backups"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if items, _ := svc.List(context.Background()); len(items) != 0 {
		t.Error("staff must not create backups")
	}
}
