package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "generated when absent"},
		{name: "client id kept", header: "cal-ui-42", want: "cal-ui-42"},
		{name: "oversized id replaced", header: strings.Repeat("x", maxRequestIDLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar/events", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(req, rec)

			var seen string
			if err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return nil
			})(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := rec.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if len(got) > maxRequestIDLen {
				t.Errorf("id has %d chars", len(got))
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/citas", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")
	c.Set("user_id", "user-1")

	err := Logger(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"request_id":"rid-1"`, `"status":200`, `"user_id":"user-1"`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestLogger_UsesErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_ = Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "slot taken")
	})(c)

	out := buf.String()
	if !strings.Contains(out, `"status":409`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn entry with 409, got %s", out)
	}

	buf.Reset()
	_ = Logger(logger)(func(c echo.Context) error {
		return errors.New("db down")
	})(c)
	if !strings.Contains(buf.String(), `"status":500`) {
		t.Errorf("expected plain errors to log as 500, got %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	rec := Recovery(zerolog.New(&buf))
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/citas/resize", nil), httptest.NewRecorder())
	c.Set("request_id", "rid-9")
	c.Set("user_id", "user-9")

	err := rec(func(echo.Context) error { panic("nil appointment") })(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500", err)
	}
	for _, want := range []string{`"panic":"nil appointment"`, `"request_id":"rid-9"`, `"user_id":"user-9"`, `"stack":`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log missing %s: %s", want, buf.String())
		}
	}

	if err := rec(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatalf("non-panicking handler: %v", err)
	}

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	_ = rec(func(echo.Context) error { panic(http.ErrAbortHandler) })(c)
}
