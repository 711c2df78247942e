package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout(t *testing.T) {
	handlerErr := errors.New("store unavailable")

	tests := []struct {
		name         string
		timeout      time.Duration
		handler      echo.HandlerFunc
		wantDeadline bool
		wantCode     int
		wantErr      error
	}{
		{
			name:         "fast handler keeps deadline",
			timeout:      time.Second,
			handler:      func(c echo.Context) error { return c.NoContent(http.StatusOK) },
			wantDeadline: true,
		},
		{
			name:    "slow handler gets 504",
			timeout: 20 * time.Millisecond,
			handler: func(c echo.Context) error {
				<-c.Request().Context().Done()
				return c.Request().Context().Err()
			},
			wantDeadline: true,
			wantCode:     http.StatusGatewayTimeout,
		},
		{
			name:         "handler error passes through",
			timeout:      time.Second,
			handler:      func(echo.Context) error { return handlerErr },
			wantDeadline: true,
			wantErr:      handlerErr,
		},
		{
			name:    "zero timeout disables deadline",
			timeout: 0,
			handler: func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/citas/reschedule", nil)
			c := e.NewContext(req, httptest.NewRecorder())

			var sawDeadline bool
			err := RequestTimeout(tt.timeout)(func(c echo.Context) error {
				_, sawDeadline = c.Request().Context().Deadline()
				return tt.handler(c)
			})(c)

			if sawDeadline != tt.wantDeadline {
				t.Errorf("deadline = %v, want %v", sawDeadline, tt.wantDeadline)
			}
			switch {
			case tt.wantCode != 0:
				var he *echo.HTTPError
				if !errors.As(err, &he) || he.Code != tt.wantCode {
					t.Fatalf("err = %v, want HTTP %d", err, tt.wantCode)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
