package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 and logs it with the stack.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				switch {
				case r == nil:
					return
				case r == http.ErrAbortHandler:
					panic(r)
				}

				ev := logger.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("route", c.Request().Method+" "+c.Request().URL.Path)
				if rid, ok := c.Get("request_id").(string); ok {
					ev = ev.Str("request_id", rid)
				}
				if uid, ok := c.Get("user_id").(string); ok {
					ev = ev.Str("user_id", uid)
				}
				ev.Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
