package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicbook/booking-api/pkg/response"
)

// RequestTimeout sets a deadline on each request context. Handlers and
// repositories observe it through the context, so an in-flight transaction
// is rolled back. The handler always runs to completion on the request
// goroutine; when the deadline has passed and nothing was written, a 504
// error envelope is returned in place of the handler's result.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return gatewayTimeout(c)
			}
			return err
		}
	}
}

func gatewayTimeout(c echo.Context) error {
	return response.Fail(c, http.StatusGatewayTimeout, "TIMEOUT", "request processing exceeded the allowed time limit")
}
