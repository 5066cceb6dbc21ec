package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicbook/booking-api/pkg/response"
)

// StatusOf returns the HTTP status an error will be rendered with.
func StatusOf(err error) int {
	var apiErr *response.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.As(err, &httpErr):
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every error returned by a handler as the API's
// error envelope. Unexpected errors become a 500 whose detail is only
// exposed outside production.
func ErrorHandler(logger zerolog.Logger, production bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusOf(err)
		body := response.ErrorBody{Success: false}

		var apiErr *response.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
			body.Code = apiErr.Code
			body.Message = apiErr.Message
			body.Errors = apiErr.Fields
		case errors.As(err, &httpErr):
			body.Message = fmt.Sprintf("%v", httpErr.Message)
			if status == http.StatusTooManyRequests {
				body.Code = "RATE_LIMITED"
			}
		default:
			logger.Error().Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
			body.Code = "INTERNAL"
			body.Message = "internal server error"
			if !production {
				body.Message = err.Error()
			}
		}
		if body.Message == "" {
			body.Message = http.StatusText(status)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
