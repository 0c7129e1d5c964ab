package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorHandler is the Echo-level HTTPErrorHandler: every error that
// escapes a handler (including Echo's own routing/binding errors) is
// turned into the stable {"error": message} shape spec.md section 7
// requires of the surface handler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := "internal error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	}
	_ = c.JSON(status, map[string]string{"error": msg})
}
