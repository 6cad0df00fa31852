package scoreerr

import (
	"github.com/labstack/echo/v4"
)

// HTTPError converts err for an echo handler. Typed errors keep their
// status and are rendered as a JSON body with code and kind; anything else
// gets fallback and its message.
func HTTPError(err error, fallback int) *echo.HTTPError {
	if se, ok := As(err); ok {
		return echo.NewHTTPError(se.Status, se)
	}
	return echo.NewHTTPError(fallback, err.Error())
}
