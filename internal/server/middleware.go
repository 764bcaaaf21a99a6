package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// requireAPIKey authenticates requests via the X-API-Key header or an
// Authorization bearer token. With no key configured the check is skipped
// so local development works out of the box.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.APIKey == "" {
			return next(c)
		}

		presented := c.Request().Header.Get("X-API-Key")
		if presented == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
				presented = after
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}
