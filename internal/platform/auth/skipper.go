package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass bearer authentication.
var publicPaths = map[string]bool{
	"/health":               true,
	"/health/db":            true,
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/ws":                   true,
}

// AuthSkipper returns true for requests whose route needs no bearer token.
// Uploaded files are served statically and the websocket endpoint
// authenticates through its query string.
func AuthSkipper(c echo.Context) bool {
	if publicPaths[c.Path()] {
		return true
	}
	return strings.HasPrefix(c.Request().URL.Path, "/uploads/")
}

// IsPublicPath reports whether the given route path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
