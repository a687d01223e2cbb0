package middleware

import (
	"net/http"
	"strings"

	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the API key when no Authorization header is sent
const APIKeyHeader = "X-API-Key"

// AuthMiddleware checks the request API key against a bcrypt hash.
// An empty hash disables the check for the group it is attached to.
func AuthMiddleware(keyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if keyHash == "" {
			return next
		}
		hash := []byte(keyHash)
		return func(c echo.Context) error {
			key := requestKey(c.Request())
			if key == "" {
				return response.ErrorResponse(c, http.StatusUnauthorized, response.AuthorizationException, "Missing API key")
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				return response.ErrorResponse(c, http.StatusUnauthorized, response.AuthorizationException, "Invalid API key")
			}

			return next(c)
		}
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
