package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CodeUnauthenticated is the error code returned for a missing or wrong key.
const CodeUnauthenticated = "unauthenticated"

// APIKey returns gin middleware that enforces API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed.
//   - Otherwise the value of header is compared to key in constant time.
//   - A missing, empty, or incorrect key aborts with 401.
func APIKey(mode, header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mode != "apikey" || key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(header)
		if got == "" {
			reject(c, "missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			reject(c, "invalid api key")
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context, msg string) {
	slog.Warn("auth: rejected request", "path", c.FullPath(), "remote", c.ClientIP(), "reason", msg)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"code":  CodeUnauthenticated,
	})
}
