package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/voice-relay/pkg/auth"
	"github.com/troikatech/voice-relay/pkg/errors"
)

// AuthMiddleware requires a bearer token with operator scope.
func AuthMiddleware(jwtSecret, issuer, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			errors.Unauthorized(c, "authorization header required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			errors.Unauthorized(c, "invalid authorization format")
			return
		}

		claims, err := auth.ParseToken(token, jwtSecret, issuer, audience)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			return
		}

		c.Set("operator", claims.Subject)
		c.Next()
	}
}
