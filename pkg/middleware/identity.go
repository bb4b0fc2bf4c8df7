package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// userKey is the gin context key carrying the request's user identity.
const userKey = "request_user"

// HeaderUserID lets a fronting client supply a stable user identity.
// Requests without it fall back to the client IP.
const HeaderUserID = "X-User-ID"

// RequestIdentity resolves the per-user key used for rate limiting,
// quotas and history.
func RequestIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if user == "" {
			user = c.ClientIP()
		}
		c.Set(userKey, user)

		c.Next()
	}
}

// RequestUser returns the identity resolved by RequestIdentity.
func RequestUser(c *gin.Context) string {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(string); ok && user != "" {
			return user
		}
	}
	return c.ClientIP()
}
