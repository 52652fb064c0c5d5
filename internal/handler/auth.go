package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireBearer guards /api/ routes with a static bearer token. The OAuth
// callback stays open since the provider redirects the browser there. An
// empty token disables the check.
func RequireBearer(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	want := []byte(token)

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/api/") || p == oauthCallbackPath {
			c.Next()
			return
		}
		got := bearerToken(c)
		if got == "" {
			Error(c, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			Error(c, http.StatusUnauthorized, "invalid bearer token", nil)
			return
		}
		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on a websocket upgrade, so those may pass access_token instead.
func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return strings.TrimSpace(c.Query("access_token"))
	}
	return ""
}
