package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"utility-cms/internal/services"
)

const sessionKey = "session"

// Require resolves the session cookie through guard and aborts unless the
// caller holds perm. An empty perm only demands a valid session.
func Require(guard *services.AccessGuard, cookieName string, perm services.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(cookieName)

		sc, err := guard.Ensure(c.Request.Context(), token, perm)
		if err != nil {
			var ferr *services.ForbiddenError
			switch {
			case errors.Is(err, services.ErrUnauthenticated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			case errors.As(err, &ferr):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ferr.Message, "rule": ferr.Rule})
			default:
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			return
		}

		c.Set(sessionKey, sc)
		c.Next()
	}
}

// Session returns the caller stored by Require, or nil on public routes.
func Session(c *gin.Context) *services.SessionContext {
	if v, ok := c.Get(sessionKey); ok {
		if sc, ok := v.(*services.SessionContext); ok {
			return sc
		}
	}
	return nil
}
