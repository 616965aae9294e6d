package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"utility-cms/internal/api/middleware"
	"utility-cms/internal/services"
)

// CookieConfig controls the session cookie. Secure is off only in
// development, where the panel is served over plain HTTP.
type CookieConfig struct {
	Name   string
	Secure bool
}

func setSessionCookie(c *gin.Context, cfg CookieConfig, token string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(c *gin.Context, cfg CookieConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clientMeta(c *gin.Context) services.ClientMeta {
	return services.ClientMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: middleware.GetRequestID(c),
	}
}
