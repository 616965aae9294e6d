package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"utility-cms/internal/api/middleware"
	"utility-cms/internal/models"
	"utility-cms/internal/services"
)

type AuthHandler struct {
	auth   *services.AuthService
	cookie CookieConfig
}

func NewAuthHandler(auth *services.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		cookie: cookie,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

type LoginResponse struct {
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	ID          uint                  `json:"id"`
	Email       string                `json:"email"`
	Name        string                `json:"name,omitempty"`
	Roles       []string              `json:"roles"`
	Permissions []services.Permission `json:"permissions"`
	ExpiresAt   time.Time             `json:"expires_at"`
}

// Login handles admin login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, req.Remember, clientMeta(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	setSessionCookie(c, h.cookie, res.Session.Token, res.Session.ExpiresAt)
	c.JSON(http.StatusOK, LoginResponse{
		User:      res.User,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// Logout revokes the current session and clears the cookie
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := c.Cookie(h.cookie.Name)
	if err := h.auth.Logout(c.Request.Context(), token, clientMeta(c)); err != nil {
		RespondError(c, err)
		return
	}

	clearSessionCookie(c, h.cookie)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the current session context
func (h *AuthHandler) Me(c *gin.Context) {
	sc := middleware.Session(c)
	if sc == nil {
		RespondError(c, services.ErrUnauthenticated)
		return
	}

	c.JSON(http.StatusOK, MeResponse{
		ID:          sc.UserID,
		Email:       sc.Email,
		Name:        sc.Name,
		Roles:       sc.RoleNames(),
		Permissions: sc.Permissions.Sorted(),
		ExpiresAt:   sc.ExpiresAt,
	})
}

// Sessions returns the live sessions of the current user
func (h *AuthHandler) Sessions(c *gin.Context) {
	sessions, err := h.auth.Sessions(c.Request.Context(), middleware.Session(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ChangePassword replaces the caller's password and re-issues the cookie
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	issued, err := h.auth.ChangeOwnPassword(c.Request.Context(), middleware.Session(c), req.CurrentPassword, req.NewPassword, clientMeta(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	setSessionCookie(c, h.cookie, issued.Token, issued.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Password updated successfully",
		"expires_at": issued.ExpiresAt,
	})
}
