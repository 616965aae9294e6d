package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"utility-cms/internal/api/middleware"
	"utility-cms/internal/services"
)

const (
	patchRoles    = "roles"
	patchStatus   = "status"
	patchPassword = "password"
)

type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type CreateUserRequest struct {
	Name  string   `json:"name" binding:"max=255"`
	Email string   `json:"email" binding:"required,email"`
	Phone string   `json:"phone" binding:"max=50"`
	Roles []string `json:"roles" binding:"required,min=1"`
}

// PatchUserRequest is the envelope for every user mutation. Payload is
// decoded according to Type.
type PatchUserRequest struct {
	Type    string          `json:"type" binding:"required,oneof=roles status password"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type UpdateRolesPayload struct {
	ID    uint     `json:"id" binding:"required"`
	Roles []string `json:"roles" binding:"required,min=1"`
}

type UpdateStatusPayload struct {
	ID     uint   `json:"id" binding:"required"`
	Status string `json:"status" binding:"required,oneof=ACTIVE INACTIVE"`
}

// ResetPasswordPayload leaves Password empty to request a generated one.
type ResetPasswordPayload struct {
	ID       uint   `json:"id" binding:"required"`
	Password string `json:"password"`
}

// GetUsers returns all users
func (h *UserHandler) GetUsers(c *gin.Context) {
	users, err := h.users.GetUsers(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// CreateUser creates a new user with a temporary password
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	user, temporary, err := h.users.CreateUser(c.Request.Context(), middleware.Session(c), services.CreateUserInput{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Roles: req.Roles,
	}, clientMeta(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"record":            user,
		"temporaryPassword": temporary,
	})
}

// UpdateUser applies one roles, status or password change
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req PatchUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	actor := middleware.Session(c)

	switch req.Type {
	case patchRoles:
		var p UpdateRolesPayload
		if !decodePayload(c, req.Payload, &p) {
			return
		}
		user, err := h.users.UpdateRoles(ctx, actor, p.ID, p.Roles, clientMeta(c))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": user})

	case patchStatus:
		var p UpdateStatusPayload
		if !decodePayload(c, req.Payload, &p) {
			return
		}
		user, err := h.users.UpdateStatus(ctx, actor, p.ID, p.Status, clientMeta(c))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": user})

	case patchPassword:
		var p ResetPasswordPayload
		if !decodePayload(c, req.Payload, &p) {
			return
		}
		temporary, err := h.users.ResetPassword(ctx, actor, p.ID, p.Password, clientMeta(c))
		if err != nil {
			RespondError(c, err)
			return
		}
		body := gin.H{"message": "Password updated successfully"}
		if temporary != "" {
			body["temporaryPassword"] = temporary
		}
		c.JSON(http.StatusOK, body)
	}
}

// DeleteUser is refused for every account; deactivate instead
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), middleware.Session(c), id); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func decodePayload(c *gin.Context, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		RespondBindError(c, err)
		return false
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		RespondBindError(c, err)
		return false
	}
	return true
}

func queryID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": gin.H{"id": "must be a positive integer"}})
		return 0, false
	}
	return uint(id), true
}
