package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"utility-cms/internal/api/middleware"
	"utility-cms/internal/services"
)

type RoleHandler struct {
	roles *services.RoleService
}

func NewRoleHandler(roles *services.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Label       string   `json:"label" binding:"max=255"`
	Permissions []string `json:"permissions" binding:"required,min=1"`
}

// GetRoles returns every role, system and custom
func (h *RoleHandler) GetRoles(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"roles": roles, "permissions": services.AllPermissions})
}

// CreateRole creates a CUSTOM role
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	role, err := h.roles.CreateRole(c.Request.Context(), middleware.Session(c), services.CreateRoleInput{
		Name:        req.Name,
		Label:       req.Label,
		Permissions: req.Permissions,
	}, clientMeta(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"record": role})
}

// DeleteRole deletes a CUSTOM role given by ?id=
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}

	if err := h.roles.DeleteRole(c.Request.Context(), middleware.Session(c), id, clientMeta(c)); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Role deleted successfully"})
}
