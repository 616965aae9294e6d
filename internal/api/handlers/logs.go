package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"utility-cms/internal/services"
)

type AuditLogHandler struct {
	audit *services.AuditLogger
}

func NewAuditLogHandler(audit *services.AuditLogger) *AuditLogHandler {
	return &AuditLogHandler{audit: audit}
}

// GetAuditLogs returns audit entries, newest first
func (h *AuditLogHandler) GetAuditLogs(c *gin.Context) {
	filter := services.AuditFilter{
		Module:   c.Query("module"),
		Action:   c.Query("action"),
		RecordID: c.Query("record_id"),
	}

	if v := c.Query("actor_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": gin.H{"actor_id": "must be a positive integer"}})
			return
		}
		actorID := uint(id)
		filter.ActorID = &actorID
	}
	if v := c.Query("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	entries, total, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": total})
}
