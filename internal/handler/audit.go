package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/response"
	"attend-sync/internal/utils"
)

// Audit lists audit entries, newest first. Archived entries are excluded
// unless include_archived is set; nothing is ever deleted from the log.
func (s *Server) Audit(c *gin.Context) {
	limit := utils.ParseInteger(c.DefaultQuery("limit", "200"), 200)
	if limit <= 0 || limit > 2000 {
		limit = 200
	}

	query := s.DB.WithContext(c.Request.Context()).Model(&models.AuditEntry{})
	if employeeID := c.Query("employee_id"); employeeID != "" {
		query = query.Where("employee_id = ?", employeeID)
	}
	if verdict := c.Query("verdict"); verdict != "" {
		query = query.Where("verdict = ?", verdict)
	}
	if !utils.ParseBoolean(c.Query("include_archived"), false) {
		query = query.Where("archived = ?", false)
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "since must be RFC3339"))
			return
		}
		query = query.Where("timestamp >= ?", ts)
	}

	var entries []models.AuditEntry
	if err := query.Order("timestamp DESC").Limit(limit).Find(&entries).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, entries)
}
