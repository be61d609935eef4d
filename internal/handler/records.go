package handler

import (
	"github.com/gin-gonic/gin"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/response"
	"attend-sync/internal/utils"
)

// Records lists an employee's attendance records, newest first, optionally
// filtered by state or day.
func (s *Server) Records(c *gin.Context) {
	employeeID := c.Param("employeeID")
	limit := utils.ParseInteger(c.DefaultQuery("limit", "100"), 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := s.DB.WithContext(c.Request.Context()).
		Where("employee_id = ?", employeeID)
	if state := c.Query("state"); state != "" {
		query = query.Where("state = ?", state)
	}
	if date := c.Query("date"); date != "" {
		day, err := parseDate(date)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "date must be YYYY-MM-DD"))
			return
		}
		query = query.Where("timestamp >= ? AND timestamp < ?", day, day.AddDate(0, 0, 1))
	}

	var records []models.AttendanceRecord
	if err := query.Order("timestamp DESC").Limit(limit).Find(&records).Error; err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, records)
}

// RecordHistory returns the full transition log for one record, oldest
// first, so disputes can be traced punch by punch.
func (s *Server) RecordHistory(c *gin.Context) {
	recordID := c.Param("recordID")
	history, err := s.States.History(recordID)
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	if len(history) == 0 {
		response.Error(c, app_errors.ErrResourceNotFound)
		return
	}
	response.Success(c, history)
}
