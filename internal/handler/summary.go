package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/policy"
	"attend-sync/internal/response"
)

// DaySummary computes the work summary for one employee and day. The
// summary is derived on demand from the verified record set; it is never
// read from a cache that could go stale under conflict resolution.
func (s *Server) DaySummary(c *gin.Context) {
	employeeID := c.Param("employeeID")
	day, err := parseDate(c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02")))
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "date must be YYYY-MM-DD"))
		return
	}

	summary, err := s.computeDay(c, employeeID, day)
	if err != nil {
		s.renderDomainError(c, err)
		return
	}
	response.Success(c, summary)
}

// WeekSummary computes the weekly aggregate starting from the given date.
func (s *Server) WeekSummary(c *gin.Context) {
	employeeID := c.Param("employeeID")
	start, err := parseDate(c.Query("start"))
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "start must be YYYY-MM-DD"))
		return
	}

	days := make([]policy.WorkSummary, 0, 7)
	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		summary, err := s.computeDay(c, employeeID, day)
		if err != nil {
			s.renderDomainError(c, err)
			return
		}
		days = append(days, *summary)
	}

	settings, err := s.loadSettings(c, employeeID)
	if err != nil {
		s.renderDomainError(c, err)
		return
	}
	policyVersion, err := s.PolicyProvider.Resolve(c.Request.Context(), settings.PolicyID, start)
	if err != nil {
		s.renderDomainError(c, err)
		return
	}

	week, err := s.PolicyEngine.ComputeWeekSummary(days, policyVersion)
	if err != nil {
		s.renderDomainError(c, err)
		return
	}
	week.EmployeeID = employeeID
	week.StartDate = start.Format("2006-01-02")
	response.Success(c, week)
}

func (s *Server) computeDay(c *gin.Context, employeeID string, day time.Time) (*policy.WorkSummary, error) {
	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)

	// Only records that passed verification count toward worked time.
	// Captured rows are crash remnants that never cleared dispatch and
	// must not contribute minutes.
	var records []models.AttendanceRecord
	err := s.DB.WithContext(c.Request.Context()).
		Where("employee_id = ? AND timestamp >= ? AND timestamp < ?", employeeID, dayStart, dayEnd).
		Where("state IN ?", []string{
			models.StateVerified,
			models.StateQueued,
			models.StateSynced,
			models.StateConflicted,
			models.StateResolvedAccepted,
		}).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, app_errors.NewStorageError("summary.load_records", err)
	}

	settings, err := s.loadSettings(c, employeeID)
	if err != nil {
		return nil, err
	}
	policyVersion, err := s.PolicyProvider.Resolve(c.Request.Context(), settings.PolicyID, dayStart)
	if err != nil {
		return nil, err
	}
	shift, err := s.PolicyProvider.ResolveShift(c.Request.Context(), employeeID, dayStart)
	if err != nil {
		return nil, err
	}

	summary, err := s.PolicyEngine.ComputeSummary(records, policyVersion, shift)
	if err != nil {
		return nil, err
	}
	summary.EmployeeID = employeeID
	summary.Date = day.Format("2006-01-02")
	return summary, nil
}

func (s *Server) loadSettings(c *gin.Context, employeeID string) (*models.EmployeeSettings, error) {
	var settings models.EmployeeSettings
	err := s.DB.WithContext(c.Request.Context()).
		Where("employee_id = ?", employeeID).
		First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, app_errors.NewDerivationError(app_errors.MissingPolicy, "unknown employee "+employeeID)
	}
	if err != nil {
		return nil, app_errors.NewStorageError("summary.load_settings", err)
	}
	return &settings, nil
}

func parseDate(value string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", value, time.UTC)
}
