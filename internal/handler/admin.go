package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/response"
)

// Sites, policies, shifts and employee settings arrive from the external
// admin service. Ingestion is upsert-by-version: re-sending a version the
// engine already holds is a no-op, and a referenced version is never
// mutated in place.

type siteRequest struct {
	Name             string          `json:"name" binding:"required"`
	Version          int             `json:"version" binding:"required"`
	Polygon          []models.LatLng `json:"polygon" binding:"required"`
	SSIDAllowlist    []string        `json:"ssid_allowlist"`
	AccuracyCeilingM float64         `json:"accuracy_ceiling_m"`
	TokenGeneration  int             `json:"token_generation"`
	Active           *bool           `json:"active"`
}

// UpsertSite ingests a geofence site definition.
func (s *Server) UpsertSite(c *gin.Context) {
	var req siteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if len(req.Polygon) < 3 {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "polygon needs at least 3 vertices"))
		return
	}

	polygon, _ := json.Marshal(req.Polygon)
	allowlist, _ := json.Marshal(req.SSIDAllowlist)
	site := models.Site{
		Name:             req.Name,
		Version:          req.Version,
		Polygon:          datatypes.JSON(polygon),
		SSIDAllowlist:    datatypes.JSON(allowlist),
		AccuracyCeilingM: req.AccuracyCeilingM,
		TokenGeneration:  req.TokenGeneration,
		Active:           req.Active == nil || *req.Active,
	}
	if site.TokenGeneration == 0 {
		site.TokenGeneration = 1
	}

	err := s.DB.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(&site).Error
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, site)
}

// UpsertPolicy ingests an overtime policy version.
func (s *Server) UpsertPolicy(c *gin.Context) {
	var policy models.OvertimePolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if policy.PolicyID == "" || policy.Version <= 0 {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "policy_id and version are required"))
		return
	}
	if policy.RoundingRule == "" {
		policy.RoundingRule = models.RoundNearestMinute
	}
	if policy.EffectiveFrom.IsZero() {
		policy.EffectiveFrom = time.Now().UTC()
	}

	err := s.DB.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "policy_id"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(&policy).Error
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, policy)
}

type shiftRequest struct {
	ID            string               `json:"id" binding:"required"`
	Name          string               `json:"name" binding:"required"`
	StartMinute   int                  `json:"start_minute"`
	EndMinute     int                  `json:"end_minute"`
	BreakWindows  []models.BreakWindow `json:"break_windows"`
	FlexibleHours bool                 `json:"flexible_hours"`
}

// UpsertShift ingests a shift template.
func (s *Server) UpsertShift(c *gin.Context) {
	var req shiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if req.EndMinute <= req.StartMinute {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "end_minute must be after start_minute"))
		return
	}

	breaks, _ := json.Marshal(req.BreakWindows)
	tmpl := models.ShiftTemplate{
		ID:            req.ID,
		Name:          req.Name,
		StartMinute:   req.StartMinute,
		EndMinute:     req.EndMinute,
		BreakWindows:  datatypes.JSON(breaks),
		FlexibleHours: req.FlexibleHours,
	}
	err := s.DB.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&tmpl).Error
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, tmpl)
}

type settingsRequest struct {
	AllowedMethods []string `json:"allowed_methods" binding:"required"`
	SiteIDs        []uint   `json:"site_ids"`
	PolicyID       string   `json:"policy_id" binding:"required"`
	// Pin, when present, is hashed immediately; the raw value is never
	// stored or logged.
	Pin string `json:"pin,omitempty"`
}

// UpsertSettings ingests per-employee attendance configuration.
func (s *Server) UpsertSettings(c *gin.Context) {
	employeeID := c.Param("employeeID")
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	for _, m := range req.AllowedMethods {
		switch m {
		case models.MethodGeo, models.MethodBiometric, models.MethodPin, models.MethodToken:
		default:
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "unknown method "+m))
			return
		}
	}

	methods, _ := json.Marshal(req.AllowedMethods)
	sites, _ := json.Marshal(req.SiteIDs)
	settings := models.EmployeeSettings{
		EmployeeID:     employeeID,
		AllowedMethods: datatypes.JSON(methods),
		SiteIDs:        datatypes.JSON(sites),
		PolicyID:       req.PolicyID,
	}
	if req.Pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Pin), bcrypt.DefaultCost)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, "hash pin"))
			return
		}
		settings.PinHash = string(hash)
	}

	assignments := clause.AssignmentColumns([]string{"allowed_methods", "site_ids", "policy_id", "updated_at"})
	if settings.PinHash != "" {
		assignments = clause.AssignmentColumns([]string{"allowed_methods", "site_ids", "policy_id", "pin_hash", "updated_at"})
	}
	err := s.DB.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "employee_id"}},
			DoUpdates: assignments,
		}).
		Create(&settings).Error
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, gin.H{"employee_id": employeeID})
}
