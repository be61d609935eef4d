package handler

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/response"
	"attend-sync/internal/verification"
)

type punchRequest struct {
	EmployeeID  string          `json:"employee_id" binding:"required"`
	DeviceID    string          `json:"device_id" binding:"required"`
	Type        string          `json:"type" binding:"required"`
	Timestamp   time.Time       `json:"timestamp" binding:"required"`
	ClockSkewMs int64           `json:"clock_skew_ms"`
	Evidence    json.RawMessage `json:"evidence" binding:"required"`
	Secondary   json.RawMessage `json:"secondary,omitempty"`
}

type punchResponse struct {
	RecordID string `json:"record_id"`
	State    string `json:"state"`
}

// Punch captures a punch attempt, verifies it and, when it passes, stages
// the record for upload. The device clock skew is recorded with the punch
// so the server can reconstruct true capture time.
func (s *Server) Punch(c *gin.Context) {
	var req punchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if !validPunchType(req.Type) {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "unknown punch type"))
		return
	}

	evidence, err := verification.ParseRequestEvidence(req.Evidence)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "malformed evidence: "+err.Error()))
		return
	}
	var secondary verification.Evidence
	if len(req.Secondary) > 0 {
		secondary, err = verification.ParseRequestEvidence(req.Secondary)
		if err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, "malformed secondary evidence: "+err.Error()))
			return
		}
	}

	var settings models.EmployeeSettings
	if err := s.DB.Where("employee_id = ?", req.EmployeeID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrResourceNotFound, "unknown employee"))
			return
		}
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	policyVersion, err := s.PolicyProvider.Resolve(c.Request.Context(), settings.PolicyID, req.Timestamp)
	if err != nil {
		s.renderDomainError(c, err)
		return
	}

	persisted, err := verification.MarshalEvidence(evidence)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, "encode evidence"))
		return
	}

	// Capture before dispatch. A crash or power loss mid-verification must
	// leave the raw punch on disk in Captured state, never lose it.
	rec := &models.AttendanceRecord{
		ID:          uuid.NewString(),
		EmployeeID:  req.EmployeeID,
		Timestamp:   req.Timestamp,
		ClockSkewMs: req.ClockSkewMs,
		Type:        req.Type,
		Method:      evidence.Method(),
		Evidence:    datatypes.JSON(persisted),
		DeviceID:    req.DeviceID,
		PolicyID:    settings.PolicyID,
	}
	if err := s.States.Capture(rec); err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	attempt := &verification.PunchAttempt{
		RecordID:    rec.ID,
		EmployeeID:  req.EmployeeID,
		DeviceID:    req.DeviceID,
		Type:        req.Type,
		Timestamp:   req.Timestamp,
		ClockSkewMs: req.ClockSkewMs,
		Evidence:    evidence,
		Secondary:   secondary,
	}
	verdict, err := s.Dispatcher.Dispatch(c.Request.Context(), attempt, &settings, policyVersion)
	if err != nil {
		// The record stays in Captured state for a later retry or review.
		s.renderDomainError(c, err)
		return
	}

	if !verdict.Passed {
		failure := verdict.Failure
		if failure == nil {
			failure = app_errors.NewVerificationFailure(app_errors.MethodNotAllowed, "verification failed")
		}
		if err := s.States.Transition(rec, models.StateRejected, failure.Error()); err != nil {
			response.Error(c, app_errors.ParseDBError(err))
			return
		}
		response.ErrorWithData(c, app_errors.ErrVerification, gin.H{
			"record_id":    rec.ID,
			"failure_code": string(failure.Code),
			"reason":       failure.Reason,
		})
		return
	}

	if verdict.SiteID != nil {
		if err := s.DB.Model(&models.AttendanceRecord{}).
			Where("id = ?", rec.ID).
			Update("site_id", *verdict.SiteID).Error; err != nil {
			response.Error(c, app_errors.ParseDBError(err))
			return
		}
		rec.SiteID = verdict.SiteID
	}
	if err := s.States.Transition(rec, models.StateVerified, "verification passed"); err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	if err := s.Queue.Enqueue(c.Request.Context(), rec); err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	if err := s.States.Transition(rec, models.StateQueued, "staged for upload"); err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"record_id":   rec.ID,
		"employee_id": rec.EmployeeID,
		"type":        rec.Type,
		"method":      rec.Method,
	}).Info("Punch captured")

	response.Created(c, punchResponse{RecordID: rec.ID, State: rec.State})
}

func validPunchType(t string) bool {
	switch t {
	case models.PunchClockIn, models.PunchClockOut, models.PunchBreakStart, models.PunchBreakEnd:
		return true
	}
	return false
}

// renderDomainError maps typed domain errors onto the API envelope.
func (s *Server) renderDomainError(c *gin.Context, err error) {
	var derivation *app_errors.DerivationError
	if errors.As(err, &derivation) {
		response.ErrorWithData(c, app_errors.NewAPIError(app_errors.ErrDerivation, derivation.Error()), gin.H{
			"code": string(derivation.Code),
		})
		return
	}
	var storage *app_errors.StorageError
	if errors.As(err, &storage) {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrDatabase, storage.Error()))
		return
	}
	response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
}
