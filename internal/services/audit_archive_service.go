package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"attend-sync/internal/models"
	"attend-sync/internal/types"
)

const auditArchiveInterval = 12 * time.Hour

// AuditArchiveService periodically marks audit entries past the retention
// window as archived. Entries are never deleted; the audit log is
// append-only for compliance.
type AuditArchiveService struct {
	db            *gorm.DB
	configManager types.ConfigManager
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewAuditArchiveService creates a new audit archive service.
func NewAuditArchiveService(db *gorm.DB, configManager types.ConfigManager) *AuditArchiveService {
	return &AuditArchiveService{
		db:            db,
		configManager: configManager,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the archive loop.
func (s *AuditArchiveService) Start() {
	s.wg.Add(1)
	go s.run()
	logrus.Info("Audit archive service started")
}

// Stop shuts the service down gracefully.
func (s *AuditArchiveService) Stop(ctx context.Context) {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Audit archive service stopped")
	case <-ctx.Done():
		logrus.Warn("Audit archive service stop timed out")
	}
}

func (s *AuditArchiveService) run() {
	defer s.wg.Done()

	// Archive once at startup, then on the interval.
	s.archiveExpired()

	ticker := time.NewTicker(auditArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.archiveExpired()
		}
	}
}

func (s *AuditArchiveService) archiveExpired() {
	retentionDays := s.configManager.GetVerificationConfig().AuditArchiveDays
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.Model(&models.AuditEntry{}).
		Where("archived = ? AND timestamp < ?", false, cutoff).
		Update("archived", true)
	if result.Error != nil {
		logrus.WithError(result.Error).Error("Failed to archive audit entries")
		return
	}
	if result.RowsAffected > 0 {
		logrus.WithFields(logrus.Fields{
			"archived": result.RowsAffected,
			"cutoff":   cutoff.Format(time.RFC3339),
		}).Info("Archived expired audit entries")
	}
}
