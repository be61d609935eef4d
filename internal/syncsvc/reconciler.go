// Package syncsvc uploads queued records to the central server and
// reconciles the verdicts back into local state.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/queue"
	"attend-sync/internal/record"
	"attend-sync/internal/types"
	"attend-sync/internal/upstream"
)

// Uploader is the slice of the upstream client the reconciler needs.
type Uploader interface {
	UploadRecords(ctx context.Context, records []models.AttendanceRecord) ([]upstream.RecordVerdict, error)
	ResolveConflict(ctx context.Context, rec *models.AttendanceRecord) (*upstream.RecordVerdict, error)
}

// Reconciler drains the offline queue. Records for one employee are
// uploaded strictly in capture order; different employees upload in
// parallel. An upload attempt failing mid-batch never reorders or loses
// queue entries.
type Reconciler struct {
	db             *gorm.DB
	queue          *queue.OfflineQueue
	states         *record.StateMachine
	client         Uploader
	batchSize      int
	attemptTimeout time.Duration
}

// NewReconciler wires the reconciler from its collaborators.
func NewReconciler(
	db *gorm.DB,
	offlineQueue *queue.OfflineQueue,
	states *record.StateMachine,
	client Uploader,
	configManager types.ConfigManager,
) *Reconciler {
	syncCfg := configManager.GetSyncConfig()
	return &Reconciler{
		db:             db,
		queue:          offlineQueue,
		states:         states,
		client:         client,
		batchSize:      syncCfg.BatchSize,
		attemptTimeout: time.Duration(syncCfg.AttemptTimeoutSeconds) * time.Second,
	}
}

// SyncOnce performs one full sync pass. It returns the number of records
// the server accepted and the first error encountered, if any. A timeout
// or network failure leaves unacked items pending with backoff applied.
func (r *Reconciler) SyncOnce(ctx context.Context) (int, error) {
	// Items stranded in flight by a crash or cancellation return to
	// pending; allow a full attempt timeout before reclaiming them so a
	// concurrent pass is never undercut.
	if err := r.queue.RequeueInFlight(ctx, r.attemptTimeout); err != nil {
		logrus.WithError(err).Warn("In-flight recovery failed")
	}
	if err := r.queue.SweepStale(ctx); err != nil {
		logrus.WithError(err).Warn("Stale sweep failed")
	}
	r.retryConflicted(ctx)

	items, err := r.queue.PeekBatch(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	// Group by employee, preserving the timestamp order PeekBatch returned.
	groups := make(map[string][]models.SyncQueueItem)
	order := make([]string, 0)
	for _, item := range items {
		if _, seen := groups[item.EmployeeID]; !seen {
			order = append(order, item.EmployeeID)
		}
		groups[item.EmployeeID] = append(groups[item.EmployeeID], item)
	}

	var (
		mu       sync.Mutex
		synced   int
		firstErr error
	)
	var wg sync.WaitGroup
	for _, employeeID := range order {
		group := groups[employeeID]
		wg.Add(1)
		go func(employeeID string, group []models.SyncQueueItem) {
			defer wg.Done()
			n, err := r.syncEmployee(ctx, employeeID, group)
			mu.Lock()
			synced += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}(employeeID, group)
	}
	wg.Wait()
	return synced, firstErr
}

func (r *Reconciler) syncEmployee(parent context.Context, employeeID string, group []models.SyncQueueItem) (int, error) {
	ctx, cancel := context.WithTimeout(parent, r.attemptTimeout)
	defer cancel()

	recordIDs := make([]string, 0, len(group))
	for _, item := range group {
		recordIDs = append(recordIDs, item.RecordID)
	}

	var records []models.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("id IN ?", recordIDs).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return 0, app_errors.NewStorageError("sync.load_records", err)
	}
	if len(records) != len(group) {
		// A queue entry with no backing record is unrecoverable; drop it.
		records, group = r.pruneOrphans(ctx, records, group)
		if len(records) == 0 {
			return 0, nil
		}
	}

	if err := r.queue.MarkInFlight(ctx, recordIDs); err != nil {
		return 0, err
	}

	verdicts, err := r.client.UploadRecords(ctx, records)
	if err != nil {
		r.failGroup(parent, group, err)
		return 0, err
	}

	byID := make(map[string]*models.AttendanceRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	synced := 0
	for _, verdict := range verdicts {
		rec, ok := byID[verdict.RecordID]
		if !ok {
			logrus.WithField("record_id", verdict.RecordID).Warn("Verdict for unknown record")
			continue
		}
		if err := r.applyVerdict(ctx, rec, &verdict); err != nil {
			logrus.WithFields(logrus.Fields{
				"record_id": verdict.RecordID,
				"status":    verdict.Status,
			}).WithError(err).Error("Failed to apply sync verdict")
			continue
		}
		if verdict.Status == upstream.VerdictAccepted {
			synced++
		}
	}
	logrus.WithFields(logrus.Fields{
		"employee_id": employeeID,
		"uploaded":    len(records),
		"accepted":    synced,
	}).Debug("Employee sync pass complete")
	return synced, nil
}

func (r *Reconciler) applyVerdict(ctx context.Context, rec *models.AttendanceRecord, verdict *upstream.RecordVerdict) error {
	switch verdict.Status {
	case upstream.VerdictAccepted:
		if err := r.states.MarkSynced(rec, verdict.ServerRevision); err != nil {
			return err
		}
		return r.queue.Ack(ctx, []string{rec.ID})

	case upstream.VerdictRejected:
		if err := r.states.Transition(rec, models.StateRejected, verdict.Reason); err != nil {
			return err
		}
		// Rejected records leave the queue; they are visible for review
		// through the records endpoint, never retried.
		return r.queue.Ack(ctx, []string{rec.ID})

	case upstream.VerdictConflict:
		return r.resolveConflict(ctx, rec, verdict)

	default:
		return app_errors.NewSyncError(app_errors.ServerRejected,
			fmt.Sprintf("unknown verdict status %q", verdict.Status))
	}
}

// resolveConflict applies last-write-wins by server sequence, with one
// exception: when accepting the local record would break clock pairing on
// the server, the local record is superseded regardless of recency.
func (r *Reconciler) resolveConflict(ctx context.Context, rec *models.AttendanceRecord, verdict *upstream.RecordVerdict) error {
	reason := fmt.Sprintf("conflicts with server record %s (seq %d)", verdict.ExistingRecordID, verdict.ExistingSequence)
	if err := r.states.Transition(rec, models.StateConflicted, reason); err != nil {
		return err
	}

	if verdict.PairingViolation {
		if err := r.states.Transition(rec, models.StateSuperseded, "pairing integrity: server record retained"); err != nil {
			return err
		}
		return r.queue.Ack(ctx, []string{rec.ID})
	}

	return r.settleConflict(ctx, rec)
}

// settleConflict asks the server to resolve a conflicted record and applies
// the outcome. Transient failures park the queue item for the next pass.
func (r *Reconciler) settleConflict(ctx context.Context, rec *models.AttendanceRecord) error {
	resolution, err := r.client.ResolveConflict(ctx, rec)
	if err != nil {
		var syncErr *app_errors.SyncError
		if errors.As(err, &syncErr) && syncErr.Transient() {
			// Leave the record conflicted; the next pass retries resolution.
			return r.queue.MarkConflicted(ctx, rec.ID, err)
		}
		if terr := r.states.Transition(rec, models.StateSuperseded, "resolution refused by server"); terr != nil {
			return terr
		}
		return r.queue.Ack(ctx, []string{rec.ID})
	}

	if resolution.Status == upstream.VerdictAccepted {
		if err := r.states.Transition(rec, models.StateResolvedAccepted, "last write wins: local record accepted"); err != nil {
			return err
		}
		err = r.db.WithContext(ctx).Model(&models.AttendanceRecord{}).
			Where("id = ?", rec.ID).
			Update("server_revision", resolution.ServerRevision).Error
		if err != nil {
			return app_errors.NewStorageError("sync.store_revision", err)
		}
	} else {
		if err := r.states.Transition(rec, models.StateSuperseded, resolution.Reason); err != nil {
			return err
		}
	}
	return r.queue.Ack(ctx, []string{rec.ID})
}

// retryConflicted re-attempts resolution of queue items parked after a
// transient resolution failure.
func (r *Reconciler) retryConflicted(parent context.Context) {
	items, err := r.queue.ConflictedItems(parent)
	if err != nil {
		logrus.WithError(err).Warn("Failed to list conflicted queue items")
		return
	}
	for _, item := range items {
		ctx, cancel := context.WithTimeout(parent, r.attemptTimeout)
		var rec models.AttendanceRecord
		if err := r.db.WithContext(ctx).First(&rec, "id = ?", item.RecordID).Error; err != nil {
			logrus.WithField("record_id", item.RecordID).WithError(err).Warn("Conflicted queue entry has no record")
			cancel()
			continue
		}
		if rec.State != models.StateConflicted {
			// Resolution already settled through another path.
			if err := r.queue.Ack(ctx, []string{rec.ID}); err != nil {
				logrus.WithField("record_id", rec.ID).WithError(err).Error("Failed to drop settled conflict entry")
			}
			cancel()
			continue
		}
		if err := r.settleConflict(ctx, &rec); err != nil {
			logrus.WithField("record_id", rec.ID).WithError(err).Warn("Conflict resolution retry failed")
		}
		cancel()
	}
}

func (r *Reconciler) failGroup(ctx context.Context, group []models.SyncQueueItem, cause error) {
	for i := range group {
		item := group[i]
		item.AttemptCount++
		if err := r.queue.MarkFailed(ctx, &item, cause); err != nil {
			logrus.WithField("record_id", item.RecordID).WithError(err).Error("Failed to record sync failure")
		}
	}
}

func (r *Reconciler) pruneOrphans(ctx context.Context, records []models.AttendanceRecord, group []models.SyncQueueItem) ([]models.AttendanceRecord, []models.SyncQueueItem) {
	present := make(map[string]bool, len(records))
	for i := range records {
		present[records[i].ID] = true
	}
	kept := group[:0]
	for _, item := range group {
		if present[item.RecordID] {
			kept = append(kept, item)
			continue
		}
		logrus.WithField("record_id", item.RecordID).Warn("Dropping queue entry with no backing record")
		if err := r.queue.Ack(ctx, []string{item.RecordID}); err != nil {
			logrus.WithField("record_id", item.RecordID).WithError(err).Error("Failed to drop orphan queue entry")
		}
	}
	return records, kept
}
