// Package queue holds verified records that await upload to the central
// server. The queue is durable: entries live in the database and survive
// process restarts, and enqueueing the same record twice is a no-op.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/utils"
)

const (
	backoffBase    = 2 * time.Second
	backoffCap     = 5 * time.Minute
	jitterFraction = 0.2
)

// OfflineQueue manages the durable upload queue. Mutations for a single
// employee are serialized; different employees never contend.
type OfflineQueue struct {
	db           *gorm.DB
	retryHorizon time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOfflineQueue creates a queue with the given retry horizon. Items older
// than the horizon are surfaced as stale instead of retried forever.
func NewOfflineQueue(db *gorm.DB, retryHorizonDays int) *OfflineQueue {
	return &OfflineQueue{
		db:           db,
		retryHorizon: time.Duration(retryHorizonDays) * 24 * time.Hour,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (q *OfflineQueue) employeeLock(employeeID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	lock, ok := q.locks[employeeID]
	if !ok {
		lock = &sync.Mutex{}
		q.locks[employeeID] = lock
	}
	return lock
}

// Enqueue adds a verified record to the queue. The record ID is the primary
// key, so a duplicate enqueue is silently ignored and the original position
// is preserved.
func (q *OfflineQueue) Enqueue(ctx context.Context, rec *models.AttendanceRecord) error {
	lock := q.employeeLock(rec.EmployeeID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	item := models.SyncQueueItem{
		RecordID:      rec.ID,
		EmployeeID:    rec.EmployeeID,
		Timestamp:     rec.Timestamp,
		Status:        models.QueuePending,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
	err := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&item).Error
	if err != nil {
		return app_errors.NewStorageError("queue.enqueue", err)
	}
	return nil
}

// PeekBatch returns up to maxN due pending items. The batch is always a
// strict prefix of each employee's queue in capture order: a backed-off,
// in-flight or conflicted item holds back everything that employee
// captured after it, otherwise the server would see punches out of
// capture order. Stale items are parked for manual review and do not
// block the items behind them.
func (q *OfflineQueue) PeekBatch(ctx context.Context, maxN int) ([]models.SyncQueueItem, error) {
	if maxN <= 0 {
		return nil, nil
	}
	now := time.Now()

	var employees []string
	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Distinct("employee_id").
		Where("status = ? AND next_attempt_at <= ?", models.QueuePending, now).
		Order("employee_id ASC").
		Pluck("employee_id", &employees).Error
	if err != nil {
		return nil, app_errors.NewStorageError("queue.peek", err)
	}

	batch := make([]models.SyncQueueItem, 0, maxN)
	for _, employeeID := range employees {
		var items []models.SyncQueueItem
		err := q.db.WithContext(ctx).
			Where("employee_id = ?", employeeID).
			Order("timestamp ASC").
			Find(&items).Error
		if err != nil {
			return nil, app_errors.NewStorageError("queue.peek", err)
		}
		for i := range items {
			if items[i].Status == models.QueueStale {
				continue
			}
			if items[i].Status != models.QueuePending || items[i].NextAttemptAt.After(now) {
				break
			}
			batch = append(batch, items[i])
			if len(batch) == maxN {
				break
			}
		}
		if len(batch) == maxN {
			break
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})
	return batch, nil
}

// MarkInFlight transitions items to in-flight before an upload attempt.
func (q *OfflineQueue) MarkInFlight(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	now := time.Now()
	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("record_id IN ? AND status = ?", recordIDs, models.QueuePending).
		Updates(map[string]interface{}{
			"status":          models.QueueInFlight,
			"last_attempt_at": now,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
		}).Error
	if err != nil {
		return app_errors.NewStorageError("queue.mark_in_flight", err)
	}
	return nil
}

// Ack removes items whose records the server accepted.
func (q *OfflineQueue) Ack(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	err := q.db.WithContext(ctx).
		Where("record_id IN ?", recordIDs).
		Delete(&models.SyncQueueItem{}).Error
	if err != nil {
		return app_errors.NewStorageError("queue.ack", err)
	}
	return nil
}

// MarkFailed returns items to pending with exponential backoff: base 2s
// doubling per attempt, capped at 5 minutes, with 20% jitter so a fleet of
// devices regaining connectivity does not thundering-herd the server.
// Items older than the retry horizon become stale and stop retrying.
func (q *OfflineQueue) MarkFailed(ctx context.Context, item *models.SyncQueueItem, cause error) error {
	now := time.Now()
	if now.Sub(item.EnqueuedAt) >= q.retryHorizon {
		err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
			Where("record_id = ?", item.RecordID).
			Updates(map[string]interface{}{
				"status":     models.QueueStale,
				"last_error": truncateError(cause),
			}).Error
		if err != nil {
			return app_errors.NewStorageError("queue.mark_stale", err)
		}
		return nil
	}

	delay := backoffBase
	for i := 1; i < item.AttemptCount; i++ {
		delay *= 2
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	delay = utils.JitterDuration(delay, jitterFraction)

	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("record_id = ?", item.RecordID).
		Updates(map[string]interface{}{
			"status":          models.QueuePending,
			"next_attempt_at": now.Add(delay),
			"last_error":      truncateError(cause),
		}).Error
	if err != nil {
		return app_errors.NewStorageError("queue.mark_failed", err)
	}
	return nil
}

// RequeueInFlight returns in-flight items whose attempt started more than
// olderThan ago to pending. Such items were stranded by a crash or
// cancellation mid-upload; the upload confirmation is the only path that
// advances a record to synced, so re-pending can never duplicate one.
func (q *OfflineQueue) RequeueInFlight(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	res := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("status = ? AND last_attempt_at <= ?", models.QueueInFlight, cutoff).
		Updates(map[string]interface{}{
			"status":          models.QueuePending,
			"next_attempt_at": time.Now(),
		})
	if res.Error != nil {
		return app_errors.NewStorageError("queue.requeue_in_flight", res.Error)
	}
	if res.RowsAffected > 0 {
		logrus.WithField("requeued", res.RowsAffected).Warn("Recovered stranded in-flight queue items")
	}
	return nil
}

// MarkConflicted parks an item pending manual or reconciler resolution.
func (q *OfflineQueue) MarkConflicted(ctx context.Context, recordID string, cause error) error {
	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"status":     models.QueueConflicted,
			"last_error": truncateError(cause),
		}).Error
	if err != nil {
		return app_errors.NewStorageError("queue.mark_conflicted", err)
	}
	return nil
}

// Depth reports queue size per status for the sync status endpoint.
func (q *OfflineQueue) Depth(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, app_errors.NewStorageError("queue.depth", err)
	}
	depth := make(map[string]int64, len(rows))
	for _, r := range rows {
		depth[r.Status] = r.N
	}
	return depth, nil
}

// SweepStale flags pending items older than the retry horizon so they stop
// retrying even when no upload attempt has touched them recently.
func (q *OfflineQueue) SweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-q.retryHorizon)
	err := q.db.WithContext(ctx).Model(&models.SyncQueueItem{}).
		Where("status = ? AND enqueued_at <= ?", models.QueuePending, cutoff).
		Updates(map[string]interface{}{
			"status":     models.QueueStale,
			"last_error": "retry horizon exceeded",
		}).Error
	if err != nil {
		return app_errors.NewStorageError("queue.sweep_stale", err)
	}
	return nil
}

// ConflictedItems lists entries parked for conflict resolution.
func (q *OfflineQueue) ConflictedItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := q.db.WithContext(ctx).
		Where("status = ?", models.QueueConflicted).
		Order("timestamp ASC").
		Find(&items).Error
	if err != nil {
		return nil, app_errors.NewStorageError("queue.conflicted_items", err)
	}
	return items, nil
}

// StaleItems lists entries that exhausted the retry horizon so operators
// can surface them for manual review.
func (q *OfflineQueue) StaleItems(ctx context.Context) ([]models.SyncQueueItem, error) {
	var items []models.SyncQueueItem
	err := q.db.WithContext(ctx).
		Where("status = ?", models.QueueStale).
		Order("enqueued_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, app_errors.NewStorageError("queue.stale_items", err)
	}
	return items, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
