package syncsvc

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"attend-sync/internal/config"
	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
	"attend-sync/internal/queue"
	"attend-sync/internal/record"
	"attend-sync/internal/upstream"
)

// fakeUploader scripts per-record verdicts and records upload order.
type fakeUploader struct {
	mu          sync.Mutex
	verdicts    map[string]upstream.RecordVerdict
	resolutions map[string]upstream.RecordVerdict
	err         error
	resolveErr  error
	batches     [][]string
}

func (f *fakeUploader) UploadRecords(ctx context.Context, records []models.AttendanceRecord) ([]upstream.RecordVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(records))
	out := make([]upstream.RecordVerdict, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		verdict, ok := f.verdicts[rec.ID]
		if !ok {
			verdict = upstream.RecordVerdict{RecordID: rec.ID, Status: upstream.VerdictAccepted, ServerRevision: 1}
		}
		out = append(out, verdict)
	}
	f.batches = append(f.batches, ids)
	return out, nil
}

func (f *fakeUploader) ResolveConflict(ctx context.Context, rec *models.AttendanceRecord) (*upstream.RecordVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if verdict, ok := f.resolutions[rec.ID]; ok {
		return &verdict, nil
	}
	return &upstream.RecordVerdict{RecordID: rec.ID, Status: upstream.VerdictAccepted, ServerRevision: 99}, nil
}

type harness struct {
	db         *gorm.DB
	queue      *queue.OfflineQueue
	states     *record.StateMachine
	uploader   *fakeUploader
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.AttendanceRecord{},
		&models.RecordTransition{},
		&models.SyncQueueItem{},
	))

	q := queue.NewOfflineQueue(db, 14)
	states := record.NewStateMachine(db)
	uploader := &fakeUploader{
		verdicts:    make(map[string]upstream.RecordVerdict),
		resolutions: make(map[string]upstream.RecordVerdict),
	}
	reconciler := NewReconciler(db, q, states, uploader, &config.MockConfig{})
	return &harness{db: db, queue: q, states: states, uploader: uploader, reconciler: reconciler}
}

func (h *harness) stageRecord(t *testing.T, id, employeeID string, ts time.Time) *models.AttendanceRecord {
	t.Helper()
	rec := &models.AttendanceRecord{
		ID:         id,
		EmployeeID: employeeID,
		Timestamp:  ts,
		Type:       models.PunchClockIn,
		Method:     models.MethodGeo,
	}
	require.NoError(t, h.states.Capture(rec))
	require.NoError(t, h.states.Transition(rec, models.StateVerified, ""))
	require.NoError(t, h.queue.Enqueue(context.Background(), rec))
	require.NoError(t, h.states.Transition(rec, models.StateQueued, ""))
	return rec
}

func (h *harness) recordState(t *testing.T, id string) string {
	t.Helper()
	var rec models.AttendanceRecord
	require.NoError(t, h.db.First(&rec, "id = ?", id).Error)
	return rec.State
}

func TestSyncOnceHoldsBackEmployeeBehindBackedOffRecord(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	h.stageRecord(t, "rec-1", "emp-1", base)
	h.stageRecord(t, "rec-2", "emp-1", base.Add(time.Minute))
	h.stageRecord(t, "other-1", "emp-2", base)

	// Back off the older record the way a transient upload failure would.
	var item models.SyncQueueItem
	require.NoError(t, h.db.First(&item, "record_id = ?", "rec-1").Error)
	require.NoError(t, h.queue.MarkFailed(context.Background(), &item, assert.AnError))

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	// Uploading rec-2 alone would reach the server before rec-1; the whole
	// employee waits out the backoff instead.
	for _, batch := range h.uploader.batches {
		assert.NotContains(t, batch, "rec-1")
		assert.NotContains(t, batch, "rec-2")
	}
	assert.Equal(t, models.StateQueued, h.recordState(t, "rec-1"))
	assert.Equal(t, models.StateQueued, h.recordState(t, "rec-2"))
	assert.Equal(t, models.StateSynced, h.recordState(t, "other-1"))
}

func TestSyncOnceAcceptedRecords(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	h.stageRecord(t, "rec-1", "emp-1", base)
	h.stageRecord(t, "rec-2", "emp-1", base.Add(time.Minute))

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	assert.Equal(t, models.StateSynced, h.recordState(t, "rec-1"))
	assert.Equal(t, models.StateSynced, h.recordState(t, "rec-2"))

	items, err := h.queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	// One employee means one batch, in capture order.
	require.Len(t, h.uploader.batches, 1)
	assert.Equal(t, []string{"rec-1", "rec-2"}, h.uploader.batches[0])
}

func TestSyncOncePreservesPerEmployeeOrder(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	h.stageRecord(t, "a-2", "emp-a", base.Add(2*time.Minute))
	h.stageRecord(t, "a-1", "emp-a", base)
	h.stageRecord(t, "b-1", "emp-b", base.Add(time.Minute))

	_, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)

	var empABatch []string
	for _, batch := range h.uploader.batches {
		if len(batch) == 2 {
			empABatch = batch
		}
	}
	require.NotNil(t, empABatch)
	assert.Equal(t, []string{"a-1", "a-2"}, empABatch)
}

func TestSyncOnceRejectedRecord(t *testing.T) {
	h := newHarness(t)
	rec := h.stageRecord(t, "rec-1", "emp-1", time.Now())
	h.uploader.verdicts[rec.ID] = upstream.RecordVerdict{
		RecordID: rec.ID,
		Status:   upstream.VerdictRejected,
		Reason:   "site version unknown to server",
	}

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
	assert.Equal(t, models.StateRejected, h.recordState(t, "rec-1"))

	var stored models.AttendanceRecord
	require.NoError(t, h.db.First(&stored, "id = ?", "rec-1").Error)
	assert.Equal(t, "site version unknown to server", stored.RejectReason)

	// Rejected records never retry.
	items, err := h.queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSyncOnceConflictLastWriteWins(t *testing.T) {
	h := newHarness(t)
	rec := h.stageRecord(t, "rec-1", "emp-1", time.Now())
	h.uploader.verdicts[rec.ID] = upstream.RecordVerdict{
		RecordID:         rec.ID,
		Status:           upstream.VerdictConflict,
		ExistingRecordID: "srv-9",
		ExistingSequence: 12,
	}

	_, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateResolvedAccepted, h.recordState(t, "rec-1"))

	var stored models.AttendanceRecord
	require.NoError(t, h.db.First(&stored, "id = ?", "rec-1").Error)
	require.NotNil(t, stored.ServerRevision)
	assert.Equal(t, int64(99), *stored.ServerRevision)
}

func TestSyncOnceConflictPairingViolationSupersedes(t *testing.T) {
	h := newHarness(t)
	rec := h.stageRecord(t, "rec-1", "emp-1", time.Now())
	h.uploader.verdicts[rec.ID] = upstream.RecordVerdict{
		RecordID:         rec.ID,
		Status:           upstream.VerdictConflict,
		ExistingRecordID: "srv-9",
		ExistingSequence: 12,
		PairingViolation: true,
	}

	_, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)

	// Pairing integrity beats recency: the local record loses even though
	// it arrived later.
	assert.Equal(t, models.StateSuperseded, h.recordState(t, "rec-1"))

	history, err := h.states.History("rec-1")
	require.NoError(t, err)
	states := make([]string, 0, len(history))
	for _, tr := range history {
		states = append(states, tr.ToState)
	}
	assert.Contains(t, states, models.StateConflicted)
}

func TestSyncOnceTransientFailureKeepsQueue(t *testing.T) {
	h := newHarness(t)
	h.stageRecord(t, "rec-1", "emp-1", time.Now())
	h.uploader.err = app_errors.NewSyncError(app_errors.NetworkUnavailable, "connection refused")

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, synced)
	assert.Equal(t, models.StateQueued, h.recordState(t, "rec-1"))

	// The item stays queued with backoff applied.
	var item models.SyncQueueItem
	require.NoError(t, h.db.First(&item, "record_id = ?", "rec-1").Error)
	assert.Equal(t, models.QueuePending, item.Status)
	assert.True(t, item.NextAttemptAt.After(time.Now()))
	assert.Contains(t, item.LastError, "connection refused")
}

func TestSyncOnceParallelAcrossEmployees(t *testing.T) {
	h := newHarness(t)
	base := time.Now().Add(-time.Hour)
	employees := []string{"emp-a", "emp-b", "emp-c"}
	for i, emp := range employees {
		h.stageRecord(t, emp+"-rec", emp, base.Add(time.Duration(i)*time.Second))
	}

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, synced)

	seen := make([]string, 0, 3)
	for _, batch := range h.uploader.batches {
		seen = append(seen, batch...)
	}
	sort.Strings(seen)
	assert.Equal(t, []string{"emp-a-rec", "emp-b-rec", "emp-c-rec"}, seen)
}

func TestSyncOnceRetriesParkedConflict(t *testing.T) {
	h := newHarness(t)
	rec := h.stageRecord(t, "rec-1", "emp-1", time.Now())
	h.uploader.verdicts[rec.ID] = upstream.RecordVerdict{
		RecordID:         rec.ID,
		Status:           upstream.VerdictConflict,
		ExistingRecordID: "srv-9",
		ExistingSequence: 12,
	}
	h.uploader.resolveErr = app_errors.NewSyncError(app_errors.ServerTimeout, "resolution timed out")

	// First pass: the conflict verdict lands but resolution fails
	// transiently, parking the queue entry.
	_, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateConflicted, h.recordState(t, "rec-1"))

	var item models.SyncQueueItem
	require.NoError(t, h.db.First(&item, "record_id = ?", "rec-1").Error)
	assert.Equal(t, models.QueueConflicted, item.Status)

	// Second pass retries the parked resolution.
	h.uploader.resolveErr = nil
	h.uploader.resolutions[rec.ID] = upstream.RecordVerdict{
		RecordID:       rec.ID,
		Status:         upstream.VerdictAccepted,
		ServerRevision: 41,
	}
	_, err = h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateResolvedAccepted, h.recordState(t, "rec-1"))

	err = h.db.First(&item, "record_id = ?", "rec-1").Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSyncOnceSweepsExpiredPending(t *testing.T) {
	h := newHarness(t)
	h.stageRecord(t, "rec-1", "emp-1", time.Now().AddDate(0, 0, -16))
	require.NoError(t, h.db.Model(&models.SyncQueueItem{}).
		Where("record_id = ?", "rec-1").
		Update("enqueued_at", time.Now().AddDate(0, 0, -15)).Error)

	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
	assert.Empty(t, h.uploader.batches)

	stale, err := h.queue.StaleItems(context.Background())
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "rec-1", stale[0].RecordID)
}

func TestSyncOnceEmptyQueue(t *testing.T) {
	h := newHarness(t)
	synced, err := h.reconciler.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
	assert.Empty(t, h.uploader.batches)
}
