package record

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"attend-sync/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.AttendanceRecord{}, &models.RecordTransition{}))
	return db
}

func newRecord(id string) *models.AttendanceRecord {
	return &models.AttendanceRecord{
		ID:         id,
		EmployeeID: "emp-1",
		Timestamp:  time.Now().UTC(),
		Type:       models.PunchClockIn,
		Method:     models.MethodGeo,
	}
}

func TestCaptureStartsInCapturedState(t *testing.T) {
	m := NewStateMachine(newTestDB(t))
	rec := newRecord("rec-1")
	require.NoError(t, m.Capture(rec))
	assert.Equal(t, models.StateCaptured, rec.State)

	history, err := m.History("rec-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StateCaptured, history[0].ToState)
}

func TestLegalTransitionChain(t *testing.T) {
	m := NewStateMachine(newTestDB(t))
	rec := newRecord("rec-1")
	require.NoError(t, m.Capture(rec))

	require.NoError(t, m.Transition(rec, models.StateVerified, "verification passed"))
	require.NoError(t, m.Transition(rec, models.StateQueued, "staged"))
	require.NoError(t, m.MarkSynced(rec, 42))

	assert.Equal(t, models.StateSynced, rec.State)
	require.NotNil(t, rec.ServerRevision)
	assert.Equal(t, int64(42), *rec.ServerRevision)

	history, err := m.History("rec-1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestIllegalTransitionsRejected(t *testing.T) {
	m := NewStateMachine(newTestDB(t))
	rec := newRecord("rec-1")
	require.NoError(t, m.Capture(rec))

	// Captured cannot jump straight to Queued or Synced.
	err := m.Transition(rec, models.StateQueued, "skip verification")
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	err = m.MarkSynced(rec, 1)
	require.ErrorAs(t, err, &illegal)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := NewStateMachine(newTestDB(t))
	rec := newRecord("rec-1")
	require.NoError(t, m.Capture(rec))
	require.NoError(t, m.Transition(rec, models.StateRejected, "outside geofence"))

	var illegal *IllegalTransitionError
	err := m.Transition(rec, models.StateVerified, "retry")
	require.ErrorAs(t, err, &illegal)

	var stored models.AttendanceRecord
	require.NoError(t, m.db.First(&stored, "id = ?", "rec-1").Error)
	assert.Equal(t, models.StateRejected, stored.State)
	assert.Equal(t, "outside geofence", stored.RejectReason)
}

func TestConflictResolutionPaths(t *testing.T) {
	m := NewStateMachine(newTestDB(t))

	superseded := newRecord("rec-1")
	require.NoError(t, m.Capture(superseded))
	require.NoError(t, m.Transition(superseded, models.StateVerified, ""))
	require.NoError(t, m.Transition(superseded, models.StateQueued, ""))
	require.NoError(t, m.Transition(superseded, models.StateConflicted, "duplicate on server"))
	require.NoError(t, m.Transition(superseded, models.StateSuperseded, "server record wins"))

	accepted := newRecord("rec-2")
	require.NoError(t, m.Capture(accepted))
	require.NoError(t, m.Transition(accepted, models.StateVerified, ""))
	require.NoError(t, m.Transition(accepted, models.StateQueued, ""))
	require.NoError(t, m.Transition(accepted, models.StateConflicted, "duplicate on server"))
	require.NoError(t, m.Transition(accepted, models.StateResolvedAccepted, "last write wins"))
}

func TestConcurrentTransitionLosesCleanly(t *testing.T) {
	db := newTestDB(t)
	m := NewStateMachine(db)
	rec := newRecord("rec-1")
	require.NoError(t, m.Capture(rec))

	// Simulate another worker advancing the row underneath us.
	require.NoError(t, db.Model(&models.AttendanceRecord{}).
		Where("id = ?", "rec-1").
		Update("state", models.StateVerified).Error)

	err := m.Transition(rec, models.StateRejected, "stale view")
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(models.StateCaptured, models.StateVerified))
	assert.True(t, CanTransition(models.StateCaptured, models.StateRejected))
	assert.True(t, CanTransition(models.StateQueued, models.StateConflicted))
	assert.False(t, CanTransition(models.StateSynced, models.StateQueued))
	assert.False(t, CanTransition(models.StateRejected, models.StateCaptured))
	assert.True(t, Terminal(models.StateSynced))
	assert.True(t, Terminal(models.StateSuperseded))
	assert.False(t, Terminal(models.StateQueued))
}
