// Package record governs the lifecycle of attendance records from capture
// to confirmation, rejection, or supersession.
package record

import (
	"fmt"
	"time"

	"attend-sync/internal/models"

	"gorm.io/gorm"
)

// transitions is the single source of legality for state changes.
// Transitions are one-directional; no state is ever re-entered, so the
// transition log is a total order of record history.
var transitions = map[string][]string{
	models.StateCaptured:   {models.StateVerified, models.StateRejected},
	models.StateVerified:   {models.StateQueued},
	models.StateQueued:     {models.StateSynced, models.StateRejected, models.StateConflicted},
	models.StateConflicted: {models.StateSuperseded, models.StateResolvedAccepted},
	// Terminal states.
	models.StateSynced:           {},
	models.StateRejected:         {},
	models.StateSuperseded:       {},
	models.StateResolvedAccepted: {},
}

// IllegalTransitionError reports a transition outside the table.
type IllegalTransitionError struct {
	RecordID string
	From     string
	To       string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for record %s", e.From, e.To, e.RecordID)
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func Terminal(state string) bool {
	next, ok := transitions[state]
	return ok && len(next) == 0
}

// StateMachine applies transitions, appending a RecordTransition row for
// every change. Records are never mutated beyond state progression; the
// transition log is the audit history.
type StateMachine struct {
	db *gorm.DB
}

// NewStateMachine creates a StateMachine.
func NewStateMachine(db *gorm.DB) *StateMachine {
	return &StateMachine{db: db}
}

// Capture persists a fresh record in the Captured state before
// verification completes, so a crash mid-verification loses nothing.
func (m *StateMachine) Capture(rec *models.AttendanceRecord) error {
	rec.State = models.StateCaptured
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return tx.Create(&models.RecordTransition{
			RecordID:  rec.ID,
			FromState: "",
			ToState:   models.StateCaptured,
			Reason:    "captured",
		}).Error
	})
}

// Transition moves a record to a new state, validating against the
// transition table and logging the change.
func (m *StateMachine) Transition(rec *models.AttendanceRecord, to, reason string) error {
	if !CanTransition(rec.State, to) {
		return &IllegalTransitionError{RecordID: rec.ID, From: rec.State, To: to}
	}
	from := rec.State
	return m.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"state": to, "updated_at": time.Now().UTC()}
		if to == models.StateRejected {
			updates["reject_reason"] = reason
		}
		res := tx.Model(&models.AttendanceRecord{}).
			Where("id = ? AND state = ?", rec.ID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Someone else advanced the record; re-entry is never legal.
			return &IllegalTransitionError{RecordID: rec.ID, From: from, To: to}
		}
		if err := tx.Create(&models.RecordTransition{
			RecordID:  rec.ID,
			FromState: from,
			ToState:   to,
			Reason:    reason,
		}).Error; err != nil {
			return err
		}
		rec.State = to
		return nil
	})
}

// MarkSynced acknowledges a record with its server revision. The upload
// confirmation is the only path that sets Synced.
func (m *StateMachine) MarkSynced(rec *models.AttendanceRecord, serverRevision int64) error {
	if !CanTransition(rec.State, models.StateSynced) {
		return &IllegalTransitionError{RecordID: rec.ID, From: rec.State, To: models.StateSynced}
	}
	from := rec.State
	return m.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AttendanceRecord{}).
			Where("id = ? AND state = ?", rec.ID, from).
			Updates(map[string]any{"state": models.StateSynced, "server_revision": serverRevision})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &IllegalTransitionError{RecordID: rec.ID, From: from, To: models.StateSynced}
		}
		if err := tx.Create(&models.RecordTransition{
			RecordID:  rec.ID,
			FromState: from,
			ToState:   models.StateSynced,
			Reason:    fmt.Sprintf("server revision %d", serverRevision),
		}).Error; err != nil {
			return err
		}
		rec.State = models.StateSynced
		rec.ServerRevision = &serverRevision
		return nil
	})
}

// History returns the transition log for a record, oldest first.
func (m *StateMachine) History(recordID string) ([]models.RecordTransition, error) {
	var log []models.RecordTransition
	err := m.db.Where("record_id = ?", recordID).Order("id ASC").Find(&log).Error
	return log, err
}
