package verification

import (
	"sync"
	"time"

	"attend-sync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockoutManager tracks consecutive PIN failures per employee. State is
// durable so a lockout survives process restarts; in-process access is
// serialized per employee, never globally, to avoid cross-employee
// contention.
type LockoutManager struct {
	db          *gorm.DB
	maxFailures int
	coolDown    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockoutManager creates a LockoutManager.
func NewLockoutManager(db *gorm.DB, maxFailures int, coolDown time.Duration) *LockoutManager {
	return &LockoutManager{
		db:          db,
		maxFailures: maxFailures,
		coolDown:    coolDown,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (m *LockoutManager) employeeLock(employeeID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[employeeID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[employeeID] = l
	}
	return l
}

// IsLocked reports whether the employee's PIN is currently locked out.
func (m *LockoutManager) IsLocked(employeeID string, now time.Time) (bool, error) {
	l := m.employeeLock(employeeID)
	l.Lock()
	defer l.Unlock()

	var lockout models.PinLockout
	err := m.db.Where("employee_id = ?", employeeID).First(&lockout).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return lockout.LockedUntil != nil && now.Before(*lockout.LockedUntil), nil
}

// RecordFailure increments the consecutive-failure counter and starts the
// cool-down window when the threshold is reached. It returns true when
// this failure triggered or extended a lockout.
func (m *LockoutManager) RecordFailure(employeeID string, now time.Time) (bool, error) {
	l := m.employeeLock(employeeID)
	l.Lock()
	defer l.Unlock()

	var lockout models.PinLockout
	err := m.db.Where("employee_id = ?", employeeID).First(&lockout).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return false, err
	}
	lockout.EmployeeID = employeeID

	// An expired lock resets the counter before this failure is counted.
	if lockout.LockedUntil != nil && !now.Before(*lockout.LockedUntil) {
		lockout.ConsecutiveFailures = 0
		lockout.LockedUntil = nil
	}

	lockout.ConsecutiveFailures++
	locked := false
	if lockout.ConsecutiveFailures >= m.maxFailures {
		until := now.Add(m.coolDown)
		lockout.LockedUntil = &until
		locked = true
	}

	if err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}},
		UpdateAll: true,
	}).Create(&lockout).Error; err != nil {
		return false, err
	}
	return locked, nil
}

// RecordSuccess resets the consecutive-failure counter.
func (m *LockoutManager) RecordSuccess(employeeID string) error {
	l := m.employeeLock(employeeID)
	l.Lock()
	defer l.Unlock()

	return m.db.Model(&models.PinLockout{}).
		Where("employee_id = ?", employeeID).
		Updates(map[string]any{"consecutive_failures": 0, "locked_until": nil}).Error
}
