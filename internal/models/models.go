// Package models defines the persistent data model for the attendance engine.
package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Punch type constants. ClockIn/ClockOut must alternate per employee;
// BreakStart/BreakEnd must alternate and nest inside an open clock pair.
const (
	PunchClockIn    = "clock_in"
	PunchClockOut   = "clock_out"
	PunchBreakStart = "break_start"
	PunchBreakEnd   = "break_end"
)

// Verification method constants.
const (
	MethodGeo       = "geo"
	MethodBiometric = "biometric"
	MethodPin       = "pin"
	MethodToken     = "token"
)

// Record lifecycle states. Transitions are one-directional; only
// Conflicted has two outgoing edges (see internal/record).
const (
	StateCaptured         = "captured"
	StateVerified         = "verified"
	StateQueued           = "queued"
	StateSynced           = "synced"
	StateRejected         = "rejected"
	StateConflicted       = "conflicted"
	StateSuperseded       = "superseded"
	StateResolvedAccepted = "resolved_accepted"
)

// Sync queue item statuses.
const (
	QueuePending    = "pending"
	QueueInFlight   = "in_flight"
	QueueConflicted = "conflicted"
	QueueStale      = "stale_unsynced"
)

// Rounding rule constants for OvertimePolicy.
const (
	RoundNearestMinute = "nearest_minute"
	RoundQuarterHour   = "quarter_hour"
)

// AttendanceRecord corresponds to the attendance_records table. Records are
// immutable apart from state progression; every state change also appends a
// RecordTransition row.
type AttendanceRecord struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	EmployeeID  string    `gorm:"type:varchar(64);not null;index:idx_records_employee_ts" json:"employee_id"`
	Timestamp   time.Time `gorm:"not null;index:idx_records_employee_ts" json:"timestamp"`
	ClockSkewMs int64     `gorm:"not null;default:0" json:"clock_skew_ms"`
	Type        string    `gorm:"type:varchar(20);not null" json:"type"`
	Method      string    `gorm:"type:varchar(20);not null" json:"method"`
	// Evidence holds the serialized verification evidence union,
	// tagged by Method (see internal/verification).
	Evidence       datatypes.JSON `gorm:"type:json" json:"evidence"`
	DeviceID       string         `gorm:"type:varchar(64);not null" json:"device_id"`
	State          string         `gorm:"type:varchar(20);not null;index" json:"state"`
	RejectReason   string         `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	ServerRevision *int64         `json:"server_revision,omitempty"`
	PolicyID       string         `gorm:"type:varchar(64)" json:"policy_id"`
	SiteID         *uint          `json:"site_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// RecordTransition is the append-only event log of record state changes.
// Rows are never updated or deleted; together they form the audit history
// of a record.
type RecordTransition struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RecordID  string    `gorm:"type:varchar(36);not null;index" json:"record_id"`
	FromState string    `gorm:"type:varchar(20);not null" json:"from_state"`
	ToState   string    `gorm:"type:varchar(20);not null" json:"to_state"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// LatLng is a single polygon vertex.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Site is a named geofence. Sites are immutable once referenced by a
// record; edits create a new row with a bumped Version.
type Site struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name    string `gorm:"type:varchar(255);not null;uniqueIndex:idx_sites_name_version" json:"name"`
	Version int    `gorm:"not null;default:1;uniqueIndex:idx_sites_name_version" json:"version"`
	// Polygon is a JSON array of LatLng vertices (closed implicitly).
	Polygon datatypes.JSON `gorm:"type:json;not null" json:"polygon"`
	// The column is named explicitly: gorm's initialism handling would
	// otherwise render the field as ss_id_allowlist.
	SSIDAllowlist datatypes.JSON `gorm:"column:ssid_allowlist;type:json" json:"ssid_allowlist"`
	// AccuracyCeilingM overrides the global accuracy ceiling when > 0.
	AccuracyCeilingM float64 `gorm:"not null;default:0" json:"accuracy_ceiling_m"`
	// TokenGeneration is the currently active QR/NFC token generation.
	TokenGeneration int       `gorm:"not null;default:1" json:"token_generation"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Vertices decodes the polygon column.
func (s *Site) Vertices() ([]LatLng, error) {
	var vs []LatLng
	if err := json.Unmarshal(s.Polygon, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// SSIDs decodes the SSID allowlist column.
func (s *Site) SSIDs() ([]string, error) {
	if len(s.SSIDAllowlist) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(s.SSIDAllowlist, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// BreakWindow is a scheduled break inside a shift, minutes from midnight.
type BreakWindow struct {
	StartMinute int  `json:"start_minute"`
	EndMinute   int  `json:"end_minute"`
	Paid        bool `json:"paid"`
}

// ShiftTemplate is a scheduled shift definition. Times are minutes from
// midnight in the employee's local day; EndMinute may exceed 1440 for
// shifts crossing midnight.
type ShiftTemplate struct {
	ID            string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name          string         `gorm:"type:varchar(255);not null" json:"name"`
	StartMinute   int            `gorm:"not null" json:"start_minute"`
	EndMinute     int            `gorm:"not null" json:"end_minute"`
	BreakWindows  datatypes.JSON `gorm:"type:json" json:"break_windows"`
	FlexibleHours bool           `gorm:"not null;default:false" json:"flexible_hours"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Breaks decodes the break windows column.
func (t *ShiftTemplate) Breaks() ([]BreakWindow, error) {
	if len(t.BreakWindows) == 0 {
		return nil, nil
	}
	var ws []BreakWindow
	if err := json.Unmarshal(t.BreakWindows, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// ActualShift binds a template to an employee and date. Actual start/end
// are derived from records once they exist.
type ActualShift struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeID      string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_shift_employee_date" json:"employee_id"`
	Date            string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_shift_employee_date" json:"date"`
	ShiftTemplateID string     `gorm:"type:varchar(64);not null" json:"shift_template_id"`
	ActualStart     *time.Time `json:"actual_start,omitempty"`
	ActualEnd       *time.Time `json:"actual_end,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OvertimePolicy is an immutable, versioned snapshot of overtime and
// rounding rules. A record is always evaluated under the policy version
// active at its timestamp so historical summaries stay reproducible.
type OvertimePolicy struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	PolicyID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_policy_version" json:"policy_id"`
	Version       int       `gorm:"not null;uniqueIndex:idx_policy_version" json:"version"`
	EffectiveFrom time.Time `gorm:"not null;index" json:"effective_from"`

	DailyThresholdMinutes  int     `gorm:"not null" json:"daily_threshold_minutes"`
	WeeklyThresholdMinutes int     `gorm:"not null" json:"weekly_threshold_minutes"`
	OvertimeMultiplier     float64 `gorm:"not null" json:"overtime_multiplier"`
	// Night window, minutes from midnight; the window wraps midnight when
	// NightStartMinute > NightEndMinute (e.g. 22:00-06:00).
	NightStartMinute    int     `gorm:"not null" json:"night_start_minute"`
	NightEndMinute      int     `gorm:"not null" json:"night_end_minute"`
	NightDiffMultiplier float64 `gorm:"not null" json:"night_diff_multiplier"`
	RoundingRule        string  `gorm:"type:varchar(20);not null;default:'nearest_minute'" json:"rounding_rule"`
	CarryoverCapMinutes int     `gorm:"not null;default:0" json:"carryover_cap_minutes"`
	// RequireAllMethods selects AND semantics when a secondary
	// verification method accompanies an indeterminate geo fix.
	RequireAllMethods  bool      `gorm:"not null;default:false" json:"require_all_methods"`
	BiometricThreshold float64   `gorm:"not null;default:0.85" json:"biometric_threshold"`
	CreatedAt          time.Time `json:"created_at"`
}

// EmployeeSettings is the per-employee attendance configuration consumed
// from the external admin service.
type EmployeeSettings struct {
	EmployeeID string `gorm:"type:varchar(64);primaryKey" json:"employee_id"`
	// AllowedMethods is a JSON array of method names.
	AllowedMethods datatypes.JSON `gorm:"type:json;not null" json:"allowed_methods"`
	SiteIDs        datatypes.JSON `gorm:"type:json" json:"site_ids"`
	PolicyID       string         `gorm:"type:varchar(64);not null" json:"policy_id"`
	// PinHash is a bcrypt hash; empty when PIN punches are not enrolled.
	PinHash   string    `gorm:"type:varchar(128)" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Methods decodes the allowed methods column.
func (s *EmployeeSettings) Methods() ([]string, error) {
	var ms []string
	if err := json.Unmarshal(s.AllowedMethods, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// Sites decodes the site ids column.
func (s *EmployeeSettings) Sites() ([]uint, error) {
	if len(s.SiteIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal(s.SiteIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SyncQueueItem corresponds to the sync_queue_items table: the durable
// offline queue of records awaiting server acknowledgment.
type SyncQueueItem struct {
	RecordID      string     `gorm:"type:varchar(36);primaryKey" json:"record_id"`
	EmployeeID    string     `gorm:"type:varchar(64);not null;index" json:"employee_id"`
	Timestamp     time.Time  `gorm:"not null;index" json:"timestamp"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	AttemptCount  int        `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time  `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	EnqueuedAt    time.Time  `gorm:"not null" json:"enqueued_at"`
}

// AuditEntry is the immutable compliance log appended on every dispatch,
// pass or fail. Entries are archived by the retention service, never
// deleted.
type AuditEntry struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeID     string    `gorm:"type:varchar(64);not null;index:idx_audit_employee_ts" json:"employee_id"`
	RecordID       string    `gorm:"type:varchar(36);index" json:"record_id,omitempty"`
	Method         string    `gorm:"type:varchar(20);not null" json:"method"`
	Verdict        string    `gorm:"type:varchar(20);not null" json:"verdict"`
	FailureCode    string    `gorm:"type:varchar(64)" json:"failure_code,omitempty"`
	EvidenceDigest string    `gorm:"type:varchar(64);not null" json:"evidence_digest"`
	Timestamp      time.Time `gorm:"not null;index:idx_audit_employee_ts" json:"timestamp"`
	Archived       bool      `gorm:"not null;default:false;index" json:"archived"`
}

// PinLockout tracks consecutive PIN failures per employee. It is durable
// so lockout state survives process restarts.
type PinLockout struct {
	EmployeeID          string     `gorm:"type:varchar(64);primaryKey" json:"employee_id"`
	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ConsumedToken records a QR/NFC token that has already been redeemed.
// The store keeps a fast replay mark; this table makes the guarantee
// survive restarts of single-node deployments.
type ConsumedToken struct {
	TokenID    string    `gorm:"type:varchar(128);primaryKey" json:"token_id"`
	SiteID     uint      `gorm:"not null" json:"site_id"`
	ConsumedAt time.Time `gorm:"not null" json:"consumed_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}
