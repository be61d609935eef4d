package errors

import "fmt"

// VerificationFailureCode enumerates terminal, user-correctable reasons a
// punch attempt fails verification. These are local outcomes: a record
// rejected here is never uploaded.
type VerificationFailureCode string

const (
	MethodNotAllowed             VerificationFailureCode = "METHOD_NOT_ALLOWED"
	LocationAccuracyInsufficient VerificationFailureCode = "LOCATION_ACCURACY_INSUFFICIENT"
	LocationOutsideGeofence      VerificationFailureCode = "LOCATION_OUTSIDE_GEOFENCE"
	BiometricLowConfidence       VerificationFailureCode = "BIOMETRIC_LOW_CONFIDENCE"
	PinMismatch                  VerificationFailureCode = "PIN_MISMATCH"
	PinLockedOut                 VerificationFailureCode = "PIN_LOCKED_OUT"
	TokenExpiredOrReused         VerificationFailureCode = "TOKEN_EXPIRED_OR_REUSED"
)

// VerificationFailure is the typed result of a failed dispatch.
type VerificationFailure struct {
	Code   VerificationFailureCode
	Reason string
}

func (e *VerificationFailure) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// NewVerificationFailure builds a VerificationFailure with a reason.
func NewVerificationFailure(code VerificationFailureCode, reason string) *VerificationFailure {
	return &VerificationFailure{Code: code, Reason: reason}
}

// DerivationErrorCode enumerates configuration or pairing problems that
// prevent a summary from being derived. A derivation that cannot complete
// must surface one of these, never an approximated summary.
type DerivationErrorCode string

const (
	MissingPolicy        DerivationErrorCode = "MISSING_POLICY"
	MissingShiftTemplate DerivationErrorCode = "MISSING_SHIFT_TEMPLATE"
	UnpairedEvents       DerivationErrorCode = "UNPAIRED_EVENTS"
)

// DerivationError reports a summary computation that cannot complete.
type DerivationError struct {
	Code   DerivationErrorCode
	Detail string
}

func (e *DerivationError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewDerivationError builds a DerivationError with detail.
func NewDerivationError(code DerivationErrorCode, detail string) *DerivationError {
	return &DerivationError{Code: code, Detail: detail}
}

// SyncErrorCode classifies reconciliation failures. All codes except
// ServerRejected are transient and drive the retry state machine.
type SyncErrorCode string

const (
	NetworkUnavailable SyncErrorCode = "NETWORK_UNAVAILABLE"
	ServerTimeout      SyncErrorCode = "SERVER_TIMEOUT"
	ServerRejected     SyncErrorCode = "SERVER_REJECTED"
	Conflict           SyncErrorCode = "CONFLICT"
)

// SyncError reports an upload or reconciliation failure.
type SyncError struct {
	Code   SyncErrorCode
	Detail string
}

func (e *SyncError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Transient reports whether the error should leave queue items Pending
// for another attempt.
func (e *SyncError) Transient() bool {
	return e.Code != ServerRejected
}

// NewSyncError builds a SyncError with detail.
func NewSyncError(code SyncErrorCode, detail string) *SyncError {
	return &SyncError{Code: code, Detail: detail}
}

// StorageError wraps a durable-store failure. It is fatal for the current
// operation; queue writes are append-then-confirm so a StorageError never
// leaves partial state behind.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with the failing operation name.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
