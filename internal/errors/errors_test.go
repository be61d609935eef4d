package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestNewAPIErrorPreservesStatusAndCode(t *testing.T) {
	custom := NewAPIError(ErrBadRequest, "employee_id is required")
	assert.Equal(t, http.StatusBadRequest, custom.HTTPStatus)
	assert.Equal(t, "BAD_REQUEST", custom.Code)
	assert.Equal(t, "employee_id is required", custom.Error())

	// The predefined error must stay untouched.
	assert.Equal(t, "Invalid request parameters", ErrBadRequest.Message)
}

func TestNewAPIErrorWithUpstream(t *testing.T) {
	withDetail := NewAPIErrorWithUpstream(ErrDatabase, "connection reset")
	assert.Equal(t, "Database operation failed: connection reset", withDetail.Message)

	// Empty detail returns the base verbatim.
	assert.Same(t, ErrDatabase, NewAPIErrorWithUpstream(ErrDatabase, ""))
}

func TestParseDBError(t *testing.T) {
	assert.Nil(t, ParseDBError(nil))
	assert.Same(t, ErrResourceNotFound, ParseDBError(gorm.ErrRecordNotFound))
	assert.Same(t, ErrResourceNotFound, ParseDBError(fmt.Errorf("load: %w", gorm.ErrRecordNotFound)))
	assert.Same(t, ErrDuplicateResource, ParseDBError(errors.New("UNIQUE constraint failed: sites.name")))
	assert.Same(t, ErrDuplicateResource, ParseDBError(errors.New("Duplicate entry 'a' for key 'primary'")))

	generic := ParseDBError(errors.New("disk I/O error"))
	assert.Equal(t, ErrDatabase.Code, generic.Code)
	assert.Equal(t, "disk I/O error", generic.Message)
}

func TestVerificationFailureError(t *testing.T) {
	bare := &VerificationFailure{Code: PinLockedOut}
	assert.Equal(t, "PIN_LOCKED_OUT", bare.Error())

	withReason := NewVerificationFailure(LocationOutsideGeofence, "no site contains the point")
	assert.Equal(t, "LOCATION_OUTSIDE_GEOFENCE: no site contains the point", withReason.Error())
}

func TestDerivationErrorError(t *testing.T) {
	err := NewDerivationError(UnpairedEvents, "clock-in at 09:00 never closed")
	assert.Equal(t, "UNPAIRED_EVENTS: clock-in at 09:00 never closed", err.Error())
	assert.Equal(t, "MISSING_POLICY", (&DerivationError{Code: MissingPolicy}).Error())
}

func TestSyncErrorTransient(t *testing.T) {
	assert.True(t, NewSyncError(NetworkUnavailable, "").Transient())
	assert.True(t, NewSyncError(ServerTimeout, "").Transient())
	assert.True(t, NewSyncError(Conflict, "").Transient())
	assert.False(t, NewSyncError(ServerRejected, "schema mismatch").Transient())

	assert.Equal(t, "SERVER_REJECTED: schema mismatch", NewSyncError(ServerRejected, "schema mismatch").Error())
}

func TestStorageErrorUnwrap(t *testing.T) {
	cause := errors.New("database is locked")
	err := NewStorageError("enqueue", cause)
	assert.Equal(t, "storage enqueue: database is locked", err.Error())
	assert.True(t, errors.Is(err, cause))
}
