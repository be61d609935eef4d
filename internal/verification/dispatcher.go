package verification

import (
	"context"
	"fmt"
	"time"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/geo"
	"attend-sync/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PunchAttempt is a raw punch submission with its verification evidence.
type PunchAttempt struct {
	// RecordID is the already-captured record this attempt belongs to;
	// the audit trail links back to it.
	RecordID    string
	EmployeeID  string
	DeviceID    string
	Type        string
	Timestamp   time.Time
	ClockSkewMs int64
	Evidence    Evidence
	// Secondary is an optional fallback method supplied alongside a geo
	// fix; it is consulted when the geo result is Indeterminate.
	Secondary Evidence
}

// Verdict is the outcome of a dispatch.
type Verdict struct {
	Passed  bool
	Failure *app_errors.VerificationFailure
	// SiteID is set when a geo check resolved to a specific site.
	SiteID *uint
}

// Dispatcher routes a punch attempt to the correct verification method.
// It is synchronous and safe to invoke concurrently for different
// employees; the only durable state it mutates (PIN lockouts, token
// marks, audit log) is serialized per employee.
type Dispatcher struct {
	db         *gorm.DB
	geoVerify  *geo.Verifier
	lockouts   *LockoutManager
	tokenGuard *TokenGuard
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(db *gorm.DB, geoVerify *geo.Verifier, lockouts *LockoutManager, tokenGuard *TokenGuard) *Dispatcher {
	return &Dispatcher{
		db:         db,
		geoVerify:  geoVerify,
		lockouts:   lockouts,
		tokenGuard: tokenGuard,
	}
}

// Dispatch verifies an attempt under the employee's settings and the
// policy version active at the attempt timestamp. Every dispatch, pass or
// fail, appends an immutable audit entry.
func (d *Dispatcher) Dispatch(ctx context.Context, attempt *PunchAttempt, settings *models.EmployeeSettings, policy *models.OvertimePolicy) (*Verdict, error) {
	verdict, err := d.dispatch(ctx, attempt, settings, policy)
	if err != nil {
		return nil, err
	}
	if auditErr := d.appendAudit(attempt, verdict); auditErr != nil {
		// The audit trail is a compliance requirement; a verdict without
		// its entry must not be acted on.
		return nil, app_errors.NewStorageError("audit append", auditErr)
	}
	return verdict, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, attempt *PunchAttempt, settings *models.EmployeeSettings, policy *models.OvertimePolicy) (*Verdict, error) {
	methods, err := settings.Methods()
	if err != nil {
		return nil, fmt.Errorf("decode allowed methods: %w", err)
	}
	if !contains(methods, attempt.Evidence.Method()) {
		return fail(app_errors.MethodNotAllowed,
			fmt.Sprintf("method %s not allowed for employee", attempt.Evidence.Method())), nil
	}

	switch ev := attempt.Evidence.(type) {
	case GeoEvidence:
		return d.verifyGeo(ctx, attempt, ev, settings, policy)
	case BiometricEvidence:
		return d.verifyBiometric(ev, policy), nil
	case PinEvidence:
		return d.verifyPin(attempt.EmployeeID, ev, settings, attempt.Timestamp)
	case TokenEvidence:
		return d.verifyToken(ev, attempt.Timestamp)
	default:
		return nil, fmt.Errorf("unhandled evidence method %q", attempt.Evidence.Method())
	}
}

func (d *Dispatcher) verifyGeo(ctx context.Context, attempt *PunchAttempt, ev GeoEvidence, settings *models.EmployeeSettings, policy *models.OvertimePolicy) (*Verdict, error) {
	sites, err := d.loadSites(settings)
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return fail(app_errors.LocationOutsideGeofence, "no sites configured for employee"), nil
	}

	point := geo.Point{Lat: ev.Lat, Lng: ev.Lng}
	result, site, err := d.geoVerify.VerifyAny(point, ev.AccuracyMeters, sites)
	if err != nil {
		return nil, err
	}

	switch result {
	case geo.Inside:
		return d.passOnSite(ctx, attempt, settings, policy, site)

	case geo.Outside:
		return fail(app_errors.LocationOutsideGeofence, "coordinate outside all approved sites"), nil

	default: // Indeterminate
		if matched, err := siteMatchingSSID(sites, ev.SSID); err != nil {
			return nil, err
		} else if matched != nil {
			// The Wi-Fi association places the device on site even though
			// the GPS fix is too coarse.
			return d.passOnSite(ctx, attempt, settings, policy, matched)
		}
		if attempt.Secondary == nil {
			return fail(app_errors.LocationAccuracyInsufficient,
				fmt.Sprintf("accuracy %.0fm exceeds ceiling", ev.AccuracyMeters)), nil
		}
		if policy.RequireAllMethods {
			// An imprecise fix can never count as a pass under AND
			// semantics.
			return fail(app_errors.LocationAccuracyInsufficient,
				"indeterminate fix cannot satisfy high-security policy"), nil
		}
		return d.verifySecondary(ctx, attempt, settings)
	}
}

// passOnSite settles a location-resolved attempt. High-security policies
// still require the supplied secondary method to pass.
func (d *Dispatcher) passOnSite(ctx context.Context, attempt *PunchAttempt, settings *models.EmployeeSettings, policy *models.OvertimePolicy, site *models.Site) (*Verdict, error) {
	if policy.RequireAllMethods && attempt.Secondary != nil {
		secondary, err := d.verifySecondary(ctx, attempt, settings)
		if err != nil {
			return nil, err
		}
		if !secondary.Passed {
			return secondary, nil
		}
	}
	return &Verdict{Passed: true, SiteID: &site.ID}, nil
}

func siteMatchingSSID(sites []models.Site, ssid string) (*models.Site, error) {
	if ssid == "" {
		return nil, nil
	}
	for i := range sites {
		allowed, err := sites[i].SSIDs()
		if err != nil {
			return nil, fmt.Errorf("decode SSID allowlist: %w", err)
		}
		if contains(allowed, ssid) {
			return &sites[i], nil
		}
	}
	return nil, nil
}

func (d *Dispatcher) verifySecondary(ctx context.Context, attempt *PunchAttempt, settings *models.EmployeeSettings) (*Verdict, error) {
	methods, err := settings.Methods()
	if err != nil {
		return nil, fmt.Errorf("decode allowed methods: %w", err)
	}
	if !contains(methods, attempt.Secondary.Method()) {
		return fail(app_errors.MethodNotAllowed,
			fmt.Sprintf("secondary method %s not allowed", attempt.Secondary.Method())), nil
	}

	switch ev := attempt.Secondary.(type) {
	case PinEvidence:
		return d.verifyPin(attempt.EmployeeID, ev, settings, attempt.Timestamp)
	case TokenEvidence:
		return d.verifyToken(ev, attempt.Timestamp)
	case GeoEvidence, BiometricEvidence:
		return fail(app_errors.MethodNotAllowed,
			fmt.Sprintf("%s cannot serve as a secondary method", ev.Method())), nil
	default:
		return nil, fmt.Errorf("unhandled secondary evidence method %q", attempt.Secondary.Method())
	}
}

func (d *Dispatcher) verifyBiometric(ev BiometricEvidence, policy *models.OvertimePolicy) *Verdict {
	if !ev.Liveness {
		return fail(app_errors.BiometricLowConfidence, "liveness flag not set")
	}
	if ev.ConfidenceScore < policy.BiometricThreshold {
		return fail(app_errors.BiometricLowConfidence,
			fmt.Sprintf("score %.2f below threshold %.2f", ev.ConfidenceScore, policy.BiometricThreshold))
	}
	return &Verdict{Passed: true}
}

func (d *Dispatcher) verifyPin(employeeID string, ev PinEvidence, settings *models.EmployeeSettings, now time.Time) (*Verdict, error) {
	locked, err := d.lockouts.IsLocked(employeeID, now)
	if err != nil {
		return nil, err
	}
	if locked {
		return fail(app_errors.PinLockedOut, "PIN locked after repeated failures"), nil
	}
	if settings.PinHash == "" {
		return fail(app_errors.PinMismatch, "no PIN enrolled"), nil
	}

	if bcrypt.CompareHashAndPassword([]byte(settings.PinHash), []byte(ev.Pin)) != nil {
		nowLocked, err := d.lockouts.RecordFailure(employeeID, now)
		if err != nil {
			return nil, err
		}
		if nowLocked {
			logrus.WithField("employee_id", employeeID).Warn("PIN locked out after consecutive failures")
			return fail(app_errors.PinLockedOut, "PIN locked after repeated failures"), nil
		}
		return fail(app_errors.PinMismatch, "PIN does not match"), nil
	}

	if err := d.lockouts.RecordSuccess(employeeID); err != nil {
		return nil, err
	}
	return &Verdict{Passed: true}, nil
}

func (d *Dispatcher) verifyToken(ev TokenEvidence, now time.Time) (*Verdict, error) {
	if !now.Before(ev.ExpiresAt) {
		return fail(app_errors.TokenExpiredOrReused, "token expired"), nil
	}

	var site models.Site
	if err := d.db.Where("id = ?", ev.SiteID).First(&site).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fail(app_errors.TokenExpiredOrReused, "unknown site"), nil
		}
		return nil, err
	}
	if ev.Generation != site.TokenGeneration {
		return fail(app_errors.TokenExpiredOrReused, "token generation superseded"), nil
	}

	fresh, err := d.tokenGuard.Consume(ev, now)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return fail(app_errors.TokenExpiredOrReused, "token already consumed"), nil
	}
	return &Verdict{Passed: true, SiteID: &ev.SiteID}, nil
}

func (d *Dispatcher) loadSites(settings *models.EmployeeSettings) ([]models.Site, error) {
	ids, err := settings.Sites()
	if err != nil {
		return nil, fmt.Errorf("decode site ids: %w", err)
	}
	var sites []models.Site
	query := d.db.Where("active = ?", true)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	if err := query.Find(&sites).Error; err != nil {
		return nil, err
	}
	return sites, nil
}

func (d *Dispatcher) appendAudit(attempt *PunchAttempt, verdict *Verdict) error {
	entry := models.AuditEntry{
		RecordID:       attempt.RecordID,
		EmployeeID:     attempt.EmployeeID,
		Method:         attempt.Evidence.Method(),
		Verdict:        "pass",
		EvidenceDigest: DigestEvidence(attempt.Evidence),
		Timestamp:      attempt.Timestamp,
	}
	if !verdict.Passed {
		entry.Verdict = "fail"
		if verdict.Failure != nil {
			entry.FailureCode = string(verdict.Failure.Code)
		}
	}
	return d.db.Create(&entry).Error
}

func fail(code app_errors.VerificationFailureCode, reason string) *Verdict {
	return &Verdict{Passed: false, Failure: app_errors.NewVerificationFailure(code, reason)}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
