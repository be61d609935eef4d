package policy

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
)

// SnapshotFetcher pulls a policy snapshot from the central server when the
// local table has no version covering the requested instant.
type SnapshotFetcher interface {
	FetchPolicy(ctx context.Context, policyID string, asOf time.Time) (*models.OvertimePolicy, error)
}

// Provider resolves the policy version that was active at a given instant.
// Summaries always use the version active at the record timestamps, never
// the currently newest one, so recomputation stays reproducible.
type Provider struct {
	db      *gorm.DB
	fetcher SnapshotFetcher
}

// NewProvider creates a Provider. fetcher may be nil for offline-only use.
func NewProvider(db *gorm.DB, fetcher SnapshotFetcher) *Provider {
	return &Provider{db: db, fetcher: fetcher}
}

// Resolve returns the highest-versioned policy whose EffectiveFrom is not
// after asOf. When no local version qualifies it falls back to the central
// server and caches the snapshot locally.
func (p *Provider) Resolve(ctx context.Context, policyID string, asOf time.Time) (*models.OvertimePolicy, error) {
	var policy models.OvertimePolicy
	err := p.db.WithContext(ctx).
		Where("policy_id = ? AND effective_from <= ?", policyID, asOf).
		Order("version DESC").
		First(&policy).Error
	if err == nil {
		return &policy, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, app_errors.NewStorageError("policy.resolve", err)
	}

	if p.fetcher == nil {
		return nil, app_errors.NewDerivationError(app_errors.MissingPolicy,
			fmt.Sprintf("no policy %s effective at %s", policyID, asOf.UTC().Format(time.RFC3339)))
	}
	fetched, err := p.fetcher.FetchPolicy(ctx, policyID, asOf)
	if err != nil {
		return nil, app_errors.NewDerivationError(app_errors.MissingPolicy,
			fmt.Sprintf("policy %s unavailable: %v", policyID, err))
	}
	if err := p.cache(ctx, fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// ResolveShift returns the shift template assigned for the employee on the
// given date, falling back to the template referenced by the policy
// assignment in settings.
func (p *Provider) ResolveShift(ctx context.Context, employeeID string, date time.Time) (*models.ShiftTemplate, error) {
	var actual models.ActualShift
	day := date.UTC().Format("2006-01-02")
	err := p.db.WithContext(ctx).
		Where("employee_id = ? AND date = ?", employeeID, day).
		First(&actual).Error
	if err == nil {
		// An assignment that points at a missing template is a data error
		// and must surface; silently substituting another template would
		// compute the summary against the wrong schedule.
		var tmpl models.ShiftTemplate
		terr := p.db.WithContext(ctx).Where("id = ?", actual.ShiftTemplateID).First(&tmpl).Error
		if terr == gorm.ErrRecordNotFound {
			return nil, app_errors.NewDerivationError(app_errors.MissingShiftTemplate,
				fmt.Sprintf("shift template %s assigned to %s on %s not found", actual.ShiftTemplateID, employeeID, day))
		}
		if terr != nil {
			return nil, app_errors.NewStorageError("policy.resolve_shift", terr)
		}
		return &tmpl, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, app_errors.NewStorageError("policy.resolve_shift", err)
	}

	var tmpl models.ShiftTemplate
	err = p.db.WithContext(ctx).Order("id ASC").First(&tmpl).Error
	if err == gorm.ErrRecordNotFound {
		return nil, app_errors.NewDerivationError(app_errors.MissingShiftTemplate,
			fmt.Sprintf("no shift template for employee %s on %s", employeeID, day))
	}
	if err != nil {
		return nil, app_errors.NewStorageError("policy.resolve_shift", err)
	}
	return &tmpl, nil
}

func (p *Provider) cache(ctx context.Context, policy *models.OvertimePolicy) error {
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "policy_id"}, {Name: "version"}},
			DoNothing: true,
		}).
		Create(policy).Error
	if err != nil {
		return app_errors.NewStorageError("policy.cache", err)
	}
	return nil
}
