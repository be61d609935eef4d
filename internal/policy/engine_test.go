package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
)

func basePolicy() *models.OvertimePolicy {
	return &models.OvertimePolicy{
		PolicyID:               "standard",
		Version:                1,
		DailyThresholdMinutes:  480,
		WeeklyThresholdMinutes: 2400,
		OvertimeMultiplier:     1.5,
		NightStartMinute:       22 * 60,
		NightEndMinute:         6 * 60,
		NightDiffMultiplier:    1.1,
		RoundingRule:           models.RoundQuarterHour,
	}
}

func baseShift() *models.ShiftTemplate {
	return &models.ShiftTemplate{
		ID:          "day",
		Name:        "Day shift",
		StartMinute: 9 * 60,
		EndMinute:   18 * 60,
	}
}

func punch(t *testing.T, punchType string, ts string) models.AttendanceRecord {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	return models.AttendanceRecord{
		ID:         punchType + "-" + ts,
		EmployeeID: "emp-1",
		Timestamp:  parsed,
		Type:       punchType,
		State:      models.StateSynced,
	}
}

func TestComputeSummaryWithBreakAndRounding(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:00:00Z"),
		punch(t, models.PunchBreakStart, "2026-03-02T12:00:00Z"),
		punch(t, models.PunchBreakEnd, "2026-03-02T12:30:00Z"),
		punch(t, models.PunchClockOut, "2026-03-02T18:10:00Z"),
	}

	summary, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.NoError(t, err)

	// 9h10m span minus a 30m break is 8h40m, which rounds half-up to the
	// quarter hour as 8h45m: 8h regular plus 45m overtime.
	assert.Equal(t, 480, summary.RegularMinutes)
	assert.Equal(t, 45, summary.OvertimeMinutes)
	assert.Equal(t, 30, summary.BreakMinutes)
	assert.False(t, summary.InProgress)
	assert.False(t, summary.PolicyViolation)
	assert.False(t, summary.LateArrival)
	assert.False(t, summary.EarlyDeparture)
}

func TestComputeSummaryDeterministic(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:03:00Z"),
		punch(t, models.PunchClockOut, "2026-03-02T17:48:00Z"),
	}

	first, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.ComputeSummary(records, basePolicy(), baseShift())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeSummaryDoubleClockInFails(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:00:00Z"),
		punch(t, models.PunchClockIn, "2026-03-02T10:00:00Z"),
	}

	_, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.Error(t, err)
	var derivation *app_errors.DerivationError
	require.ErrorAs(t, err, &derivation)
	assert.Equal(t, app_errors.UnpairedEvents, derivation.Code)
}

func TestComputeSummaryClockOutWithoutInFails(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockOut, "2026-03-02T17:00:00Z"),
	}

	_, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	var derivation *app_errors.DerivationError
	require.ErrorAs(t, err, &derivation)
	assert.Equal(t, app_errors.UnpairedEvents, derivation.Code)
}

func TestComputeSummaryOpenClockInIsProvisional(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:00:00Z"),
	}

	summary, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.NoError(t, err)
	assert.True(t, summary.InProgress)
	assert.Equal(t, 0, summary.RegularMinutes+summary.OvertimeMinutes)
	assert.False(t, summary.EarlyDeparture)
}

func TestComputeSummaryOrphanBreakFlagged(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchBreakStart, "2026-03-02T08:00:00Z"),
		punch(t, models.PunchClockIn, "2026-03-02T09:00:00Z"),
		punch(t, models.PunchClockOut, "2026-03-02T17:00:00Z"),
	}

	summary, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.NoError(t, err)
	assert.True(t, summary.PolicyViolation)
	// The orphan break is never subtracted.
	assert.Equal(t, 480, summary.RegularMinutes+summary.OvertimeMinutes)
	assert.Equal(t, 0, summary.BreakMinutes)
}

func TestComputeSummaryNightWindowWrapsMidnight(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()
	policy.RoundingRule = models.RoundNearestMinute
	shift := &models.ShiftTemplate{ID: "night", Name: "Night shift", StartMinute: 21 * 60, EndMinute: 29 * 60, FlexibleHours: true}

	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T21:00:00Z"),
		punch(t, models.PunchClockOut, "2026-03-03T05:00:00Z"),
	}

	summary, err := engine.ComputeSummary(records, policy, shift)
	require.NoError(t, err)
	// 22:00-05:00 of the worked span falls inside the 22:00-06:00 window.
	assert.Equal(t, 420, summary.NightDiffMinutes)
	assert.Equal(t, 480, summary.RegularMinutes)
	assert.Equal(t, 0, summary.OvertimeMinutes)
}

func TestComputeSummaryNightOvertimeOverlap(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()
	policy.RoundingRule = models.RoundNearestMinute

	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T14:00:00Z"),
		punch(t, models.PunchClockOut, "2026-03-02T23:00:00Z"),
	}

	summary, err := engine.ComputeSummary(records, policy, baseShift())
	require.NoError(t, err)
	assert.Equal(t, 480, summary.RegularMinutes)
	assert.Equal(t, 60, summary.OvertimeMinutes)
	assert.Equal(t, 60, summary.NightDiffMinutes)
	// The 22:00-23:00 hour is both overtime and night work; it stacks
	// multiplicatively downstream, so it is reported once here.
	assert.Equal(t, 60, summary.NightOvertimeMinutes)
}

func TestComputeSummaryLateAndEarlyFlags(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:20:00Z"),
		punch(t, models.PunchClockOut, "2026-03-02T17:30:00Z"),
	}

	summary, err := engine.ComputeSummary(records, basePolicy(), baseShift())
	require.NoError(t, err)
	assert.True(t, summary.LateArrival)
	assert.True(t, summary.EarlyDeparture)

	flexible := baseShift()
	flexible.FlexibleHours = true
	summary, err = engine.ComputeSummary(records, basePolicy(), flexible)
	require.NoError(t, err)
	assert.False(t, summary.LateArrival)
	assert.False(t, summary.EarlyDeparture)
}

func TestComputeWeekSummaryWeeklyThreshold(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()
	policy.WeeklyThresholdMinutes = 2400 // 40h

	// Five 9-hour days: each has 1h of daily overtime, 45h total.
	days := make([]WorkSummary, 0, 5)
	for i := 0; i < 5; i++ {
		days = append(days, WorkSummary{
			EmployeeID:      "emp-1",
			RegularMinutes:  480,
			OvertimeMinutes: 60,
		})
	}

	week, err := engine.ComputeWeekSummary(days, policy)
	require.NoError(t, err)
	// 45h worked, 40h threshold: 5h weekly overtime. Daily overtime
	// already claimed 5h, so no minute is counted twice.
	assert.Equal(t, 300, week.OvertimeMinutes)
	assert.Equal(t, 2400, week.RegularMinutes)
}

func TestComputeWeekSummaryDailyOvertimeIsFloor(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()

	// 38h total with 2h of daily overtime: under the weekly threshold,
	// but the daily overtime stands.
	days := []WorkSummary{
		{RegularMinutes: 480, OvertimeMinutes: 120},
		{RegularMinutes: 480},
		{RegularMinutes: 480},
		{RegularMinutes: 360},
		{RegularMinutes: 360},
	}

	week, err := engine.ComputeWeekSummary(days, policy)
	require.NoError(t, err)
	assert.Equal(t, 120, week.OvertimeMinutes)
	assert.Equal(t, 2160, week.RegularMinutes)
}

func TestComputeWeekSummaryCarryoverCap(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()
	policy.CarryoverCapMinutes = 180 // bank at most 3h as comp time

	days := []WorkSummary{
		{RegularMinutes: 480, OvertimeMinutes: 240},
		{RegularMinutes: 480, OvertimeMinutes: 60},
	}

	week, err := engine.ComputeWeekSummary(days, policy)
	require.NoError(t, err)
	assert.Equal(t, 300, week.OvertimeMinutes)
	assert.Equal(t, 180, week.BankedOvertimeMinutes)
	assert.Equal(t, 120, week.PaidOvertimeMinutes)

	// Without a cap nothing is banked; all overtime is paid out.
	policy.CarryoverCapMinutes = 0
	week, err = engine.ComputeWeekSummary(days, policy)
	require.NoError(t, err)
	assert.Zero(t, week.BankedOvertimeMinutes)
	assert.Equal(t, 300, week.PaidOvertimeMinutes)
}

func TestComputeSummaryMissingPolicyOrShift(t *testing.T) {
	engine := NewEngine()
	records := []models.AttendanceRecord{
		punch(t, models.PunchClockIn, "2026-03-02T09:00:00Z"),
	}

	_, err := engine.ComputeSummary(records, nil, baseShift())
	var derivation *app_errors.DerivationError
	require.ErrorAs(t, err, &derivation)
	assert.Equal(t, app_errors.MissingPolicy, derivation.Code)

	_, err = engine.ComputeSummary(records, basePolicy(), nil)
	require.ErrorAs(t, err, &derivation)
	assert.Equal(t, app_errors.MissingShiftTemplate, derivation.Code)
}

func TestComputeSummaryEmptyRecords(t *testing.T) {
	engine := NewEngine()
	summary, err := engine.ComputeSummary(nil, basePolicy(), baseShift())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RegularMinutes)
	assert.Equal(t, 0, summary.OvertimeMinutes)
	assert.False(t, summary.InProgress)
}
