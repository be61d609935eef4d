// Package policy computes derived labor metrics from ordered punch
// records. The engine is a pure function of its inputs: no I/O, no clock
// reads, integer-minute arithmetic only, so historical summaries can be
// recomputed bit-identically if policy bugs are fixed.
package policy

import (
	"fmt"
	"time"

	app_errors "attend-sync/internal/errors"
	"attend-sync/internal/models"
)

// WorkSummary is derived, never persisted as source of truth; it is
// recomputed deterministically from the record set and policy.
type WorkSummary struct {
	EmployeeID      string `json:"employee_id"`
	Date            string `json:"date"`
	RegularMinutes  int    `json:"regular_minutes"`
	OvertimeMinutes int    `json:"overtime_minutes"`
	// NightDiffMinutes counts minutes inside the night window regardless
	// of overtime status.
	NightDiffMinutes int `json:"night_diff_minutes"`
	// NightOvertimeMinutes counts minutes that qualify as both overtime
	// and night differential. The two multipliers stack multiplicatively
	// (rate * overtimeMultiplier * nightDiffMultiplier), not additively.
	NightOvertimeMinutes int  `json:"night_overtime_minutes"`
	BreakMinutes         int  `json:"break_minutes"`
	LateArrival          bool `json:"late_arrival"`
	EarlyDeparture       bool `json:"early_departure"`
	InProgress           bool `json:"in_progress"`
	PolicyViolation      bool `json:"policy_violation"`
}

// WeekSummary aggregates day summaries under the weekly overtime rule.
type WeekSummary struct {
	EmployeeID       string `json:"employee_id"`
	StartDate        string `json:"start_date"`
	RegularMinutes   int    `json:"regular_minutes"`
	OvertimeMinutes  int    `json:"overtime_minutes"`
	NightDiffMinutes int    `json:"night_diff_minutes"`
	BreakMinutes     int    `json:"break_minutes"`
	// BankedOvertimeMinutes is the portion of weekly overtime banked as
	// compensatory time, bounded by the policy carryover cap. The excess
	// is reported as PaidOvertimeMinutes.
	BankedOvertimeMinutes int           `json:"banked_overtime_minutes"`
	PaidOvertimeMinutes   int           `json:"paid_overtime_minutes"`
	Days                  []WorkSummary `json:"days"`
}

// Engine computes summaries. It holds no state and is safe for concurrent
// use across employees.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

type interval struct {
	start time.Time
	end   time.Time
}

func (iv interval) minutes() int {
	seconds := int(iv.end.Sub(iv.start).Seconds())
	if seconds <= 0 {
		return 0
	}
	return (seconds + 30) / 60
}

// ComputeSummary derives a day's WorkSummary from that employee's ordered
// records under the policy version active at their timestamps. Records in
// Rejected or Superseded state must be excluded by the caller. A trailing
// open ClockIn yields a provisional summary flagged InProgress whose
// worked span ends at the latest record timestamp in the set.
func (e *Engine) ComputeSummary(records []models.AttendanceRecord, policy *models.OvertimePolicy, shift *models.ShiftTemplate) (*WorkSummary, error) {
	if policy == nil {
		return nil, app_errors.NewDerivationError(app_errors.MissingPolicy, "no overtime policy supplied")
	}
	if shift == nil {
		return nil, app_errors.NewDerivationError(app_errors.MissingShiftTemplate, "no shift template supplied")
	}

	summary := &WorkSummary{}
	if len(records) == 0 {
		return summary, nil
	}
	summary.EmployeeID = records[0].EmployeeID
	summary.Date = records[0].Timestamp.UTC().Format("2006-01-02")

	worked, breaks, flags, err := pairEvents(records)
	if err != nil {
		return nil, err
	}
	summary.InProgress = flags.inProgress
	summary.PolicyViolation = flags.orphanBreak

	// Subtract paired break intervals from the worked span. Breaks outside
	// any open clock pair were flagged above and are not subtracted.
	net := subtractBreaks(worked, breaks)

	workedMinutes := 0
	for _, iv := range net {
		workedMinutes += iv.minutes()
	}
	breakMinutes := 0
	for _, iv := range breaks {
		breakMinutes += iv.minutes()
	}
	summary.BreakMinutes = breakMinutes

	rounded := applyRounding(workedMinutes, policy.RoundingRule)

	// Daily overtime split.
	regular := rounded
	overtime := 0
	if policy.DailyThresholdMinutes > 0 && rounded > policy.DailyThresholdMinutes {
		regular = policy.DailyThresholdMinutes
		overtime = rounded - policy.DailyThresholdMinutes
	}
	summary.RegularMinutes = regular
	summary.OvertimeMinutes = overtime

	// Night differential is tagged regardless of overtime status.
	night := nightMinutes(net, policy)
	summary.NightDiffMinutes = night
	if night < overtime {
		summary.NightOvertimeMinutes = night
	} else {
		summary.NightOvertimeMinutes = overtime
	}

	applyShiftFlags(summary, worked, shift, flags.inProgress)
	return summary, nil
}

// ComputeWeekSummary aggregates day summaries and applies the weekly
// overtime threshold. Daily overtime is a floor on weekly overtime:
// minutes already classified as daily overtime are never counted again,
// only the excess attributable to the weekly rule is reclassified from
// regular time.
func (e *Engine) ComputeWeekSummary(days []WorkSummary, policy *models.OvertimePolicy) (*WeekSummary, error) {
	if policy == nil {
		return nil, app_errors.NewDerivationError(app_errors.MissingPolicy, "no overtime policy supplied")
	}

	week := &WeekSummary{Days: days}
	if len(days) > 0 {
		week.EmployeeID = days[0].EmployeeID
		week.StartDate = days[0].Date
	}

	totalWorked := 0
	dailyOvertime := 0
	for _, d := range days {
		totalWorked += d.RegularMinutes + d.OvertimeMinutes
		dailyOvertime += d.OvertimeMinutes
		week.NightDiffMinutes += d.NightDiffMinutes
		week.BreakMinutes += d.BreakMinutes
	}

	weeklyOvertime := 0
	if policy.WeeklyThresholdMinutes > 0 && totalWorked > policy.WeeklyThresholdMinutes {
		weeklyOvertime = totalWorked - policy.WeeklyThresholdMinutes
	}
	if weeklyOvertime < dailyOvertime {
		weeklyOvertime = dailyOvertime
	}

	week.OvertimeMinutes = weeklyOvertime
	week.RegularMinutes = totalWorked - weeklyOvertime

	week.PaidOvertimeMinutes = weeklyOvertime
	if policy.CarryoverCapMinutes > 0 {
		banked := weeklyOvertime
		if banked > policy.CarryoverCapMinutes {
			banked = policy.CarryoverCapMinutes
		}
		week.BankedOvertimeMinutes = banked
		week.PaidOvertimeMinutes = weeklyOvertime - banked
	}
	return week, nil
}

type pairingFlags struct {
	inProgress  bool
	orphanBreak bool
}

// pairEvents walks the ordered record sequence and pairs ClockIn/ClockOut
// and BreakStart/BreakEnd chronologically. Pairing violations surface as
// DerivationError, never as an approximated summary.
func pairEvents(records []models.AttendanceRecord) (worked, breaks []interval, flags pairingFlags, err error) {
	var openClock *time.Time
	var openBreak *time.Time
	var lastTimestamp time.Time

	for i := range records {
		rec := &records[i]
		ts := rec.Timestamp
		if ts.Before(lastTimestamp) {
			return nil, nil, flags, app_errors.NewDerivationError(app_errors.UnpairedEvents,
				fmt.Sprintf("records out of order at %s", rec.ID))
		}
		lastTimestamp = ts

		switch rec.Type {
		case models.PunchClockIn:
			if openClock != nil {
				return nil, nil, flags, app_errors.NewDerivationError(app_errors.UnpairedEvents,
					"clock-in while a clock pair is already open")
			}
			openClock = &ts

		case models.PunchClockOut:
			if openClock == nil {
				return nil, nil, flags, app_errors.NewDerivationError(app_errors.UnpairedEvents,
					"clock-out without a matching clock-in")
			}
			if openBreak != nil {
				// A break left open at clock-out is a policy violation;
				// the break is discarded, not subtracted.
				flags.orphanBreak = true
				openBreak = nil
			}
			worked = append(worked, interval{start: *openClock, end: ts})
			openClock = nil

		case models.PunchBreakStart:
			if openClock == nil {
				// Break outside any open clock pair: flagged, never
				// silently dropped, never subtracted.
				flags.orphanBreak = true
				continue
			}
			if openBreak != nil {
				return nil, nil, flags, app_errors.NewDerivationError(app_errors.UnpairedEvents,
					"break-start while a break is already open")
			}
			openBreak = &ts

		case models.PunchBreakEnd:
			if openBreak == nil {
				flags.orphanBreak = true
				continue
			}
			breaks = append(breaks, interval{start: *openBreak, end: ts})
			openBreak = nil

		default:
			return nil, nil, flags, app_errors.NewDerivationError(app_errors.UnpairedEvents,
				fmt.Sprintf("unknown punch type %q", rec.Type))
		}
	}

	if openBreak != nil {
		flags.orphanBreak = true
	}
	if openClock != nil {
		// Still clocked in: provisional span up to the latest record.
		flags.inProgress = true
		if lastTimestamp.After(*openClock) {
			worked = append(worked, interval{start: *openClock, end: lastTimestamp})
		}
	}
	return worked, breaks, flags, nil
}

// subtractBreaks removes break intervals from worked intervals.
func subtractBreaks(worked, breaks []interval) []interval {
	net := make([]interval, 0, len(worked))
	net = append(net, worked...)
	for _, br := range breaks {
		next := make([]interval, 0, len(net)+1)
		for _, w := range net {
			if br.end.Before(w.start) || !br.start.Before(w.end) {
				next = append(next, w)
				continue
			}
			if br.start.After(w.start) {
				next = append(next, interval{start: w.start, end: br.start})
			}
			if br.end.Before(w.end) {
				next = append(next, interval{start: br.end, end: w.end})
			}
		}
		net = next
	}
	return net
}

// applyRounding rounds total worked minutes per the policy rule.
// Quarter-hour mode rounds half-up, so 7.5 minutes of remainder rounds to
// the next quarter.
func applyRounding(minutes int, rule string) int {
	switch rule {
	case models.RoundQuarterHour:
		return ((minutes + 7) / 15) * 15
	default: // nearest minute: interval math already rounds to minutes
		return minutes
	}
}

// nightMinutes counts worked minutes inside the policy night window. The
// window wraps midnight when NightStartMinute > NightEndMinute.
func nightMinutes(net []interval, policy *models.OvertimePolicy) int {
	if policy.NightDiffMultiplier <= 1 && policy.NightStartMinute == policy.NightEndMinute {
		return 0
	}
	count := 0
	for _, iv := range net {
		for t := iv.start.Truncate(time.Minute); t.Before(iv.end); t = t.Add(time.Minute) {
			m := t.UTC().Hour()*60 + t.UTC().Minute()
			if inNightWindow(m, policy.NightStartMinute, policy.NightEndMinute) {
				count++
			}
		}
	}
	return count
}

func inNightWindow(minute, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	// Wrapping window, e.g. 22:00-06:00.
	return minute >= start || minute < end
}

// applyShiftFlags sets late-arrival and early-departure flags against the
// scheduled shift. Flexible-hours shifts are exempt.
func applyShiftFlags(summary *WorkSummary, worked []interval, shift *models.ShiftTemplate, inProgress bool) {
	if shift.FlexibleHours || len(worked) == 0 {
		return
	}

	first := worked[0].start.UTC()
	arrival := first.Hour()*60 + first.Minute()
	if arrival > shift.StartMinute {
		summary.LateArrival = true
	}

	if !inProgress {
		last := worked[len(worked)-1].end.UTC()
		departure := last.Hour()*60 + last.Minute()
		end := shift.EndMinute
		if end >= 1440 {
			end -= 1440
			// Shift crosses midnight; departure on the next day compares
			// against the wrapped end minute.
		}
		if departure < end {
			summary.EarlyDeparture = true
		}
	}
}
