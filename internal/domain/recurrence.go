package domain

import (
	"errors"
	"time"
)

// DateOnly normalizes t to midnight UTC. All occurrence arithmetic works on
// civil dates represented this way.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStartSunday returns the Sunday of t's week.
func WeekStartSunday(t time.Time) time.Time {
	d := DateOnly(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDayToMonth builds the date for day-of-month `day` in the given month,
// clamping to the month's last day when the month is shorter. Jan 31 on an
// interval of one month lands on Feb 28 (29 in leap years), then Mar 31.
func ClampDayToMonth(year int, month time.Month, day int) time.Time {
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ExpandOccurrences materializes the pattern's occurrence dates that fall
// within [rangeStart, rangeEnd]. It is a pure function of its inputs and
// always terminates: expansion never runs past rangeEnd, the pattern's end
// date, its effective end date, or its occurrence count, whichever binds
// first. The occurrence count caps cumulative occurrences from the pattern's
// start date, so a window that begins mid-series still honors it.
func ExpandOccurrences(p RecurringPattern, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	interval := p.Interval
	if interval < 1 {
		return nil, errors.New("interval must be at least 1")
	}

	start := DateOnly(p.StartDate)
	from := DateOnly(rangeStart)
	upper := p.EffectiveUpperBound(rangeEnd)

	switch p.Frequency {
	case FrequencyDaily:
		return expandDaily(p, start, from, upper, interval), nil
	case FrequencyWeekly:
		if p.DaysOfWeek == 0 {
			return nil, errors.New("at least one weekday is required")
		}
		if p.DaysOfWeek&^allWeekdayBits != 0 {
			return nil, errors.New("invalid weekday")
		}
		return expandWeekly(p, start, from, upper, interval), nil
	case FrequencyMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return nil, errors.New("day_of_month must be between 1 and 31")
		}
		return expandMonthly(p, start, from, upper, interval), nil
	default:
		return nil, errors.New("unsupported recurrence frequency")
	}
}

func expandDaily(p RecurringPattern, start, from, upper time.Time, interval int) []time.Time {
	out := make([]time.Time, 0, 8)
	count := 0
	for d := start; !d.After(upper); d = d.AddDate(0, 0, interval) {
		count++
		if p.OccurrencesCount != nil && count > *p.OccurrencesCount {
			break
		}
		if !d.Before(from) {
			out = append(out, d)
		}
	}
	return out
}

func expandWeekly(p RecurringPattern, start, from, upper time.Time, interval int) []time.Time {
	out := make([]time.Time, 0, 8)
	anchor := WeekStartSunday(start)
	count := 0
	for week := 0; ; week++ {
		weekStart := anchor.AddDate(0, 0, week*interval*7)
		if weekStart.After(upper) {
			break
		}
		for wd := 0; wd < 7; wd++ {
			if p.DaysOfWeek&(1<<wd) == 0 {
				continue
			}
			d := weekStart.AddDate(0, 0, wd)
			if d.Before(start) || d.After(upper) {
				continue
			}
			count++
			if p.OccurrencesCount != nil && count > *p.OccurrencesCount {
				return out
			}
			if !d.Before(from) {
				out = append(out, d)
			}
		}
	}
	return out
}

func expandMonthly(p RecurringPattern, start, from, upper time.Time, interval int) []time.Time {
	out := make([]time.Time, 0, 8)
	firstOfStartMonth := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	count := 0
	for m := 0; ; m++ {
		monthCursor := firstOfStartMonth.AddDate(0, m*interval, 0)
		d := ClampDayToMonth(monthCursor.Year(), monthCursor.Month(), p.DayOfMonth)
		if d.After(upper) {
			break
		}
		if d.Before(start) {
			continue
		}
		count++
		if p.OccurrencesCount != nil && count > *p.OccurrencesCount {
			break
		}
		if !d.Before(from) {
			out = append(out, d)
		}
	}
	return out
}

// MaterializeIntervals builds concrete interval rows for each occurrence in
// [rangeStart, rangeEnd], skipping dates covered by a deleted exception.
// Modified exceptions do not alter the stored rows: the read path resolves
// them via the overlay, so the row keeps the pattern's defaults.
func MaterializeIntervals(p RecurringPattern, exceptions []BlockException, rangeStart, rangeEnd time.Time) ([]BlockedInterval, error) {
	dates, err := ExpandOccurrences(p, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	deleted := make(map[time.Time]struct{})
	for _, ex := range exceptions {
		if ex.Kind == ExceptionKindDeleted {
			deleted[DateOnly(ex.OriginalDate)] = struct{}{}
		}
	}

	seriesID := p.SeriesID
	patternID := p.ID
	out := make([]BlockedInterval, 0, len(dates))
	for _, d := range dates {
		if _, skip := deleted[d]; skip {
			continue
		}
		out = append(out, BlockedInterval{
			TenantID:       p.TenantID,
			ClinicID:       p.ClinicID,
			ProfessionalID: p.ProfessionalID,
			Date:           d,
			StartMinute:    p.StartMinute,
			EndMinute:      p.EndMinute,
			BlockType:      p.BlockType,
			Reason:         p.Reason,
			IsRecurring:    true,
			SeriesID:       &seriesID,
			PatternID:      &patternID,
		})
	}
	return out, nil
}
