package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Weekday bits for RecurringPattern.DaysOfWeek. Bit 0 is Sunday.
const (
	WeekdaySunday int16 = 1 << iota
	WeekdayMonday
	WeekdayTuesday
	WeekdayWednesday
	WeekdayThursday
	WeekdayFriday
	WeekdaySaturday
)

const allWeekdayBits = WeekdaySunday | WeekdayMonday | WeekdayTuesday |
	WeekdayWednesday | WeekdayThursday | WeekdayFriday | WeekdaySaturday

// WeekdayBit maps a time.Weekday onto the DaysOfWeek bitmask.
func WeekdayBit(wd time.Weekday) int16 {
	return 1 << int16(wd)
}

// RecurringPattern is the abstract recurrence rule governing a block series.
// Concrete intervals and exceptions reference it through SeriesID.
type RecurringPattern struct {
	bun.BaseModel `bun:"table:recurring_patterns"`

	ID               uuid.UUID  `bun:"id,pk,type:uuid"`
	TenantID         string     `bun:"tenant_id,notnull"`
	SeriesID         uuid.UUID  `bun:"series_id,notnull,type:uuid"`
	ClinicID         uuid.UUID  `bun:"clinic_id,notnull,type:uuid"`
	ProfessionalID   *uuid.UUID `bun:"professional_id,type:uuid"`
	Frequency        Frequency  `bun:"frequency,notnull"`
	Interval         int        `bun:"interval,notnull"`
	DaysOfWeek       int16      `bun:"days_of_week,notnull"`
	DayOfMonth       int        `bun:"day_of_month,notnull"`
	StartDate        time.Time  `bun:"start_date,notnull"`
	EndDate          *time.Time `bun:"end_date"`
	OccurrencesCount *int       `bun:"occurrences_count"`
	EffectiveEndDate *time.Time `bun:"effective_end_date"`
	StartMinute      int        `bun:"start_minute,notnull"`
	EndMinute        int        `bun:"end_minute,notnull"`
	BlockType        BlockType  `bun:"block_type,notnull"`
	Reason           string     `bun:"reason"`
	IsActive         bool       `bun:"is_active,notnull"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
}

func (p *RecurringPattern) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if p.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			p.ID = id
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		p.UpdatedAt = now
	}
	return nil
}

// EffectiveUpperBound returns the last date the pattern may produce, clamped
// to rangeEnd. EffectiveEndDate always wins over EndDate when both are set.
func (p RecurringPattern) EffectiveUpperBound(rangeEnd time.Time) time.Time {
	upper := DateOnly(rangeEnd)
	if p.EndDate != nil && DateOnly(*p.EndDate).Before(upper) {
		upper = DateOnly(*p.EndDate)
	}
	if p.EffectiveEndDate != nil && DateOnly(*p.EffectiveEndDate).Before(upper) {
		upper = DateOnly(*p.EffectiveEndDate)
	}
	return upper
}
