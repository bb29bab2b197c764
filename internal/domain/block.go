package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BlockType string

const (
	BlockTypeUnavailable BlockType = "unavailable"
	BlockTypeHoliday     BlockType = "holiday"
	BlockTypeVacation    BlockType = "vacation"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeUnavailable, BlockTypeHoliday, BlockTypeVacation:
		return true
	}
	return false
}

// BlockedInterval is one materialized blocked time range. A nil
// ProfessionalID blocks the whole site. Recurring rows carry the series id
// and act as stable mutation handles; one-off rows stand alone.
type BlockedInterval struct {
	bun.BaseModel `bun:"table:blocked_intervals"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid"`
	TenantID       string     `bun:"tenant_id,notnull"`
	ClinicID       uuid.UUID  `bun:"clinic_id,notnull,type:uuid"`
	ProfessionalID *uuid.UUID `bun:"professional_id,type:uuid"`
	Date           time.Time  `bun:"date,notnull"`
	StartMinute    int        `bun:"start_minute,notnull"`
	EndMinute      int        `bun:"end_minute,notnull"`
	BlockType      BlockType  `bun:"block_type,notnull"`
	Reason         string     `bun:"reason"`
	IsRecurring    bool       `bun:"is_recurring,notnull"`
	SeriesID       *uuid.UUID `bun:"series_id,type:uuid"`
	PatternID      *uuid.UUID `bun:"pattern_id,type:uuid"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func (b *BlockedInterval) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// EffectiveBlock is the overlay-resolved view of one blocked range, as
// consumed by the booking workflow.
type EffectiveBlock struct {
	SeriesID       *uuid.UUID
	IntervalID     *uuid.UUID
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	Date           time.Time
	StartMinute    int
	EndMinute      int
	BlockType      BlockType
	Reason         string
}
