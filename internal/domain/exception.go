package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ExceptionKind string

const (
	ExceptionKindDeleted  ExceptionKind = "deleted"
	ExceptionKindModified ExceptionKind = "modified"
)

// BlockException overrides one occurrence of a series. At most one row may
// exist per (series_id, original_date).
type BlockException struct {
	bun.BaseModel `bun:"table:block_exceptions"`

	ID                uuid.UUID     `bun:"id,pk,type:uuid"`
	TenantID          string        `bun:"tenant_id,notnull"`
	PatternID         *uuid.UUID    `bun:"pattern_id,type:uuid"`
	SeriesID          uuid.UUID     `bun:"series_id,notnull,type:uuid"`
	OriginalDate      time.Time     `bun:"original_date,notnull"`
	Kind              ExceptionKind `bun:"kind,notnull"`
	Reason            string        `bun:"reason"`
	OverrideStart     *int          `bun:"override_start_minute"`
	OverrideEnd       *int          `bun:"override_end_minute"`
	OverrideBlockType *BlockType    `bun:"override_block_type"`
	CreatedAt         time.Time     `bun:"created_at,notnull"`
	UpdatedAt         time.Time     `bun:"updated_at,notnull"`
}

func (e *BlockException) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

// HasOverride reports whether a modified exception actually changes anything.
func (e BlockException) HasOverride() bool {
	return e.OverrideStart != nil || e.OverrideEnd != nil || e.OverrideBlockType != nil
}

// Validate enforces the exception invariants that hold regardless of store:
// a modified exception must override at least one field, and a deleted one
// must not carry overrides.
func (e BlockException) Validate() error {
	switch e.Kind {
	case ExceptionKindDeleted:
		if e.HasOverride() {
			return errors.New("deleted exception must not carry overrides")
		}
	case ExceptionKindModified:
		if !e.HasOverride() {
			return errors.New("modified exception requires at least one override field")
		}
	default:
		return errors.New("unsupported exception kind")
	}
	if e.SeriesID == uuid.Nil {
		return errors.New("series_id is required")
	}
	return nil
}
