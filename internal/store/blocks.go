package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agendia/backend/internal/domain"
)

// DefaultMaterializationHorizon bounds how far ahead concrete intervals are
// created for a new recurring series when no horizon is configured.
const DefaultMaterializationHorizon = 180 * 24 * time.Hour

// EffectiveBlockQuery selects blocked intervals for one clinic within a date
// window. A nil ProfessionalID returns every block in the clinic; a set one
// returns that professional's blocks plus site-wide blocks.
type EffectiveBlockQuery struct {
	TenantID       string
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	RangeStart     time.Time
	RangeEnd       time.Time
}

type BlockRepository interface {
	CreateInterval(ctx context.Context, interval domain.BlockedInterval) (domain.BlockedInterval, error)
	CreateRecurringSeries(ctx context.Context, pattern domain.RecurringPattern, horizonEnd time.Time) (domain.RecurringPattern, error)
	QueryEffectiveBlocks(ctx context.Context, q EffectiveBlockQuery) ([]domain.EffectiveBlock, error)
	ListActivePatterns(ctx context.Context) ([]domain.RecurringPattern, error)

	// InTenantTransaction runs fn with every mutation for the tenant
	// serialized; scoped mutations use it so their multi-step sequences are
	// atomic per tenant.
	InTenantTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx SeriesTx) error) error
}

// SeriesTx is the per-transaction surface the scoped mutation coordinator
// drives. Implementations scope every operation to the tenant passed in.
type SeriesTx interface {
	InsertInterval(ctx context.Context, interval domain.BlockedInterval) (domain.BlockedInterval, error)
	GetInterval(ctx context.Context, tenantID string, intervalID uuid.UUID) (domain.BlockedInterval, error)
	DeleteInterval(ctx context.Context, tenantID string, intervalID uuid.UUID) error
	DeleteSeriesIntervalsFrom(ctx context.Context, tenantID string, seriesID uuid.UUID, from time.Time) (int64, error)
	DeleteSeriesIntervals(ctx context.Context, tenantID string, seriesID uuid.UUID) (int64, error)
	InsertIntervals(ctx context.Context, intervals []domain.BlockedInterval) error

	InsertPattern(ctx context.Context, pattern domain.RecurringPattern) (domain.RecurringPattern, error)
	GetPatternBySeries(ctx context.Context, tenantID string, seriesID uuid.UUID) (domain.RecurringPattern, error)
	UpdatePattern(ctx context.Context, pattern domain.RecurringPattern) error

	FindException(ctx context.Context, tenantID string, seriesID uuid.UUID, originalDate time.Time) (domain.BlockException, error)
	InsertException(ctx context.Context, ex domain.BlockException) (domain.BlockException, error)
	ListSeriesExceptions(ctx context.Context, tenantID string, seriesID uuid.UUID) ([]domain.BlockException, error)
	DeleteSeriesExceptionsFrom(ctx context.Context, tenantID string, seriesID uuid.UUID, from time.Time) (int64, error)
	DeleteSeriesExceptions(ctx context.Context, tenantID string, seriesID uuid.UUID) (int64, error)

	LastSeriesDate(ctx context.Context, tenantID string, seriesID uuid.UUID) (time.Time, error)
}
