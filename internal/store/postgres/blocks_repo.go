package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"agendia/backend/internal/domain"
	"agendia/backend/internal/store"
)

type BlockRepo struct {
	db *bun.DB
}

func NewBlockRepo(db *bun.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

type seriesTx struct {
	tx bun.Tx
}

func (r *BlockRepo) CreateInterval(ctx context.Context, interval domain.BlockedInterval) (domain.BlockedInterval, error) {
	var out domain.BlockedInterval
	err := r.InTenantTransaction(ctx, interval.TenantID, func(ctx context.Context, tx store.SeriesTx) error {
		row, err := tx.InsertInterval(ctx, interval)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return domain.BlockedInterval{}, err
	}
	return out, nil
}

func (r *BlockRepo) CreateRecurringSeries(ctx context.Context, pattern domain.RecurringPattern, horizonEnd time.Time) (domain.RecurringPattern, error) {
	var out domain.RecurringPattern
	err := r.InTenantTransaction(ctx, pattern.TenantID, func(ctx context.Context, tx store.SeriesTx) error {
		m, err := tx.InsertPattern(ctx, pattern)
		if err != nil {
			return err
		}

		intervals, err := domain.MaterializeIntervals(m, nil, m.StartDate, horizonEnd)
		if err != nil {
			return err
		}
		if err := tx.InsertIntervals(ctx, intervals); err != nil {
			return err
		}

		out = m
		return nil
	})
	if err != nil {
		return domain.RecurringPattern{}, err
	}
	return out, nil
}

// QueryEffectiveBlocks merges one-off blocked intervals with expand-and-
// overlay results from every active pattern in scope. Recurring concrete
// rows are deliberately not a query source: the pattern plus its exceptions
// stay authoritative past the materialized horizon and through truncations.
func (r *BlockRepo) QueryEffectiveBlocks(ctx context.Context, q store.EffectiveBlockQuery) ([]domain.EffectiveBlock, error) {
	rangeStart := domain.DateOnly(q.RangeStart)
	rangeEnd := domain.DateOnly(q.RangeEnd)

	var singles []domain.BlockedInterval
	query := r.db.NewSelect().
		Model(&singles).
		Where("tenant_id = ?", q.TenantID).
		Where("clinic_id = ?", q.ClinicID).
		Where("is_recurring = FALSE").
		Where("date >= ?", rangeStart).
		Where("date <= ?", rangeEnd)
	if q.ProfessionalID != nil {
		query = query.Where("(professional_id IS NULL OR professional_id = ?)", *q.ProfessionalID)
	}
	if err := query.OrderExpr("date ASC, start_minute ASC").Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.EffectiveBlock, 0, len(singles))
	for _, b := range singles {
		b := b
		out = append(out, domain.EffectiveBlock{
			IntervalID:     &b.ID,
			ClinicID:       b.ClinicID,
			ProfessionalID: b.ProfessionalID,
			Date:           b.Date,
			StartMinute:    b.StartMinute,
			EndMinute:      b.EndMinute,
			BlockType:      b.BlockType,
			Reason:         b.Reason,
		})
	}

	var patterns []domain.RecurringPattern
	pq := r.db.NewSelect().
		Model(&patterns).
		Where("tenant_id = ?", q.TenantID).
		Where("clinic_id = ?", q.ClinicID).
		Where("is_active = TRUE").
		Where("start_date <= ?", rangeEnd)
	if q.ProfessionalID != nil {
		pq = pq.Where("(professional_id IS NULL OR professional_id = ?)", *q.ProfessionalID)
	}
	if err := pq.Scan(ctx); err != nil {
		return nil, err
	}

	for _, p := range patterns {
		var exs []domain.BlockException
		err := r.db.NewSelect().
			Model(&exs).
			Where("tenant_id = ?", q.TenantID).
			Where("series_id = ?", p.SeriesID).
			Where("original_date >= ?", rangeStart).
			Where("original_date <= ?", rangeEnd).
			Scan(ctx)
		if err != nil {
			return nil, err
		}

		blocks, err := domain.ResolveEffectiveBlocks(p, exs, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, blocks...)
	}

	domain.SortEffectiveBlocks(out)
	return out, nil
}

func (r *BlockRepo) ListActivePatterns(ctx context.Context) ([]domain.RecurringPattern, error) {
	var patterns []domain.RecurringPattern
	err := r.db.NewSelect().
		Model(&patterns).
		Where("is_active = TRUE").
		OrderExpr("tenant_id ASC, series_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

func (r *BlockRepo) InTenantTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx store.SeriesTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTenantSchedule(ctx, tx, tenantID); err != nil {
			return err
		}
		return fn(ctx, seriesTx{tx: tx})
	})
}

// lockTenantSchedule serializes all schedule mutations for one tenant within
// the surrounding transaction.
func lockTenantSchedule(ctx context.Context, tx bun.Tx, tenantID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", tenantID).Exec(ctx)
	return err
}

func (t seriesTx) InsertInterval(ctx context.Context, interval domain.BlockedInterval) (domain.BlockedInterval, error) {
	m := interval
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.BlockedInterval{}, err
	}
	return m, nil
}

func (t seriesTx) InsertPattern(ctx context.Context, pattern domain.RecurringPattern) (domain.RecurringPattern, error) {
	m := pattern
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.RecurringPattern{}, err
	}
	return m, nil
}

func (t seriesTx) GetInterval(ctx context.Context, tenantID string, intervalID uuid.UUID) (domain.BlockedInterval, error) {
	var row domain.BlockedInterval
	err := t.tx.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", intervalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BlockedInterval{}, store.ErrNotFound
		}
		return domain.BlockedInterval{}, err
	}
	return row, nil
}

func (t seriesTx) DeleteInterval(ctx context.Context, tenantID string, intervalID uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.BlockedInterval)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", intervalID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t seriesTx) DeleteSeriesIntervalsFrom(ctx context.Context, tenantID string, seriesID uuid.UUID, from time.Time) (int64, error) {
	res, err := t.tx.NewDelete().
		Model((*domain.BlockedInterval)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Where("date >= ?", domain.DateOnly(from)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t seriesTx) DeleteSeriesIntervals(ctx context.Context, tenantID string, seriesID uuid.UUID) (int64, error) {
	res, err := t.tx.NewDelete().
		Model((*domain.BlockedInterval)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t seriesTx) InsertIntervals(ctx context.Context, intervals []domain.BlockedInterval) error {
	if len(intervals) == 0 {
		return nil
	}
	_, err := t.tx.NewInsert().Model(&intervals).Exec(ctx)
	return err
}

func (t seriesTx) GetPatternBySeries(ctx context.Context, tenantID string, seriesID uuid.UUID) (domain.RecurringPattern, error) {
	var row domain.RecurringPattern
	err := t.tx.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RecurringPattern{}, store.ErrNotFound
		}
		return domain.RecurringPattern{}, err
	}
	return row, nil
}

func (t seriesTx) UpdatePattern(ctx context.Context, pattern domain.RecurringPattern) error {
	res, err := t.tx.NewUpdate().
		Model(&pattern).
		WherePK().
		Where("tenant_id = ?", pattern.TenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t seriesTx) FindException(ctx context.Context, tenantID string, seriesID uuid.UUID, originalDate time.Time) (domain.BlockException, error) {
	var row domain.BlockException
	err := t.tx.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Where("original_date = ?", domain.DateOnly(originalDate)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BlockException{}, store.ErrNotFound
		}
		return domain.BlockException{}, err
	}
	return row, nil
}

func (t seriesTx) InsertException(ctx context.Context, ex domain.BlockException) (domain.BlockException, error) {
	m := ex
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.BlockException{}, store.ErrConflict
		}
		return domain.BlockException{}, err
	}
	return m, nil
}

func (t seriesTx) ListSeriesExceptions(ctx context.Context, tenantID string, seriesID uuid.UUID) ([]domain.BlockException, error) {
	var rows []domain.BlockException
	err := t.tx.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		OrderExpr("original_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t seriesTx) DeleteSeriesExceptionsFrom(ctx context.Context, tenantID string, seriesID uuid.UUID, from time.Time) (int64, error) {
	res, err := t.tx.NewDelete().
		Model((*domain.BlockException)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Where("original_date >= ?", domain.DateOnly(from)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t seriesTx) DeleteSeriesExceptions(ctx context.Context, tenantID string, seriesID uuid.UUID) (int64, error) {
	res, err := t.tx.NewDelete().
		Model((*domain.BlockException)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t seriesTx) LastSeriesDate(ctx context.Context, tenantID string, seriesID uuid.UUID) (time.Time, error) {
	var last time.Time
	err := t.tx.NewSelect().
		Model((*domain.BlockedInterval)(nil)).
		ColumnExpr("COALESCE(MAX(date), 'epoch'::date)").
		Where("tenant_id = ?", tenantID).
		Where("series_id = ?", seriesID).
		Scan(ctx, &last)
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}
