package blocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agendia/backend/internal/domain"
	"agendia/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Scope selects how much of a series a mutation affects.
type Scope string

const (
	ScopeThisOccurrence Scope = "this_occurrence"
	ScopeThisAndFuture  Scope = "this_and_future"
	ScopeAllInSeries    Scope = "all_in_series"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeThisOccurrence, ScopeThisAndFuture, ScopeAllInSeries:
		return Scope(s), nil
	}
	return "", validationError("scope must be one of this_occurrence, this_and_future, all_in_series")
}

// BlockCache is an optional read cache for effective-block queries. Errors
// degrade to the database; implementations log their own failures.
type BlockCache interface {
	Generation(ctx context.Context, tenantID string) int64
	Get(ctx context.Context, key string) ([]domain.EffectiveBlock, bool)
	Set(ctx context.Context, key string, blocks []domain.EffectiveBlock)
	Invalidate(ctx context.Context, tenantID string)
}

const maxQueryWindow = 366 * 24 * time.Hour

type Service struct {
	repo    store.BlockRepository
	cache   BlockCache
	horizon time.Duration
}

func NewService(repo store.BlockRepository, cache BlockCache, horizon time.Duration) *Service {
	if horizon <= 0 {
		horizon = store.DefaultMaterializationHorizon
	}
	return &Service{repo: repo, cache: cache, horizon: horizon}
}

type CreateBlockInput struct {
	TenantID       string
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	Date           time.Time
	StartMinute    int
	EndMinute      int
	BlockType      domain.BlockType
	Reason         string
}

func (s *Service) CreateSingleBlock(ctx context.Context, in CreateBlockInput) (domain.BlockedInterval, error) {
	if in.TenantID == "" {
		return domain.BlockedInterval{}, validationError("tenant_id is required")
	}
	if in.ClinicID == uuid.Nil {
		return domain.BlockedInterval{}, validationError("clinic_id is required")
	}
	if err := validateMinutes(in.StartMinute, in.EndMinute); err != nil {
		return domain.BlockedInterval{}, err
	}
	blockType, err := normalizeBlockType(in.BlockType)
	if err != nil {
		return domain.BlockedInterval{}, err
	}

	interval := domain.BlockedInterval{
		TenantID:       in.TenantID,
		ClinicID:       in.ClinicID,
		ProfessionalID: in.ProfessionalID,
		Date:           domain.DateOnly(in.Date),
		StartMinute:    in.StartMinute,
		EndMinute:      in.EndMinute,
		BlockType:      blockType,
		Reason:         in.Reason,
		IsRecurring:    false,
	}

	out, err := s.repo.CreateInterval(ctx, interval)
	if err != nil {
		return domain.BlockedInterval{}, err
	}
	s.invalidate(ctx, in.TenantID)
	return out, nil
}

type RecurrenceInput struct {
	Frequency        domain.Frequency
	Interval         int
	DaysOfWeek       int16
	DayOfMonth       int
	StartDate        time.Time
	EndDate          *time.Time
	OccurrencesCount *int
}

type CreateRecurringBlockInput struct {
	TenantID       string
	ClinicID       uuid.UUID
	ProfessionalID *uuid.UUID
	Recurrence     RecurrenceInput
	StartMinute    int
	EndMinute      int
	BlockType      domain.BlockType
	Reason         string
}

func (s *Service) CreateRecurringBlock(ctx context.Context, in CreateRecurringBlockInput) (domain.RecurringPattern, error) {
	if in.TenantID == "" {
		return domain.RecurringPattern{}, validationError("tenant_id is required")
	}
	if in.ClinicID == uuid.Nil {
		return domain.RecurringPattern{}, validationError("clinic_id is required")
	}
	if err := validateMinutes(in.StartMinute, in.EndMinute); err != nil {
		return domain.RecurringPattern{}, err
	}
	blockType, err := normalizeBlockType(in.BlockType)
	if err != nil {
		return domain.RecurringPattern{}, err
	}
	rule, err := normalizeRecurrence(in.Recurrence)
	if err != nil {
		return domain.RecurringPattern{}, err
	}

	seriesID, err := uuid.NewV7()
	if err != nil {
		return domain.RecurringPattern{}, err
	}

	pattern := domain.RecurringPattern{
		TenantID:         in.TenantID,
		SeriesID:         seriesID,
		ClinicID:         in.ClinicID,
		ProfessionalID:   in.ProfessionalID,
		Frequency:        rule.Frequency,
		Interval:         rule.Interval,
		DaysOfWeek:       rule.DaysOfWeek,
		DayOfMonth:       rule.DayOfMonth,
		StartDate:        domain.DateOnly(rule.StartDate),
		EndDate:          rule.EndDate,
		OccurrencesCount: rule.OccurrencesCount,
		StartMinute:      in.StartMinute,
		EndMinute:        in.EndMinute,
		BlockType:        blockType,
		Reason:           in.Reason,
		IsActive:         true,
	}

	horizonEnd := pattern.StartDate.Add(s.horizon)
	occs, err := domain.ExpandOccurrences(pattern, pattern.StartDate, horizonEnd)
	if err != nil {
		return domain.RecurringPattern{}, validationError(err.Error())
	}
	if len(occs) == 0 {
		return domain.RecurringPattern{}, validationError("recurrence produces no occurrences")
	}

	out, err := s.repo.CreateRecurringSeries(ctx, pattern, horizonEnd)
	if err != nil {
		return domain.RecurringPattern{}, err
	}
	s.invalidate(ctx, in.TenantID)
	return out, nil
}

func (s *Service) QueryEffectiveBlocks(ctx context.Context, q store.EffectiveBlockQuery) ([]domain.EffectiveBlock, error) {
	if q.TenantID == "" {
		return nil, validationError("tenant_id is required")
	}
	if q.ClinicID == uuid.Nil {
		return nil, validationError("clinic_id is required")
	}
	start := domain.DateOnly(q.RangeStart)
	end := domain.DateOnly(q.RangeEnd)
	if end.Before(start) {
		return nil, validationError("range_end must not be before range_start")
	}
	if end.Sub(start) > maxQueryWindow {
		return nil, validationError("query window too large")
	}
	q.RangeStart = start
	q.RangeEnd = end

	key := s.cacheKey(ctx, q)
	if key != "" {
		if blocks, ok := s.cache.Get(ctx, key); ok {
			return blocks, nil
		}
	}

	blocks, err := s.repo.QueryEffectiveBlocks(ctx, q)
	if err != nil {
		return nil, err
	}
	if key != "" {
		s.cache.Set(ctx, key, blocks)
	}
	return blocks, nil
}

// DeleteOrModify is the scoped mutation coordinator: every scope runs as one
// tenant-serialized transaction, with bulk deletes ordered before pattern
// truncation so an interrupted run leaves extra rows rather than a silently
// shortened pattern.
func (s *Service) DeleteOrModify(ctx context.Context, tenantID string, intervalID uuid.UUID, scope Scope, reason string) error {
	if tenantID == "" {
		return validationError("tenant_id is required")
	}
	if intervalID == uuid.Nil {
		return validationError("interval_id is required")
	}
	switch scope {
	case ScopeThisOccurrence, ScopeThisAndFuture, ScopeAllInSeries:
	default:
		return fmt.Errorf("unhandled mutation scope %q", scope)
	}

	err := s.repo.InTenantTransaction(ctx, tenantID, func(ctx context.Context, tx store.SeriesTx) error {
		interval, err := tx.GetInterval(ctx, tenantID, intervalID)
		if err != nil {
			return err
		}

		if !interval.IsRecurring || interval.SeriesID == nil {
			// One-off blocks have no series and no future.
			return tx.DeleteInterval(ctx, tenantID, interval.ID)
		}
		seriesID := *interval.SeriesID

		switch scope {
		case ScopeThisOccurrence:
			return s.deleteThisOccurrence(ctx, tx, interval, seriesID, reason)
		case ScopeThisAndFuture:
			return s.deleteThisAndFuture(ctx, tx, interval, seriesID)
		case ScopeAllInSeries:
			return s.deleteAllInSeries(ctx, tx, interval, seriesID)
		default:
			return fmt.Errorf("unhandled mutation scope %q", scope)
		}
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *Service) deleteThisOccurrence(ctx context.Context, tx store.SeriesTx, interval domain.BlockedInterval, seriesID uuid.UUID, reason string) error {
	_, err := tx.FindException(ctx, interval.TenantID, seriesID, interval.Date)
	if err == nil {
		return store.ErrConflict
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	ex := domain.BlockException{
		TenantID:     interval.TenantID,
		PatternID:    interval.PatternID,
		SeriesID:     seriesID,
		OriginalDate: interval.Date,
		Kind:         domain.ExceptionKindDeleted,
		Reason:       reason,
	}
	if err := ex.Validate(); err != nil {
		return validationError(err.Error())
	}
	if _, err := tx.InsertException(ctx, ex); err != nil {
		return err
	}
	return tx.DeleteInterval(ctx, interval.TenantID, interval.ID)
}

func (s *Service) deleteThisAndFuture(ctx context.Context, tx store.SeriesTx, interval domain.BlockedInterval, seriesID uuid.UUID) error {
	pattern, err := tx.GetPatternBySeries(ctx, interval.TenantID, seriesID)
	if errors.Is(err, store.ErrNotFound) {
		// No live pattern to truncate; the series cannot regrow, so only
		// the anchor interval itself needs to go.
		return tx.DeleteInterval(ctx, interval.TenantID, interval.ID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.DeleteSeriesIntervalsFrom(ctx, interval.TenantID, seriesID, interval.Date); err != nil {
		return err
	}
	if _, err := tx.DeleteSeriesExceptionsFrom(ctx, interval.TenantID, seriesID, interval.Date); err != nil {
		return err
	}

	cut := interval.Date.AddDate(0, 0, -1)
	pattern.EffectiveEndDate = &cut
	return tx.UpdatePattern(ctx, pattern)
}

func (s *Service) deleteAllInSeries(ctx context.Context, tx store.SeriesTx, interval domain.BlockedInterval, seriesID uuid.UUID) error {
	if _, err := tx.DeleteSeriesIntervals(ctx, interval.TenantID, seriesID); err != nil {
		return err
	}
	if _, err := tx.DeleteSeriesExceptions(ctx, interval.TenantID, seriesID); err != nil {
		return err
	}

	pattern, err := tx.GetPatternBySeries(ctx, interval.TenantID, seriesID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pattern.IsActive = false
	return tx.UpdatePattern(ctx, pattern)
}

func (s *Service) cacheKey(ctx context.Context, q store.EffectiveBlockQuery) string {
	if s.cache == nil {
		return ""
	}
	professional := "site"
	if q.ProfessionalID != nil {
		professional = q.ProfessionalID.String()
	}
	gen := s.cache.Generation(ctx, q.TenantID)
	return fmt.Sprintf("blocks:%s:%d:%s:%s:%s:%s",
		q.TenantID, gen, q.ClinicID, professional,
		q.RangeStart.Format("2006-01-02"), q.RangeEnd.Format("2006-01-02"))
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, tenantID)
}

func validateMinutes(start, end int) error {
	if start < 0 || start >= 24*60 {
		return validationError("start_minute out of range")
	}
	if end <= 0 || end > 24*60 {
		return validationError("end_minute out of range")
	}
	if end <= start {
		return validationError("end_minute must be after start_minute")
	}
	return nil
}

func normalizeBlockType(t domain.BlockType) (domain.BlockType, error) {
	if t == "" {
		return domain.BlockTypeUnavailable, nil
	}
	if !t.Valid() {
		return "", validationError("invalid block_type")
	}
	return t, nil
}

func normalizeRecurrence(in RecurrenceInput) (RecurrenceInput, error) {
	if in.StartDate.IsZero() {
		return RecurrenceInput{}, validationError("start_date is required")
	}

	if in.Interval == 0 {
		in.Interval = 1
	}
	if in.Interval < 1 {
		return RecurrenceInput{}, validationError("interval must be at least 1")
	}

	switch in.Frequency {
	case domain.FrequencyDaily:
	case domain.FrequencyWeekly:
		if in.DaysOfWeek == 0 {
			return RecurrenceInput{}, validationError("at least one weekday is required")
		}
		if in.DaysOfWeek&^(1<<7-1) != 0 {
			return RecurrenceInput{}, validationError("invalid weekday")
		}
	case domain.FrequencyMonthly:
		if in.DayOfMonth < 1 || in.DayOfMonth > 31 {
			return RecurrenceInput{}, validationError("day_of_month must be between 1 and 31")
		}
	default:
		return RecurrenceInput{}, validationError("frequency must be one of daily, weekly, monthly")
	}

	if in.EndDate != nil && in.OccurrencesCount != nil {
		return RecurrenceInput{}, validationError("end_date and occurrences_count are mutually exclusive")
	}
	if in.EndDate != nil {
		end := domain.DateOnly(*in.EndDate)
		if end.Before(domain.DateOnly(in.StartDate)) {
			return RecurrenceInput{}, validationError("end_date must not be before start_date")
		}
		in.EndDate = &end
	}
	if in.OccurrencesCount != nil && *in.OccurrencesCount < 1 {
		return RecurrenceInput{}, validationError("occurrences_count must be at least 1")
	}

	return in, nil
}
