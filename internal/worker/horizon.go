package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"agendia/backend/internal/domain"
	"agendia/backend/internal/store"
)

// HorizonKeeper periodically re-materializes concrete intervals for active
// patterns so the rolling horizon set at creation time never goes stale.
// One failing series is logged and skipped; the sweep continues.
type HorizonKeeper struct {
	repo    store.BlockRepository
	horizon time.Duration
	log     *slog.Logger
	cron    *cron.Cron
}

func NewHorizonKeeper(repo store.BlockRepository, horizon time.Duration, log *slog.Logger) *HorizonKeeper {
	if log == nil {
		log = slog.Default()
	}
	if horizon <= 0 {
		horizon = store.DefaultMaterializationHorizon
	}
	return &HorizonKeeper{
		repo:    repo,
		horizon: horizon,
		log:     log.With(slog.String("component", "worker.horizon")),
	}
}

// Start schedules the sweep with the given cron expression and returns
// immediately. Stop must be called on shutdown.
func (k *HorizonKeeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		k.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	k.cron = c
	k.log.Info("horizon sweep scheduled", slog.String("schedule", schedule))
	return nil
}

func (k *HorizonKeeper) Stop() {
	if k.cron != nil {
		<-k.cron.Stop().Done()
	}
}

// Sweep extends materialization for every active pattern out to now+horizon.
func (k *HorizonKeeper) Sweep(ctx context.Context) {
	patterns, err := k.repo.ListActivePatterns(ctx)
	if err != nil {
		k.log.Error("active pattern listing failed", slog.Any("err", err))
		return
	}

	horizonEnd := domain.DateOnly(time.Now().UTC().Add(k.horizon))
	extended := 0
	for _, p := range patterns {
		n, err := k.extendSeries(ctx, p, horizonEnd)
		if err != nil {
			k.log.Error(
				"series horizon extension failed",
				slog.Any("err", err),
				slog.String("tenant_id", p.TenantID),
				slog.String("series_id", p.SeriesID.String()),
			)
			continue
		}
		extended += n
	}

	k.log.Info("horizon sweep complete", slog.Int("patterns", len(patterns)), slog.Int("intervals_added", extended))
}

func (k *HorizonKeeper) extendSeries(ctx context.Context, p domain.RecurringPattern, horizonEnd time.Time) (int, error) {
	added := 0
	err := k.repo.InTenantTransaction(ctx, p.TenantID, func(ctx context.Context, tx store.SeriesTx) error {
		last, err := tx.LastSeriesDate(ctx, p.TenantID, p.SeriesID)
		if err != nil {
			return err
		}

		from := p.StartDate
		if last.After(from) {
			from = last.AddDate(0, 0, 1)
		}
		if from.After(horizonEnd) {
			return nil
		}

		exceptions, err := tx.ListSeriesExceptions(ctx, p.TenantID, p.SeriesID)
		if err != nil {
			return err
		}

		intervals, err := domain.MaterializeIntervals(p, exceptions, from, horizonEnd)
		if err != nil {
			return err
		}
		if len(intervals) == 0 {
			return nil
		}
		if err := tx.InsertIntervals(ctx, intervals); err != nil {
			return err
		}
		added = len(intervals)
		return nil
	})
	return added, err
}
