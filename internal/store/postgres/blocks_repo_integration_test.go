package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"agendia/backend/internal/domain"
	"agendia/backend/internal/store"
)

func TestPostgresIntegration_SeriesLifecycle(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("AGENDIA_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("AGENDIA_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "agendia_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}
		if err := lockTenantSchedule(ctx, tx, "t1"); err != nil {
			return err
		}

		s := seriesTx{tx: tx}
		seriesID := uuid.MustParse("00000000-0000-0000-0000-000000000901")
		clinicID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
		start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

		pattern, err := s.InsertPattern(ctx, domain.RecurringPattern{
			TenantID:    "t1",
			SeriesID:    seriesID,
			ClinicID:    clinicID,
			Frequency:   domain.FrequencyWeekly,
			Interval:    1,
			DaysOfWeek:  domain.WeekdayMonday | domain.WeekdayWednesday | domain.WeekdayFriday,
			StartDate:   start,
			StartMinute: 480,
			EndMinute:   540,
			BlockType:   domain.BlockTypeUnavailable,
			IsActive:    true,
		})
		if err != nil {
			return err
		}
		if pattern.ID == uuid.Nil {
			return fmt.Errorf("pattern id not assigned on insert")
		}

		intervals, err := domain.MaterializeIntervals(pattern, nil, start, start.AddDate(0, 0, 13))
		if err != nil {
			return err
		}
		if len(intervals) != 6 {
			return fmt.Errorf("materialized %d intervals, want 6", len(intervals))
		}
		if err := s.InsertIntervals(ctx, intervals); err != nil {
			return err
		}

		last, err := s.LastSeriesDate(ctx, "t1", seriesID)
		if err != nil {
			return err
		}
		if !last.Equal(time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)) {
			return fmt.Errorf("last series date = %v, want 2026-03-13", last)
		}

		// Round-trip one row through its mutation handle.
		var anchorID uuid.UUID
		for _, iv := range intervals {
			if iv.Date.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)) {
				anchorID = iv.ID
			}
		}
		anchor, err := s.GetInterval(ctx, "t1", anchorID)
		if err != nil {
			return err
		}
		if anchor.SeriesID == nil || *anchor.SeriesID != seriesID || !anchor.IsRecurring {
			return fmt.Errorf("anchor = %+v", anchor)
		}
		if _, err := s.GetInterval(ctx, "other-tenant", anchorID); err != store.ErrNotFound {
			return fmt.Errorf("cross-tenant get err = %v, want %v", err, store.ErrNotFound)
		}

		// One exception per (series, date): the second insert must conflict.
		if _, err := s.InsertException(ctx, domain.BlockException{
			TenantID:     "t1",
			SeriesID:     seriesID,
			OriginalDate: anchor.Date,
			Kind:         domain.ExceptionKindDeleted,
		}); err != nil {
			return err
		}
		_, err = s.InsertException(ctx, domain.BlockException{
			TenantID:     "t1",
			SeriesID:     seriesID,
			OriginalDate: anchor.Date,
			Kind:         domain.ExceptionKindDeleted,
		})
		if err != store.ErrConflict {
			return fmt.Errorf("duplicate exception err = %v, want %v", err, store.ErrConflict)
		}
		if err := s.DeleteInterval(ctx, "t1", anchorID); err != nil {
			return err
		}

		// Truncate the series from 2026-03-11.
		cutFrom := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
		deleted, err := s.DeleteSeriesIntervalsFrom(ctx, "t1", seriesID, cutFrom)
		if err != nil {
			return err
		}
		if deleted != 2 {
			return fmt.Errorf("truncation deleted %d intervals, want 2", deleted)
		}
		pruned, err := s.DeleteSeriesExceptionsFrom(ctx, "t1", seriesID, cutFrom)
		if err != nil {
			return err
		}
		if pruned != 0 {
			return fmt.Errorf("truncation pruned %d exceptions, want 0", pruned)
		}

		cut := cutFrom.AddDate(0, 0, -1)
		pattern.EffectiveEndDate = &cut
		if err := s.UpdatePattern(ctx, pattern); err != nil {
			return err
		}
		got, err := s.GetPatternBySeries(ctx, "t1", seriesID)
		if err != nil {
			return err
		}
		if got.EffectiveEndDate == nil || !got.EffectiveEndDate.Equal(cut) {
			return fmt.Errorf("effective end date = %v, want %v", got.EffectiveEndDate, cut)
		}

		// Full series teardown.
		if _, err := s.DeleteSeriesIntervals(ctx, "t1", seriesID); err != nil {
			return err
		}
		if _, err := s.DeleteSeriesExceptions(ctx, "t1", seriesID); err != nil {
			return err
		}
		last, err = s.LastSeriesDate(ctx, "t1", seriesID)
		if err != nil {
			return err
		}
		if !last.Equal(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)) {
			return fmt.Errorf("last series date after teardown = %v, want epoch", last)
		}

		if _, err := s.GetPatternBySeries(ctx, "t1", uuid.New()); err != store.ErrNotFound {
			return fmt.Errorf("missing pattern err = %v, want %v", err, store.ErrNotFound)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
