package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func overlayPattern() RecurringPattern {
	return RecurringPattern{
		ID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		TenantID:    "t1",
		SeriesID:    uuid.MustParse("00000000-0000-0000-0000-000000000101"),
		ClinicID:    uuid.MustParse("00000000-0000-0000-0000-000000000201"),
		Frequency:   FrequencyWeekly,
		Interval:    1,
		DaysOfWeek:  WeekdayMonday | WeekdayWednesday | WeekdayFriday,
		StartDate:   date(2026, 3, 2),
		StartMinute: 8 * 60,
		EndMinute:   9 * 60,
		BlockType:   BlockTypeUnavailable,
		Reason:      "ward round",
		IsActive:    true,
	}
}

func TestResolveEffectiveBlocks_NoExceptions(t *testing.T) {
	p := overlayPattern()

	got, err := ResolveEffectiveBlocks(p, nil, date(2026, 3, 1), date(2026, 3, 7))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	for i, b := range got {
		if b.SeriesID == nil || *b.SeriesID != p.SeriesID {
			t.Fatalf("got[%d] series = %v, want %s", i, b.SeriesID, p.SeriesID)
		}
		if b.StartMinute != p.StartMinute || b.EndMinute != p.EndMinute {
			t.Fatalf("got[%d] minutes = %d-%d, want pattern defaults", i, b.StartMinute, b.EndMinute)
		}
		if b.Reason != "ward round" {
			t.Fatalf("got[%d] reason = %q", i, b.Reason)
		}
	}
}

func TestResolveEffectiveBlocks_DeletedExceptionOmitsDate(t *testing.T) {
	p := overlayPattern()
	exs := []BlockException{
		{
			SeriesID:     p.SeriesID,
			OriginalDate: date(2026, 3, 4),
			Kind:         ExceptionKindDeleted,
			Reason:       "holiday",
		},
	}

	got, err := ResolveEffectiveBlocks(p, exs, date(2026, 3, 1), date(2026, 3, 7))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if !got[0].Date.Equal(date(2026, 3, 2)) || !got[1].Date.Equal(date(2026, 3, 6)) {
		t.Fatalf("dates = %v, %v; want 03-02 and 03-06", got[0].Date, got[1].Date)
	}
}

func TestResolveEffectiveBlocks_ModifiedExceptionOverrides(t *testing.T) {
	p := overlayPattern()
	newStart := 14 * 60
	newEnd := 15 * 60
	newType := BlockTypeVacation
	exs := []BlockException{
		{
			SeriesID:          p.SeriesID,
			OriginalDate:      date(2026, 3, 4),
			Kind:              ExceptionKindModified,
			Reason:            "moved to afternoon",
			OverrideStart:     &newStart,
			OverrideEnd:       &newEnd,
			OverrideBlockType: &newType,
		},
	}

	got, err := ResolveEffectiveBlocks(p, exs, date(2026, 3, 1), date(2026, 3, 7))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}

	modified := got[1]
	if !modified.Date.Equal(date(2026, 3, 4)) {
		t.Fatalf("modified date = %v, want 03-04", modified.Date)
	}
	if modified.StartMinute != newStart || modified.EndMinute != newEnd {
		t.Fatalf("modified minutes = %d-%d, want %d-%d", modified.StartMinute, modified.EndMinute, newStart, newEnd)
	}
	if modified.BlockType != BlockTypeVacation {
		t.Fatalf("modified block type = %s, want vacation", modified.BlockType)
	}
	if modified.Reason != "moved to afternoon" {
		t.Fatalf("modified reason = %q", modified.Reason)
	}

	// Other occurrences keep the pattern defaults.
	if got[0].StartMinute != p.StartMinute || got[2].StartMinute != p.StartMinute {
		t.Fatalf("unmodified occurrences changed")
	}
}

func TestResolveEffectiveBlocks_IgnoresForeignSeriesExceptions(t *testing.T) {
	p := overlayPattern()
	exs := []BlockException{
		{
			SeriesID:     uuid.MustParse("00000000-0000-0000-0000-000000000999"),
			OriginalDate: date(2026, 3, 4),
			Kind:         ExceptionKindDeleted,
		},
	}

	got, err := ResolveEffectiveBlocks(p, exs, date(2026, 3, 1), date(2026, 3, 7))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
}

func TestResolveEffectiveBlocks_Idempotent(t *testing.T) {
	p := overlayPattern()
	exs := []BlockException{
		{SeriesID: p.SeriesID, OriginalDate: date(2026, 3, 4), Kind: ExceptionKindDeleted},
	}

	first, err := ResolveEffectiveBlocks(p, exs, date(2026, 3, 1), date(2026, 3, 15))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}
	second, err := ResolveEffectiveBlocks(p, exs, date(2026, 3, 1), date(2026, 3, 15))
	if err != nil {
		t.Fatalf("ResolveEffectiveBlocks error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Date.Equal(second[i].Date) ||
			first[i].StartMinute != second[i].StartMinute ||
			first[i].EndMinute != second[i].EndMinute ||
			first[i].BlockType != second[i].BlockType {
			t.Fatalf("results differ at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSortEffectiveBlocks(t *testing.T) {
	blocks := []EffectiveBlock{
		{Date: date(2026, 3, 4), StartMinute: 600},
		{Date: date(2026, 3, 2), StartMinute: 480},
		{Date: date(2026, 3, 4), StartMinute: 480},
		{Date: date(2026, 3, 3), StartMinute: 720},
	}

	SortEffectiveBlocks(blocks)

	wantDates := []time.Time{date(2026, 3, 2), date(2026, 3, 3), date(2026, 3, 4), date(2026, 3, 4)}
	for i, d := range wantDates {
		if !blocks[i].Date.Equal(d) {
			t.Fatalf("blocks[%d].Date = %v, want %v", i, blocks[i].Date, d)
		}
	}
	if blocks[2].StartMinute != 480 || blocks[3].StartMinute != 600 {
		t.Fatalf("same-date blocks not ordered by start minute: %d then %d", blocks[2].StartMinute, blocks[3].StartMinute)
	}
}

func TestBlockExceptionValidate(t *testing.T) {
	seriesID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	start := 10 * 60

	tests := []struct {
		name    string
		ex      BlockException
		wantErr bool
	}{
		{
			name: "deleted without overrides",
			ex:   BlockException{SeriesID: seriesID, Kind: ExceptionKindDeleted},
		},
		{
			name:    "deleted with override",
			ex:      BlockException{SeriesID: seriesID, Kind: ExceptionKindDeleted, OverrideStart: &start},
			wantErr: true,
		},
		{
			name: "modified with override",
			ex:   BlockException{SeriesID: seriesID, Kind: ExceptionKindModified, OverrideStart: &start},
		},
		{
			name:    "modified without override",
			ex:      BlockException{SeriesID: seriesID, Kind: ExceptionKindModified},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			ex:      BlockException{SeriesID: seriesID, Kind: "postponed"},
			wantErr: true,
		},
		{
			name:    "missing series",
			ex:      BlockException{Kind: ExceptionKindDeleted},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ex.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate error: %v", err)
			}
		})
	}
}
