package domain

import (
	"sort"
	"time"
)

// ResolveEffectiveBlocks expands the pattern over [rangeStart, rangeEnd] and
// overlays its exceptions: deleted occurrences are omitted, modified ones use
// their override fields, everything else keeps the pattern's defaults. The
// result is ordered by date then start minute and depends only on the inputs,
// so identical calls produce identical output.
func ResolveEffectiveBlocks(p RecurringPattern, exceptions []BlockException, rangeStart, rangeEnd time.Time) ([]EffectiveBlock, error) {
	dates, err := ExpandOccurrences(p, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time]BlockException, len(exceptions))
	for _, ex := range exceptions {
		if ex.SeriesID != p.SeriesID {
			continue
		}
		byDate[DateOnly(ex.OriginalDate)] = ex
	}

	seriesID := p.SeriesID
	out := make([]EffectiveBlock, 0, len(dates))
	for _, d := range dates {
		block := EffectiveBlock{
			SeriesID:       &seriesID,
			ClinicID:       p.ClinicID,
			ProfessionalID: p.ProfessionalID,
			Date:           d,
			StartMinute:    p.StartMinute,
			EndMinute:      p.EndMinute,
			BlockType:      p.BlockType,
			Reason:         p.Reason,
		}

		ex, ok := byDate[d]
		if ok {
			if ex.Kind == ExceptionKindDeleted {
				continue
			}
			if ex.OverrideStart != nil {
				block.StartMinute = *ex.OverrideStart
			}
			if ex.OverrideEnd != nil {
				block.EndMinute = *ex.OverrideEnd
			}
			if ex.OverrideBlockType != nil {
				block.BlockType = *ex.OverrideBlockType
			}
			if ex.Reason != "" {
				block.Reason = ex.Reason
			}
		}

		out = append(out, block)
	}

	return out, nil
}

// SortEffectiveBlocks orders blocks ascending by date then start minute.
// Resolve output for a single pattern is already ordered; this is for merged
// multi-series results.
func SortEffectiveBlocks(blocks []EffectiveBlock) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Date.Equal(blocks[j].Date) {
			return blocks[i].StartMinute < blocks[j].StartMinute
		}
		return blocks[i].Date.Before(blocks[j].Date)
	})
}
