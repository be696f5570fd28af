package scheduling

import (
	"sort"
	"time"
)

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) IsZeroLength() bool {
	return !r.End.After(r.Start)
}

// mergeRanges sorts the ranges by start and coalesces overlapping or
// adjacent ones (next.Start <= last.End). The input slice is not modified.
func mergeRanges(ranges []TimeRange) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []TimeRange{sorted[0]}
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !cur.Start.After(last.End) {
			if cur.End.After(last.End) {
				last.End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}

	return merged
}

// uncoveredGaps walks [windowStart, windowEnd) against an already merged,
// sorted occupied set and returns every uncovered gap. Zero-length gaps are
// dropped.
func uncoveredGaps(windowStart, windowEnd time.Time, occupied []TimeRange) []TimeRange {
	var gaps []TimeRange
	cursor := windowStart

	for _, occ := range occupied {
		if !occ.Start.Before(windowEnd) {
			break
		}
		if occ.Start.After(cursor) {
			end := occ.Start
			if end.After(windowEnd) {
				end = windowEnd
			}
			if end.After(cursor) {
				gaps = append(gaps, TimeRange{Start: cursor, End: end})
			}
		}
		if occ.End.After(cursor) {
			cursor = occ.End
		}
	}

	if cursor.Before(windowEnd) {
		gaps = append(gaps, TimeRange{Start: cursor, End: windowEnd})
	}

	return gaps
}

// sliceIntoSlots cuts [start, end) into consecutive sub-ranges of the given
// duration, the final one truncated at end.
func sliceIntoSlots(start, end time.Time, d time.Duration) []TimeRange {
	var out []TimeRange
	for cur := start; cur.Before(end); {
		next := cur.Add(d)
		if next.After(end) {
			next = end
		}
		if next.After(cur) {
			out = append(out, TimeRange{Start: cur, End: next})
		}
		cur = next
	}
	return out
}

// generateSlotRanges is the pure core of session adjustment's refill step:
// given the new working window, the consultation duration, and the merged
// occupied set, it returns the ordered intervals where new stream slots must
// be created so that the window is covered with no gaps and no overlaps.
func generateSlotRanges(windowStart, windowEnd time.Time, d time.Duration, occupied []TimeRange) []TimeRange {
	var out []TimeRange
	for _, gap := range uncoveredGaps(windowStart, windowEnd, occupied) {
		out = append(out, sliceIntoSlots(gap.Start, gap.End, d)...)
	}
	return out
}
