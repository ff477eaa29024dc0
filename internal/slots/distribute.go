package slots

import (
	"sort"

	"github.com/vitacare/concierge/internal/model"
)

// Distribute picks a spread of slots across the day rather than the
// first N in a row: at most one slot per hour per day, then a balanced
// draw from morning (<12h), early afternoon (<15h) and late afternoon,
// round-robin over the available dates inside each range.
func Distribute(in []model.Slot, max int) []model.Slot {
	if max <= 0 {
		max = DefaultMax
	}

	// One slot per hour per day.
	seen := make(map[string]bool, len(in))
	var deduped []model.Slot
	for _, s := range in {
		key := s.Date + "-" + s.DateTime.Format("15")
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, s)
	}

	var morning, early, late []model.Slot
	for _, s := range deduped {
		switch h := s.DateTime.Hour(); {
		case h < 12:
			morning = append(morning, s)
		case h < 15:
			early = append(early, s)
		default:
			late = append(late, s)
		}
	}

	perRange := (max + 2) / 3
	var out []model.Slot
	for _, bucket := range [][]model.Slot{morning, early, late} {
		out = append(out, drawAcrossDates(bucket, perRange)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// drawAcrossDates takes up to n slots from the bucket, one date at a
// time in round-robin, so three slots come from three different days
// when possible.
func drawAcrossDates(bucket []model.Slot, n int) []model.Slot {
	byDate := make(map[string][]model.Slot)
	for _, s := range bucket {
		byDate[s.Date] = append(byDate[s.Date], s)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		day := byDate[d]
		sort.Slice(day, func(i, j int) bool { return day[i].DateTime.Before(day[j].DateTime) })
		byDate[d] = day
	}

	var out []model.Slot
	for round := 0; round < 10 && len(out) < n; round++ {
		for _, d := range dates {
			day := byDate[d]
			if round >= len(day) {
				continue
			}
			out = append(out, day[round])
			if len(out) >= n {
				break
			}
		}
	}
	return out
}
