// Package slots merges appointment availability from tiered sources:
// the clinic system's realtime API, its legacy batch endpoint, and a
// synthetic generator when both are dry. Slots are ephemeral; nothing
// here touches storage.
package slots

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/vitacare/concierge/internal/model"
)

const (
	// DefaultMax caps how many slots one aggregation returns.
	DefaultMax = 9
	// fallback lookahead in days, skipping weekends.
	fallbackDays = 6
)

var fallbackHours = []int{9, 14, 16}

// Day-part values for Request.Period.
const (
	PeriodMorning   = "morning"
	PeriodAfternoon = "afternoon"
)

// Request narrows an availability lookup.
type Request struct {
	Specialty        string
	DoctorExternalID int
	Days             int
	// Date pins results to one day, "2006-01-02". Optional.
	Date string
	// Period pins results to a day part, PeriodMorning or
	// PeriodAfternoon. Optional.
	Period string
}

// Match reports whether a slot satisfies the request's date and period
// restrictions.
func (r Request) Match(s model.Slot) bool {
	if r.Date != "" && s.Date != r.Date {
		return false
	}
	switch r.Period {
	case PeriodMorning:
		return s.DateTime.Hour() < 12
	case PeriodAfternoon:
		return s.DateTime.Hour() >= 12
	}
	return true
}

func filter(in []model.Slot, req Request) []model.Slot {
	if req.Date == "" && req.Period == "" {
		return in
	}
	out := make([]model.Slot, 0, len(in))
	for _, s := range in {
		if req.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// Source yields candidate slots for a request. Implementations live in
// the clinic client.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]model.Slot, error)
}

// Aggregator walks the source tiers and normalizes the result.
type Aggregator struct {
	primary Source // realtime clinic API, may be nil
	legacy  Source // batch endpoint, may be nil
	logger  *slog.Logger
	now     func() time.Time
	max     int
}

func NewAggregator(primary, legacy Source, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		primary: primary,
		legacy:  legacy,
		logger:  logger,
		now:     time.Now,
		max:     DefaultMax,
	}
}

// Aggregate tries each tier in order. A tier that errors or returns
// nothing (after the date/period restriction) falls through to the
// next; the synthetic generator always produces slots, though the
// restriction may leave none. Output is deduplicated by instant,
// ascending, capped.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) []model.Slot {
	for _, tier := range []struct {
		name string
		src  Source
	}{
		{"primary", a.primary},
		{"legacy", a.legacy},
	} {
		if tier.src == nil {
			continue
		}
		got, err := tier.src.Fetch(ctx, req)
		if err != nil {
			a.logger.Warn("slot source failed", "tier", tier.name, "error", err)
			continue
		}
		if got = filter(got, req); len(got) > 0 {
			return normalize(got, a.max)
		}
	}
	return normalize(filter(Fallback(a.now()), req), a.max)
}

// Fallback generates synthetic business-day slots: the next days
// skipping weekends, at fixed hours, capped.
func Fallback(now time.Time) []model.Slot {
	var out []model.Slot
	for offset := 1; offset <= fallbackDays; offset++ {
		day := now.AddDate(0, 0, offset)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, hour := range fallbackHours {
			if len(out) >= DefaultMax {
				return out
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, now.Location())
			out = append(out, model.Slot{
				Date:     at.Format("2006-01-02"),
				Time:     at.Format("15:04"),
				DateTime: at,
				Source:   model.SlotSourceFallback,
			})
		}
	}
	return out
}

func normalize(in []model.Slot, max int) []model.Slot {
	seen := make(map[int64]bool, len(in))
	out := make([]model.Slot, 0, len(in))
	for _, s := range in {
		key := s.DateTime.Unix()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	if len(out) > max {
		out = out[:max]
	}
	return out
}
