package slots

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vitacare/concierge/internal/model"
)

type fakeSource struct {
	slots []model.Slot
	err   error
}

func (f *fakeSource) Fetch(ctx context.Context, req Request) ([]model.Slot, error) {
	return f.slots, f.err
}

func slotAt(t time.Time) model.Slot {
	return model.Slot{
		Date:     t.Format("2006-01-02"),
		Time:     t.Format("15:04"),
		DateTime: t,
		Source:   model.SlotSourceClinic,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallback_BusinessDaysFixedHours(t *testing.T) {
	// A Monday. The following six days include Sat/Sun, which must be
	// skipped.
	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	got := Fallback(now)

	if len(got) != DefaultMax {
		t.Fatalf("len = %d, want %d", len(got), DefaultMax)
	}
	for i, s := range got {
		wd := s.DateTime.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			t.Errorf("slot %d falls on %s", i, wd)
		}
		h := s.DateTime.Hour()
		if h != 9 && h != 14 && h != 16 {
			t.Errorf("slot %d at hour %d", i, h)
		}
		if s.Source != model.SlotSourceFallback {
			t.Errorf("slot %d source = %s", i, s.Source)
		}
		if i > 0 && !got[i-1].DateTime.Before(s.DateTime) {
			t.Errorf("slots not strictly ascending at %d", i)
		}
	}
	// First slot is tomorrow morning.
	if got[0].Date != "2026-08-25" || got[0].Time != "09:00" {
		t.Errorf("first slot = %s %s", got[0].Date, got[0].Time)
	}
}

func TestAggregate_TierOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	primarySlots := []model.Slot{slotAt(base)}
	legacySlots := []model.Slot{slotAt(base.Add(time.Hour))}

	t.Run("primary wins when it has slots", func(t *testing.T) {
		a := NewAggregator(&fakeSource{slots: primarySlots}, &fakeSource{slots: legacySlots}, testLogger())
		got := a.Aggregate(ctx, Request{})
		if len(got) != 1 || !got[0].DateTime.Equal(base) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("legacy on primary error", func(t *testing.T) {
		a := NewAggregator(&fakeSource{err: errors.New("down")}, &fakeSource{slots: legacySlots}, testLogger())
		got := a.Aggregate(ctx, Request{})
		if len(got) != 1 || !got[0].DateTime.Equal(base.Add(time.Hour)) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("fallback when both empty", func(t *testing.T) {
		a := NewAggregator(&fakeSource{}, &fakeSource{}, testLogger())
		got := a.Aggregate(ctx, Request{})
		if len(got) == 0 {
			t.Fatal("fallback should always produce slots")
		}
		for _, s := range got {
			if s.Source != model.SlotSourceFallback {
				t.Errorf("source = %s", s.Source)
			}
		}
	})
}

func TestAggregate_DateAndPeriodRestrict(t *testing.T) {
	ctx := context.Background()
	in := []model.Slot{
		slotAt(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)),
		slotAt(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)),
		slotAt(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)),
	}
	a := NewAggregator(&fakeSource{slots: in}, nil, testLogger())

	got := a.Aggregate(ctx, Request{Date: "2026-09-01"})
	if len(got) != 2 {
		t.Fatalf("date filter: got %v", got)
	}
	for _, s := range got {
		if s.Date != "2026-09-01" {
			t.Errorf("slot on %s leaked through", s.Date)
		}
	}

	got = a.Aggregate(ctx, Request{Date: "2026-09-01", Period: PeriodAfternoon})
	if len(got) != 1 || got[0].DateTime.Hour() != 14 {
		t.Errorf("period filter: got %v", got)
	}
}

func TestAggregate_FilteredEmptyTierFallsThrough(t *testing.T) {
	// The clinic has only afternoon slots; a morning request must reach
	// the synthetic generator instead of returning nothing.
	in := []model.Slot{slotAt(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC))}
	a := NewAggregator(&fakeSource{slots: in}, nil, testLogger())
	a.now = func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) }

	got := a.Aggregate(context.Background(), Request{Period: PeriodMorning})
	if len(got) == 0 {
		t.Fatal("expected fallback slots")
	}
	for _, s := range got {
		if s.Source != model.SlotSourceFallback {
			t.Errorf("source = %s", s.Source)
		}
		if s.DateTime.Hour() >= 12 {
			t.Errorf("afternoon slot %s survived the morning filter", s.Time)
		}
	}
}

func TestAggregate_DedupAndCap(t *testing.T) {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	var many []model.Slot
	for i := 0; i < 15; i++ {
		many = append(many, slotAt(base.Add(time.Duration(i)*time.Hour)))
	}
	// Duplicate instants.
	many = append(many, slotAt(base), slotAt(base.Add(time.Hour)))

	a := NewAggregator(&fakeSource{slots: many}, nil, testLogger())
	got := a.Aggregate(context.Background(), Request{})
	if len(got) != DefaultMax {
		t.Fatalf("len = %d, want %d", len(got), DefaultMax)
	}
	seen := map[int64]bool{}
	for _, s := range got {
		if seen[s.DateTime.Unix()] {
			t.Error("duplicate instant survived")
		}
		seen[s.DateTime.Unix()] = true
	}
}

func TestDistribute_SpreadsAcrossDayParts(t *testing.T) {
	// Three days, each with morning, early- and late-afternoon slots.
	var in []model.Slot
	for day := 25; day <= 27; day++ {
		for _, h := range []int{8, 9, 13, 14, 15, 17} {
			in = append(in, slotAt(time.Date(2026, 8, day, h, 0, 0, 0, time.UTC)))
		}
	}

	got := Distribute(in, 9)
	if len(got) != 9 {
		t.Fatalf("len = %d, want 9", len(got))
	}

	var morning, early, late int
	days := map[string]bool{}
	for i, s := range got {
		switch h := s.DateTime.Hour(); {
		case h < 12:
			morning++
		case h < 15:
			early++
		default:
			late++
		}
		days[s.Date] = true
		if i > 0 && got[i-1].DateTime.After(s.DateTime) {
			t.Error("output not chronological")
		}
	}
	if morning != 3 || early != 3 || late != 3 {
		t.Errorf("spread = %d/%d/%d, want 3/3/3", morning, early, late)
	}
	if len(days) != 3 {
		t.Errorf("drawn from %d days, want 3", len(days))
	}
}

func TestDistribute_OneSlotPerHourPerDay(t *testing.T) {
	day := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	in := []model.Slot{
		slotAt(day),
		slotAt(day.Add(20 * time.Minute)), // same hour, same day
		slotAt(day.Add(time.Hour)),
	}
	got := Distribute(in, 9)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (hour dedup)", len(got))
	}
}
