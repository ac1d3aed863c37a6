package baseline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/generator"
	"github.com/rewired-gh/streamsim/internal/history"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
	"github.com/rewired-gh/streamsim/internal/stats"
)

var now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newLoader(t *testing.T, streams []string, days int) *Loader {
	t.Helper()
	cat, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	src := random.New(3)
	gen := generator.New(stats.NewTable(cat.EventsPerDay()),
		generator.WithSource(src), generator.WithLocation(time.UTC))
	hist := history.New(gen, cat.Relationships, cat.Templates, history.WithSource(src))
	return NewLoader(hist, streams, days, WithClock(func() time.Time { return now }))
}

func TestNotLoaded(t *testing.T) {
	l := newLoader(t, []string{"customer.tutor.search"}, 2)
	if _, err := l.Statistics(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Statistics before load: %v", err)
	}
	if _, err := l.Events("customer.tutor.search", time.Time{}, time.Time{}); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Events before load: %v", err)
	}
	if _, err := l.Aggregations(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Aggregations before load: %v", err)
	}
	if _, _, err := l.Window(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Window before load: %v", err)
	}
}

func TestLoad(t *testing.T) {
	streams := []string{"customer.tutor.search", "session.started"}
	l := newLoader(t, streams, 2)
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.Loaded() {
		t.Fatal("not loaded")
	}

	start, end, _ := l.Window()
	if !end.Equal(now) || !start.Equal(now.AddDate(0, 0, -2)) {
		t.Errorf("window = %v..%v", start, end)
	}

	evs, err := l.Events("customer.tutor.search", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) < 4 {
		t.Errorf("got %d events over two days, want at least 4", len(evs))
	}
	half, _ := l.Events("customer.tutor.search", now.AddDate(0, 0, -1), time.Time{})
	if len(half) >= len(evs) {
		t.Errorf("range filter kept %d of %d", len(half), len(evs))
	}
	if _, err := l.Events("nope", time.Time{}, time.Time{}); !models.IsNotFound(err) {
		t.Errorf("unknown stream error = %v", err)
	}

	st, _ := l.Statistics()
	if st["customer.tutor.search"].Name != "customer.tutor.search" || len(st) != 2 {
		t.Errorf("statistics = %+v", st)
	}

	agg, _ := l.Aggregations()
	if len(agg.DailyTotals["session.started"]) != 2 {
		t.Errorf("daily totals = %v", agg.DailyTotals["session.started"])
	}
	if agg.WeeklyAverages["session.started"] <= 0 {
		t.Errorf("weekly average = %v", agg.WeeklyAverages["session.started"])
	}

	ext, _ := l.ExternalEvents(time.Time{}, time.Time{})
	if len(ext) < 4 {
		t.Errorf("got %d external events over two days", len(ext))
	}
}

func TestLoadIsIdempotentAndCopies(t *testing.T) {
	l := newLoader(t, []string{"customer.tutor.search"}, 1)
	ctx := context.Background()
	if err := l.Load(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := l.StreamEvents()
	if err := l.Load(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := l.StreamEvents()
	if len(first["customer.tutor.search"]) != len(second["customer.tutor.search"]) {
		t.Error("second Load regenerated data")
	}
	if first["customer.tutor.search"][0].Value() != second["customer.tutor.search"][0].Value() {
		t.Error("second Load changed values")
	}

	first["customer.tutor.search"][0].SetValue(-1, models.FlagCritical)
	again, _ := l.StreamEvents()
	if again["customer.tutor.search"][0].Value() == -1 {
		t.Error("caller mutation leaked into loader")
	}
}

func TestLoadCancelled(t *testing.T) {
	l := newLoader(t, []string{"customer.tutor.search"}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load with cancelled context = %v", err)
	}
	if l.Loaded() {
		t.Error("cancelled load marked loaded")
	}
}
