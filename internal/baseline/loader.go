// Package baseline holds the in-memory backfill that history queries are
// answered from.
package baseline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/streamsim/internal/history"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/stats"
)

const dateKey = "2006-01-02"

var ErrNotLoaded = errors.New("baseline data not loaded")

// Aggregations are precomputed per-stream summaries.
type Aggregations struct {
	// DailyTotals sums normalized values per stream and calendar day.
	DailyTotals map[string]map[string]float64 `json:"dailyTotals"`
	// WeeklyAverages is the mean normalized value per stream.
	WeeklyAverages map[string]float64 `json:"weeklyAverages"`
}

// Loader generates the baseline once and serves copies of it.
type Loader struct {
	hist    *history.Generator
	streams []string
	days    int
	loc     *time.Location
	nowFunc func() time.Time

	mu       sync.RWMutex
	loaded   bool
	start    time.Time
	end      time.Time
	events   map[string][]models.StreamEvent
	external []models.ExternalEvent
	stats    map[string]models.StreamBaseline
	agg      Aggregations
}

// Option configures a Loader.
type Option func(*Loader)

func WithClock(now func() time.Time) Option { return func(l *Loader) { l.nowFunc = now } }

func WithLocation(loc *time.Location) Option { return func(l *Loader) { l.loc = loc } }

func NewLoader(hist *history.Generator, streams []string, days int, opts ...Option) *Loader {
	l := &Loader{
		hist:    hist,
		streams: append([]string(nil), streams...),
		days:    days,
		loc:     time.UTC,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load generates the backfill window ending now. Calls after the first
// successful load return immediately.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	began := time.Now()
	end := l.nowFunc()
	start := end.AddDate(0, 0, -l.days)

	events, err := l.hist.AllStreamsHistory(l.streams, start, end)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	external := l.hist.BaselineExternalEvents(start, end)

	baselines := make(map[string]models.StreamBaseline, len(events))
	total := 0
	for stream, evs := range events {
		baselines[stream] = stats.CalculateBaseline(stream, stats.Values(evs))
		total += len(evs)
	}

	l.start, l.end = start, end
	l.events = events
	l.external = external
	l.stats = baselines
	l.agg = aggregate(events, l.loc)
	l.loaded = true

	logger.Info("baseline loaded in %s: %d streams, %d events, %d external events",
		time.Since(began).Round(time.Millisecond), len(events), total, len(external))
	return nil
}

// Loaded reports whether Load has completed.
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Window returns the generated time range.
func (l *Loader) Window() (time.Time, time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return time.Time{}, time.Time{}, ErrNotLoaded
	}
	return l.start, l.end, nil
}

// Events returns copies of the stored events for stream with timestamps in
// [start, end]. Zero bounds are open.
func (l *Loader) Events(stream string, start, end time.Time) ([]models.StreamEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, ErrNotLoaded
	}
	evs, ok := l.events[stream]
	if !ok {
		return nil, &models.NotFoundError{Kind: "stream", ID: stream}
	}
	var out []models.StreamEvent
	for _, ev := range evs {
		if !start.IsZero() && ev.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Timestamp.After(end) {
			continue
		}
		out = append(out, ev.Clone())
	}
	return out, nil
}

// StreamEvents returns a copy of every stored stream series.
func (l *Loader) StreamEvents() (map[string][]models.StreamEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, ErrNotLoaded
	}
	out := make(map[string][]models.StreamEvent, len(l.events))
	for stream, evs := range l.events {
		cp := make([]models.StreamEvent, len(evs))
		for i, ev := range evs {
			cp[i] = ev.Clone()
		}
		out[stream] = cp
	}
	return out, nil
}

// ExternalEvents returns the backfilled external events with timestamps in
// [start, end]. Zero bounds are open.
func (l *Loader) ExternalEvents(start, end time.Time) ([]models.ExternalEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, ErrNotLoaded
	}
	out := make([]models.ExternalEvent, 0, len(l.external))
	for _, ev := range l.external {
		if !start.IsZero() && ev.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Timestamp.After(end) {
			continue
		}
		ev.ExpectedImpact.Streams = append([]string(nil), ev.ExpectedImpact.Streams...)
		out = append(out, ev)
	}
	return out, nil
}

// Statistics returns per-stream baseline statistics.
func (l *Loader) Statistics() (map[string]models.StreamBaseline, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return nil, ErrNotLoaded
	}
	out := make(map[string]models.StreamBaseline, len(l.stats))
	for k, v := range l.stats {
		out[k] = v
	}
	return out, nil
}

// Aggregations returns a copy of the precomputed aggregations.
func (l *Loader) Aggregations() (Aggregations, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.loaded {
		return Aggregations{}, ErrNotLoaded
	}
	out := Aggregations{
		DailyTotals:    make(map[string]map[string]float64, len(l.agg.DailyTotals)),
		WeeklyAverages: make(map[string]float64, len(l.agg.WeeklyAverages)),
	}
	for stream, days := range l.agg.DailyTotals {
		cp := make(map[string]float64, len(days))
		for d, v := range days {
			cp[d] = v
		}
		out.DailyTotals[stream] = cp
	}
	for k, v := range l.agg.WeeklyAverages {
		out.WeeklyAverages[k] = v
	}
	return out, nil
}

func aggregate(events map[string][]models.StreamEvent, loc *time.Location) Aggregations {
	agg := Aggregations{
		DailyTotals:    make(map[string]map[string]float64, len(events)),
		WeeklyAverages: make(map[string]float64, len(events)),
	}
	for stream, evs := range events {
		days := make(map[string]float64)
		var sum float64
		for _, ev := range evs {
			days[ev.Timestamp.In(loc).Format(dateKey)] += ev.Value()
			sum += ev.Value()
		}
		agg.DailyTotals[stream] = days
		if len(evs) > 0 {
			agg.WeeklyAverages[stream] = sum / float64(len(evs))
		} else {
			agg.WeeklyAverages[stream] = 0
		}
	}
	return agg
}
