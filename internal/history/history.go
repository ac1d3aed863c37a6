// Package history backfills baseline stream events and external events and
// replays stored history under scenario modifiers.
package history

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/generator"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
	"github.com/rewired-gh/streamsim/internal/relationship"
	"github.com/rewired-gh/streamsim/internal/stats"
)

const (
	DefaultInterval    = 12 * time.Hour
	DefaultAnomalyRate = 0.05

	maxAnomalyFactor = 1.3
	criticalShift    = 0.15
)

// Generator backfills history on fixed ticks.
type Generator struct {
	gen         *generator.Generator
	rel         catalog.Relationships
	templates   []catalog.EventTemplate
	src         random.Source
	interval    time.Duration
	anomalyRate float64
}

// Option configures a Generator.
type Option func(*Generator)

func WithSource(src random.Source) Option { return func(h *Generator) { h.src = src } }

// WithInterval sets the tick spacing. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(h *Generator) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithAnomalyRate sets the per-tick anomaly probability. Zero disables
// injection.
func WithAnomalyRate(p float64) Option {
	return func(h *Generator) { h.anomalyRate = math.Max(0, math.Min(1, p)) }
}

// New builds a history generator. gen should carry no scenario influence.
func New(gen *generator.Generator, rel catalog.Relationships, templates []catalog.EventTemplate, opts ...Option) *Generator {
	h := &Generator{
		gen:         gen,
		rel:         rel,
		templates:   templates,
		src:         random.Default(),
		interval:    DefaultInterval,
		anomalyRate: DefaultAnomalyRate,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Interval returns the tick spacing.
func (h *Generator) Interval() time.Duration { return h.interval }

// Ticks returns the tick times in [start, end).
func (h *Generator) Ticks(start, end time.Time) []time.Time {
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(h.interval) {
		out = append(out, t)
	}
	return out
}

// BaselineHistory generates one event per tick for stream. Cascades the
// stream triggers on itself apply to later ticks.
func (h *Generator) BaselineHistory(stream string, start, end time.Time) ([]models.StreamEvent, error) {
	eng, err := relationship.New(h.rel, relationship.WithSource(h.src))
	if err != nil {
		return nil, err
	}
	gen := h.gen.With(nil, eng)

	var out []models.StreamEvent
	for _, tick := range h.Ticks(start, end) {
		ev, err := gen.Generate(stream, tick)
		if err != nil {
			return nil, err
		}
		eng.ProcessEvent(ev)
		out = append(out, h.maybeAnomaly(ev))
		eng.CleanupResolvedEvents(tick)
	}
	return out, nil
}

// AllStreamsHistory generates history for every stream in streams over one
// shared relationship engine. At each tick, due relationship outcomes for
// requested streams add an extra event when the temporal gate allows.
func (h *Generator) AllStreamsHistory(streams []string, start, end time.Time) (map[string][]models.StreamEvent, error) {
	eng, err := relationship.New(h.rel, relationship.WithSource(h.src))
	if err != nil {
		return nil, err
	}
	gen := h.gen.With(nil, eng)

	sorted := append([]string(nil), streams...)
	sort.Strings(sorted)
	out := make(map[string][]models.StreamEvent, len(sorted))
	for _, s := range sorted {
		if !gen.Known(s) {
			return nil, &models.NotFoundError{Kind: "stream", ID: s}
		}
		out[s] = nil
	}

	extras := 0
	for _, tick := range h.Ticks(start, end) {
		for _, s := range eng.ResolveDue(tick) {
			if _, wanted := out[s]; !wanted || !eng.CanGenerateStream(s, tick) {
				continue
			}
			ev, err := gen.Generate(s, tick)
			if err != nil {
				continue
			}
			eng.ProcessEvent(ev)
			out[s] = append(out[s], ev)
			extras++
		}
		for _, s := range sorted {
			ev, err := gen.Generate(s, tick)
			if err != nil {
				return nil, err
			}
			eng.ProcessEvent(ev)
			out[s] = append(out[s], h.maybeAnomaly(ev))
		}
		eng.CleanupResolvedEvents(tick)
	}
	logger.Debug("history: %d streams, %d relationship events, %s to %s", len(sorted), extras, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return out, nil
}

// maybeAnomaly scales the normalized value by up to 30% and re-flags it.
func (h *Generator) maybeAnomaly(ev models.StreamEvent) models.StreamEvent {
	if ev.NormalizedValue == nil || !random.Chance(h.src, h.anomalyRate) {
		return ev
	}
	factor := random.Uniform(h.src, 1, maxAnomalyFactor)
	v := *ev.NormalizedValue
	shift := factor - 1
	if random.Chance(h.src, 0.5) {
		v *= factor
	} else {
		v /= factor
		shift = 1 - 1/factor
	}
	flag := models.FlagWarning
	if shift > criticalShift {
		flag = models.FlagCritical
	}
	ev.SetValue(math.Max(0, math.Min(100, v)), flag)
	return ev
}

// BaselineExternalEvents samples templated external events for every
// calendar day touching [start, end): three to five on weekdays, two to
// three on weekends. The result is sorted by timestamp.
func (h *Generator) BaselineExternalEvents(start, end time.Time) []models.ExternalEvent {
	if len(h.templates) == 0 || !start.Before(end) {
		return nil
	}
	loc := h.gen.Location()
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	var out []models.ExternalEvent
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		lo, hi := 3, 5
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			lo, hi = 2, 3
		}
		next := day.AddDate(0, 0, 1)
		span := next.Sub(day)
		for n := random.Between(h.src, lo, hi); n > 0; n-- {
			ts := day.Add(time.Duration(h.src.Float64() * float64(span))).Truncate(time.Second)
			if ts.Before(start) || !ts.Before(end) {
				continue
			}
			out = append(out, fromTemplate(random.Pick(h.src, h.templates), ts))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func fromTemplate(t catalog.EventTemplate, ts time.Time) models.ExternalEvent {
	impact := t.ExpectedImpact
	impact.Streams = append([]string(nil), impact.Streams...)
	return models.ExternalEvent{
		ID:             uuid.NewString(),
		Timestamp:      ts,
		Type:           t.Type,
		Title:          t.Title,
		Description:    t.Description,
		Severity:       t.Severity,
		ExpectedImpact: impact,
		Icon:           t.Icon,
	}
}

// Regenerate replays events under mods and external. Each normalized value
// is inverted to raw, passed through the modifier and impact chain, and
// normalized again. External events apply regardless of their windows.
// Inert events are copied unchanged.
func (h *Generator) Regenerate(events []models.StreamEvent, mods []models.ScenarioModifier, external []models.ExternalEvent) []models.StreamEvent {
	out := make([]models.StreamEvent, 0, len(events))
	for _, ev := range events {
		ev = ev.Clone()
		if ev.NormalizedValue != nil {
			b := h.gen.Stats(ev.Stream)
			raw := stats.Denormalize(*ev.NormalizedValue, b)
			raw = generator.ApplyModifiers(raw, ev.Stream, mods)
			raw = generator.ApplyImpacts(raw, ev.Stream, external)
			ev.SetValue(stats.Normalize(raw, b))
		}
		out = append(out, ev)
	}
	return out
}
