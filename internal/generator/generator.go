// Package generator produces synthetic stream events shaped by time of day,
// scenario modifiers, external events and relationship cascades.
package generator

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
	"github.com/rewired-gh/streamsim/internal/stats"
)

const (
	jitter      = 0.10
	peakFactor  = 1.5
	offFactor   = 0.2
	peakStart   = 8
	peakEnd     = 22
	offStart    = 23
	offEnd      = 7
	weekendLift = stats.WeekendLift
)

// Influence exposes the in-flight scenario state.
type Influence interface {
	EffectiveModifiers() []models.ScenarioModifier
	ActiveEvents() []models.ExternalEvent
}

// Cascades exposes relationship-driven multipliers.
type Cascades interface {
	CascadeMultiplier(stream string, t time.Time) float64
}

// Generator builds StreamEvents. It is safe for concurrent use when its
// random source is.
type Generator struct {
	table     *stats.Table
	src       random.Source
	loc       *time.Location
	influence Influence
	cascades  Cascades
	nowFunc   func() time.Time
	registry  map[string]PayloadFunc
}

// Option configures a Generator.
type Option func(*Generator)

func WithSource(src random.Source) Option { return func(g *Generator) { g.src = src } }
func WithLocation(loc *time.Location) Option { return func(g *Generator) { g.loc = loc } }
func WithInfluence(in Influence) Option { return func(g *Generator) { g.influence = in } }
func WithCascades(c Cascades) Option { return func(g *Generator) { g.cascades = c } }
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.nowFunc = now } }

// WithPayload registers or replaces a stream's payload builder.
func WithPayload(stream string, fn PayloadFunc) Option {
	return func(g *Generator) { g.registry[stream] = fn }
}

// New creates a generator over the baseline table.
func New(table *stats.Table, opts ...Option) *Generator {
	g := &Generator{
		table:    table,
		src:      random.Default(),
		loc:      time.Local,
		nowFunc:  time.Now,
		registry: make(map[string]PayloadFunc, len(registry)),
	}
	for k, v := range registry {
		g.registry[k] = v
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// With returns a copy of g bound to different scenario and cascade state.
func (g *Generator) With(influence Influence, cascades Cascades) *Generator {
	out := *g
	out.influence = influence
	out.cascades = cascades
	return &out
}

func (g *Generator) Location() *time.Location { return g.loc }

// Stats returns the normalization reference for stream.
func (g *Generator) Stats(stream string) stats.BaselineStats {
	return g.table.Stats(stream)
}

// Known reports whether stream has a payload builder.
func (g *Generator) Known(stream string) bool {
	_, ok := g.registry[stream]
	return ok
}

// Generate builds one event for stream at ts (now when zero). Unknown
// streams yield an inert event carrying an error marker along with a
// *models.NotFoundError. A panicking payload builder yields an inert event
// and a *models.InternalError.
func (g *Generator) Generate(stream string, ts time.Time) (ev models.StreamEvent, err error) {
	if ts.IsZero() {
		ts = g.nowFunc()
	}
	build, ok := g.registry[stream]
	if !ok {
		logger.Debug("unknown stream requested: %s", stream)
		return inert(stream, ts, "Unknown stream: "+stream), &models.NotFoundError{Kind: "stream", ID: stream}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("payload builder for %s panicked: %v", stream, r)
			err = &models.InternalError{Op: "generate " + stream, Err: fmt.Errorf("%v", r)}
			ev = inert(stream, ts, err.Error())
		}
	}()

	data := build(&Payload{Src: g.src, Now: ts.In(g.loc)})

	raw := g.table.EventsPerDay(stream) * (1 + random.Uniform(g.src, -jitter, jitter))
	raw = g.Shape(raw, ts)

	if g.influence != nil {
		raw = ApplyModifiers(raw, stream, g.influence.EffectiveModifiers())
		raw = ApplyImpacts(raw, stream, covering(g.influence.ActiveEvents(), ts))
	}
	if g.cascades != nil {
		raw *= g.cascades.CascadeMultiplier(stream, ts)
	}

	ev = models.StreamEvent{Stream: stream, Timestamp: ts, Data: data}
	ev.SetValue(stats.Normalize(raw, g.table.Stats(stream)))
	return ev, nil
}

// GenerateAll builds one event per known stream. Failures never abort the
// batch; they are collected into the returned error.
func (g *Generator) GenerateAll(ts time.Time) ([]models.StreamEvent, error) {
	if ts.IsZero() {
		ts = g.nowFunc()
	}
	var errs *multierror.Error
	events := make([]models.StreamEvent, 0, len(g.registry))
	for _, stream := range g.Streams() {
		ev, err := g.Generate(stream, ts)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		events = append(events, ev)
	}
	return events, errs.ErrorOrNil()
}

// Streams returns every stream this generator can build, sorted.
func (g *Generator) Streams() []string {
	names := make([]string, 0, len(g.registry))
	for name := range g.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shape applies time-of-day and day-of-week patterns in the generator's
// location.
func (g *Generator) Shape(raw float64, ts time.Time) float64 {
	local := ts.In(g.loc)
	switch h := local.Hour(); {
	case h >= peakStart && h < peakEnd:
		raw *= peakFactor
	case h >= offStart || h < offEnd:
		raw *= offFactor
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		raw *= weekendLift
	}
	return raw
}

// ApplyModifiers runs every modifier's modification for stream in order.
func ApplyModifiers(raw float64, stream string, mods []models.ScenarioModifier) float64 {
	for _, m := range mods {
		if mod, ok := m.AffectedStreams[stream]; ok {
			raw = mod.Apply(raw)
		}
	}
	return raw
}

// ApplyImpacts multiplies raw by the impact factor of every event naming
// stream. Callers filter events by window.
func ApplyImpacts(raw float64, stream string, events []models.ExternalEvent) float64 {
	for _, e := range events {
		if e.ExpectedImpact.Affects(stream) {
			raw *= e.ExpectedImpact.Factor()
		}
	}
	return raw
}

func covering(events []models.ExternalEvent, ts time.Time) []models.ExternalEvent {
	out := events[:0:0]
	for _, e := range events {
		if e.Covers(ts) {
			out = append(out, e)
		}
	}
	return out
}

func inert(stream string, ts time.Time, msg string) models.StreamEvent {
	return models.StreamEvent{
		Stream:    stream,
		Timestamp: ts,
		Data:      map[string]any{"error": msg},
	}
}
