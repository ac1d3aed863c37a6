// Package relationship enforces declared inter-stream rules: event chains,
// probability matrices, cascading effects and temporal dependencies.
package relationship

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/duration"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
)

const (
	// StaleAfter is how long past due an unresolved pending event survives.
	StaleAfter = 24 * time.Hour
	// DefaultCascadeWindow applies to cascades that declare no window.
	DefaultCascadeWindow = time.Hour

	sourceCatalog = "catalog"
)

// Shifter returns the probability adjustment for trigger → target.
type Shifter func(trigger, target string) float64

type chainRule struct {
	chain       string
	target      string
	probability float64
	delay       duration.Span
	cond        catalog.Predicate
}

type matrixOutcome struct {
	stream string
	weight float64
	delay  duration.Span
	cond   catalog.Predicate
}

type matrixRule struct {
	id       string
	outcomes []matrixOutcome
}

type cascadeRule struct {
	source      string
	target      string
	multiplier  float64
	delay       duration.Span
	window      duration.Span
	description string
	cond        catalog.Predicate
}

type dependency struct {
	prerequisite string
	minDelay     time.Duration
}

// Engine applies relationship rules to observed events. Its methods are
// safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	store    Store
	src      random.Source
	shift    Shifter
	chains   map[string][]chainRule
	matrices map[string][]matrixRule
	cascades map[string][]cascadeRule
	deps     map[string][]dependency

	scenarioID       string
	scenarioCascades map[string][]cascadeRule
}

// Option configures an Engine.
type Option func(*Engine)

func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

func WithSource(src random.Source) Option { return func(e *Engine) { e.src = src } }

// WithShifter installs the probability adjustment consulted for chains.
func WithShifter(fn Shifter) Option { return func(e *Engine) { e.shift = fn } }

// New compiles rel into an engine. Every malformed rule is reported.
func New(rel catalog.Relationships, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:            NewMemoryStore(),
		src:              random.Default(),
		chains:           make(map[string][]chainRule),
		matrices:         make(map[string][]matrixRule),
		cascades:         make(map[string][]cascadeRule),
		deps:             make(map[string][]dependency),
		scenarioCascades: make(map[string][]cascadeRule),
	}
	for _, opt := range opts {
		opt(e)
	}

	var errs *multierror.Error
	for _, chain := range rel.EventChains {
		for _, step := range chain.Steps {
			for _, link := range step.Next {
				delay, err1 := duration.Parse(link.Delay)
				cond, err2 := catalog.CompileCondition(link.Condition)
				if err := firstErr(err1, err2); err != nil {
					errs = multierror.Append(errs, fmt.Errorf("chain %s %s->%s: %w", chain.ID, step.Stream, link.Stream, err))
					continue
				}
				e.chains[step.Stream] = append(e.chains[step.Stream], chainRule{
					chain:       chain.ID,
					target:      link.Stream,
					probability: link.Probability,
					delay:       delay,
					cond:        cond,
				})
			}
		}
	}

	ids := make([]string, 0, len(rel.ProbabilityMatrices))
	for id := range rel.ProbabilityMatrices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := rel.ProbabilityMatrices[id]
		rule := matrixRule{id: id}
		for _, o := range m.Outcomes {
			delay, err1 := duration.Parse(o.Delay)
			cond, err2 := catalog.CompileCondition(o.Condition)
			if err := firstErr(err1, err2); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("matrix %s outcome %s: %w", id, o.Stream, err))
				continue
			}
			rule.outcomes = append(rule.outcomes, matrixOutcome{stream: o.Stream, weight: o.Weight, delay: delay, cond: cond})
		}
		e.matrices[m.Trigger] = append(e.matrices[m.Trigger], rule)
	}

	for _, ce := range rel.CascadingEffects {
		trigger, err := catalog.CompileCondition(ce.Condition)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("cascade from %s: %w", ce.Trigger, err))
			continue
		}
		for _, eff := range ce.Effects {
			rule, err := compileCascade(sourceCatalog, eff.Stream, eff.Multiplier, eff.Delay, eff.Window, eff.Condition, eff.Description)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("cascade %s->%s: %w", ce.Trigger, eff.Stream, err))
				continue
			}
			rule.cond = both(trigger, rule.cond)
			e.cascades[ce.Trigger] = append(e.cascades[ce.Trigger], rule)
		}
	}

	for _, td := range rel.TemporalDependencies {
		span, err := duration.Parse(td.MinDelay)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("dependency %s->%s: %w", td.Prerequisite, td.Dependent, err))
			continue
		}
		e.deps[td.Dependent] = append(e.deps[td.Dependent], dependency{prerequisite: td.Prerequisite, minDelay: span.Max})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return e, nil
}

func compileCascade(source, target string, multiplier float64, delay, window, condition, description string) (cascadeRule, error) {
	d, err := duration.Parse(delay)
	if err != nil {
		return cascadeRule{}, err
	}
	w, err := duration.Parse(window)
	if err != nil {
		return cascadeRule{}, err
	}
	cond, err := catalog.CompileCondition(condition)
	if err != nil {
		return cascadeRule{}, err
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return cascadeRule{
		source:      source,
		target:      target,
		multiplier:  multiplier,
		delay:       d,
		window:      w,
		description: description,
		cond:        cond,
	}, nil
}

func both(a, b catalog.Predicate) catalog.Predicate {
	return func(data map[string]any) bool { return a(data) && b(data) }
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// SetShifter replaces the probability adjustment consulted for chains.
func (e *Engine) SetShifter(fn Shifter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shift = fn
}

// ProcessEvent records ev as an occurrence and schedules every follow-up
// its rules allow. Inert events are ignored.
func (e *Engine) ProcessEvent(ev models.StreamEvent) []PendingEvent {
	if _, inert := ev.ErrorMarker(); inert {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.SetLastOccurrence(ev.Stream, ev.Timestamp)

	var scheduled []PendingEvent
	for _, rule := range e.chains[ev.Stream] {
		if !rule.cond(ev.Data) {
			continue
		}
		p := rule.probability
		if e.shift != nil {
			p += e.shift(ev.Stream, rule.target)
		}
		p = min(1, max(0, p))
		if !random.Chance(e.src, p) {
			continue
		}
		pending := PendingEvent{
			ID:            uuid.NewString(),
			Source:        "chain:" + rule.chain,
			TriggerStream: ev.Stream,
			TriggerTime:   ev.Timestamp,
			Outcomes: []Outcome{{
				Stream:      rule.target,
				Probability: p,
				Delay:       rule.delay.Draw(e.src),
			}},
		}
		e.store.PutPending(pending)
		scheduled = append(scheduled, pending)
	}

	for _, rule := range e.matrices[ev.Stream] {
		var outcomes []Outcome
		for _, o := range rule.outcomes {
			if o.cond(ev.Data) {
				outcomes = append(outcomes, Outcome{Stream: o.stream, Weight: o.weight, Delay: o.delay.Draw(e.src)})
			}
		}
		if len(outcomes) == 0 {
			continue
		}
		pending := PendingEvent{
			ID:            uuid.NewString(),
			Source:        "matrix:" + rule.id,
			TriggerStream: ev.Stream,
			TriggerTime:   ev.Timestamp,
			Outcomes:      outcomes,
			Weighted:      true,
		}
		e.store.PutPending(pending)
		scheduled = append(scheduled, pending)
	}

	e.scheduleCascades(ev, e.cascades[ev.Stream])
	e.scheduleCascades(ev, e.scenarioCascades[ev.Stream])
	return scheduled
}

func (e *Engine) scheduleCascades(ev models.StreamEvent, rules []cascadeRule) {
	for _, rule := range rules {
		if !rule.cond(ev.Data) {
			continue
		}
		window := rule.window.Draw(e.src)
		if window <= 0 {
			window = DefaultCascadeWindow
		}
		start := ev.Timestamp.Add(rule.delay.Draw(e.src))
		e.store.PutCascade(ScheduledCascade{
			ID:            uuid.NewString(),
			Source:        rule.source,
			TriggerStream: ev.Stream,
			TargetStream:  rule.target,
			Multiplier:    rule.multiplier,
			Start:         start,
			End:           start.Add(window),
			Description:   rule.description,
		})
	}
}

// PendingEventsToResolve returns unresolved entries whose longest drawn
// delay has elapsed at now, oldest first.
func (e *Engine) PendingEventsToResolve(now time.Time) []PendingEvent {
	var due []PendingEvent
	e.store.ScanPending(func(p PendingEvent) bool {
		if !p.Resolved && !now.Before(p.DueAt()) {
			due = append(due, p)
		}
		return true
	})
	sort.Slice(due, func(i, j int) bool { return due[i].TriggerTime.Before(due[j].TriggerTime) })
	return due
}

// ResolvePendingEvent makes the probabilistic choice for id and marks it
// resolved. It returns the chosen stream, or false when nothing fires.
func (e *Engine) ResolvePendingEvent(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.store.GetPending(id)
	if !ok || p.Resolved || len(p.Outcomes) == 0 {
		return "", false
	}
	p.Resolved = true
	if p.Weighted {
		p.Chosen = e.weighted(p.Outcomes)
	} else {
		// chain probability was rolled when the entry was scheduled
		p.Chosen = p.Outcomes[0].Stream
	}
	e.store.PutPending(p)
	return p.Chosen, p.Chosen != ""
}

func (e *Engine) weighted(outcomes []Outcome) string {
	var total float64
	for _, o := range outcomes {
		if o.Weight > 0 {
			total += o.Weight
		}
	}
	if total <= 0 {
		return outcomes[0].Stream
	}
	r := e.src.Float64() * total
	for _, o := range outcomes {
		if o.Weight <= 0 {
			continue
		}
		if r < o.Weight {
			return o.Stream
		}
		r -= o.Weight
	}
	return outcomes[0].Stream
}

// ResolveDue resolves every due entry and returns the chosen streams in
// trigger order.
func (e *Engine) ResolveDue(now time.Time) []string {
	var streams []string
	for _, p := range e.PendingEventsToResolve(now) {
		if stream, ok := e.ResolvePendingEvent(p.ID); ok {
			streams = append(streams, stream)
		}
	}
	return streams
}

// CleanupResolvedEvents drops resolved entries, entries more than
// StaleAfter past due, and cascades whose window has closed. It returns the
// number of records removed.
func (e *Engine) CleanupResolvedEvents(now time.Time) int {
	removed := 0
	e.store.ScanPending(func(p PendingEvent) bool {
		if p.Resolved || now.Sub(p.DueAt()) > StaleAfter {
			e.store.DeletePending(p.ID)
			removed++
		}
		return true
	})
	e.store.ScanCascades(func(c ScheduledCascade) bool {
		if !now.Before(c.End) {
			e.store.DeleteCascade(c.ID)
			removed++
		}
		return true
	})
	return removed
}

// CascadeMultiplier is the product of every cascade on stream covering t.
func (e *Engine) CascadeMultiplier(stream string, t time.Time) float64 {
	m := 1.0
	e.store.ScanCascades(func(c ScheduledCascade) bool {
		if c.TargetStream == stream && c.Covers(t) {
			m *= c.Multiplier
		}
		return true
	})
	return m
}

// CanGenerateStream reports whether every prerequisite of stream has
// occurred at least its minimum delay before ts.
func (e *Engine) CanGenerateStream(stream string, ts time.Time) bool {
	for _, dep := range e.deps[stream] {
		last := e.store.LastOccurrence(dep.prerequisite)
		if last.IsZero() || ts.Sub(last) < dep.minDelay {
			return false
		}
	}
	return true
}

// SetScenarioCascades installs a scenario's cascade rules, replacing any
// previously installed scenario's rules and their scheduled windows.
func (e *Engine) SetScenarioCascades(scenarioID string, rules []models.CascadeRule) error {
	compiled := make(map[string][]cascadeRule)
	var errs *multierror.Error
	for _, r := range rules {
		mult := 1.0
		if r.Effect.Multiplier != nil {
			mult = *r.Effect.Multiplier
		}
		rule, err := compileCascade(scenarioID, r.TargetStream, mult, r.Delay, r.Window, r.Condition, r.Effect.Description)
		if err != nil {
			errs = multierror.Append(errs, models.NewValidationError("cascadeEffects", "%s->%s: %v", r.SourceStream, r.TargetStream, err))
			continue
		}
		compiled[r.SourceStream] = append(compiled[r.SourceStream], rule)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropScenarioLocked()
	e.scenarioID = scenarioID
	e.scenarioCascades = compiled
	return nil
}

// ClearScenarioCascades removes the installed scenario's rules and windows.
func (e *Engine) ClearScenarioCascades() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropScenarioLocked()
}

func (e *Engine) dropScenarioLocked() {
	if e.scenarioID != "" {
		old := e.scenarioID
		e.store.ScanCascades(func(c ScheduledCascade) bool {
			if c.Source == old {
				e.store.DeleteCascade(c.ID)
			}
			return true
		})
	}
	e.scenarioID = ""
	e.scenarioCascades = make(map[string][]cascadeRule)
}

// Cascades returns the scheduled cascade windows sorted by start.
func (e *Engine) Cascades() []ScheduledCascade {
	var out []ScheduledCascade
	e.store.ScanCascades(func(c ScheduledCascade) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// PendingCount returns the number of unresolved pending events.
func (e *Engine) PendingCount() int {
	n := 0
	e.store.ScanPending(func(p PendingEvent) bool {
		if !p.Resolved {
			n++
		}
		return true
	})
	return n
}

// Reset clears all runtime state and any scenario rules.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Clear()
	e.scenarioID = ""
	e.scenarioCascades = make(map[string][]cascadeRule)
}
