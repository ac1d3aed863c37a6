// Package scenario owns the lifecycle of the single in-flight scenario and
// the loading of scenario definitions from the catalog.
package scenario

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rewired-gh/streamsim/internal/duration"
	"github.com/rewired-gh/streamsim/internal/models"
)

// Transition records one lifecycle change.
type Transition struct {
	ScenarioID string
	From       models.Status
	To         models.Status
	At         time.Time
}

// Observer is told about transitions after the engine lock is released.
type Observer func(Transition)

// Engine tracks scenario modifiers and their related external events.
// Lifecycle state is recomputed lazily on every read.
type Engine struct {
	mu           sync.Mutex
	nowFunc      func() time.Time
	observer     Observer
	modifiers    []models.ScenarioModifier
	events       []models.ExternalEvent
	lastModified time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.nowFunc = now } }

func WithObserver(fn Observer) Option { return func(e *Engine) { e.observer = fn } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{nowFunc: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.lastModified = e.nowFunc()
	return e
}

// SetObserver replaces the transition observer.
func (e *Engine) SetObserver(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Activate installs mod and its events. It fails with a *models.ConflictError
// while another scenario is active or settling. Settled scenarios are
// discarded.
func (e *Engine) Activate(mod models.ScenarioModifier, events []models.ExternalEvent) error {
	if err := mod.Validate(); err != nil {
		return models.NewValidationError("scenario", "%v", err)
	}

	e.mu.Lock()
	now := e.nowFunc()
	transitions := e.refreshLocked(now)
	for _, m := range e.modifiers {
		if m.Status.InFlight() {
			e.mu.Unlock()
			e.notify(transitions)
			return &models.ConflictError{BlockingID: m.ID}
		}
	}

	mod = mod.Clone()
	if mod.StartTime.IsZero() {
		mod.StartTime = now
	}
	if mod.SettlementType == "" {
		mod.SettlementType = models.SettlementLinear
	}
	mod.Status = models.StatusActive
	mod.SettlementStartTime = nil

	e.modifiers = []models.ScenarioModifier{mod}
	e.events = append([]models.ExternalEvent(nil), events...)
	e.lastModified = now
	transitions = append(transitions, Transition{ScenarioID: mod.ID, To: models.StatusActive, At: now})
	transitions = append(transitions, e.refreshLocked(now)...)
	e.mu.Unlock()

	e.notify(transitions)
	return nil
}

// Stop moves the active scenario into settling. It returns false when no
// scenario is active.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	now := e.nowFunc()
	transitions := e.refreshLocked(now)
	stopped := false
	for i := range e.modifiers {
		m := &e.modifiers[i]
		if m.Status != models.StatusActive {
			continue
		}
		start := now
		m.SettlementStartTime = &start
		m.Status = models.StatusSettling
		transitions = append(transitions, Transition{ScenarioID: m.ID, From: models.StatusActive, To: models.StatusSettling, At: now})
		stopped = true
	}
	if stopped {
		e.lastModified = now
		transitions = append(transitions, e.refreshLocked(now)...)
	}
	e.mu.Unlock()

	e.notify(transitions)
	return stopped
}

// Reset discards every modifier and event.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.modifiers = nil
	e.events = nil
	e.lastModified = e.nowFunc()
	e.mu.Unlock()
}

// EffectiveModifiers returns settlement-adjusted copies of the in-flight
// modifiers.
func (e *Engine) EffectiveModifiers() []models.ScenarioModifier {
	e.mu.Lock()
	now := e.nowFunc()
	transitions := e.refreshLocked(now)
	var out []models.ScenarioModifier
	for _, m := range e.modifiers {
		if !m.Status.InFlight() {
			continue
		}
		eff := m.Clone()
		if m.Status == models.StatusSettling {
			p := progress(m, now)
			for stream, mod := range eff.AffectedStreams {
				eff.AffectedStreams[stream] = mod.Settle(p)
			}
		}
		out = append(out, eff)
	}
	e.mu.Unlock()

	e.notify(transitions)
	return out
}

// ActiveEvents returns the external events owned by the current scenario.
func (e *Engine) ActiveEvents() []models.ExternalEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ExternalEvent(nil), e.events...)
}

// ProbabilityShift sums the effective shift every in-flight modifier
// declares for trigger → target.
func (e *Engine) ProbabilityShift(trigger, target string) float64 {
	var shift float64
	for _, m := range e.EffectiveModifiers() {
		shift += m.AffectedStreams[trigger].ProbabilityShift[target]
	}
	return shift
}

// InFlight returns the id of the active or settling scenario.
func (e *Engine) InFlight() (string, bool) {
	e.mu.Lock()
	transitions := e.refreshLocked(e.nowFunc())
	id, ok := "", false
	for _, m := range e.modifiers {
		if m.Status.InFlight() {
			id, ok = m.ID, true
			break
		}
	}
	e.mu.Unlock()

	e.notify(transitions)
	return id, ok
}

// State reports the engine for external consumers.
func (e *Engine) State() models.SimulationState {
	e.mu.Lock()
	now := e.nowFunc()
	transitions := e.refreshLocked(now)

	st := models.SimulationState{
		BaselineState:         models.BaselineNormal,
		HistoricalMode:        models.HistoricalBaseline,
		ActiveModifiers:       make([]models.ModifierSnapshot, 0, len(e.modifiers)),
		ActiveEvents:          append([]models.ExternalEvent{}, e.events...),
		CurrentSimulationTime: now,
		LastModified:          e.lastModified,
	}
	for _, m := range e.modifiers {
		st.ActiveModifiers = append(st.ActiveModifiers, models.ModifierSnapshot{
			ScenarioModifier:   m.Clone(),
			SettlementProgress: progress(m, now),
		})
		if m.Status.InFlight() {
			st.BaselineState = models.BaselineCustom
			st.HistoricalMode = models.HistoricalModified
		}
	}
	e.mu.Unlock()

	e.notify(transitions)
	return st
}

// refreshLocked advances every modifier's status to match now.
func (e *Engine) refreshLocked(now time.Time) []Transition {
	var out []Transition
	for i := range e.modifiers {
		m := &e.modifiers[i]
		if m.Status == models.StatusActive && m.Duration != "" {
			d := duration.Max(m.Duration)
			if end := m.StartTime.Add(d); !now.Before(end) {
				m.SettlementStartTime = &end
				m.Status = models.StatusSettling
				out = append(out, Transition{ScenarioID: m.ID, From: models.StatusActive, To: models.StatusSettling, At: end})
			}
		}
		if m.Status == models.StatusSettling && progress(*m, now) >= 1 {
			m.Status = models.StatusSettled
			out = append(out, Transition{ScenarioID: m.ID, From: models.StatusSettling, To: models.StatusSettled, At: now})
		}
	}
	if len(out) > 0 {
		e.lastModified = now
	}
	return out
}

func (e *Engine) notify(transitions []Transition) {
	e.mu.Lock()
	fn := e.observer
	e.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range transitions {
		fn(t)
	}
}

// progress is the settlement progress in [0, 1] of m at now.
func progress(m models.ScenarioModifier, now time.Time) float64 {
	switch m.Status {
	case models.StatusSettled:
		return 1
	case models.StatusSettling:
	default:
		return 0
	}
	sd := duration.Max(m.SettlementDuration)
	if sd <= 0 || m.SettlementStartTime == nil {
		return 1
	}
	r := float64(now.Sub(*m.SettlementStartTime)) / float64(sd)
	r = math.Max(0, math.Min(1, r))
	if m.SettlementType == models.SettlementExponential {
		return 1 - (1-r)*(1-r)
	}
	return r
}

// Progress exposes the settlement curve for a modifier snapshot.
func Progress(m models.ScenarioModifier, now time.Time) float64 { return progress(m, now) }

func (t Transition) String() string {
	if t.From == "" {
		return fmt.Sprintf("%s -> %s", t.ScenarioID, t.To)
	}
	return fmt.Sprintf("%s %s -> %s", t.ScenarioID, t.From, t.To)
}
