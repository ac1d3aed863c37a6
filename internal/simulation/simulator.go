// Package simulation wires the engines into one context object that answers
// scenario, history, correlation and generation queries and fans live events
// out to storage, subscribers and notifications.
package simulation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/streamsim/internal/baseline"
	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/correlation"
	"github.com/rewired-gh/streamsim/internal/generator"
	"github.com/rewired-gh/streamsim/internal/history"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/metrics"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
	"github.com/rewired-gh/streamsim/internal/relationship"
	"github.com/rewired-gh/streamsim/internal/scenario"
	"github.com/rewired-gh/streamsim/internal/stats"
)

// Store persists live events, the scenario audit log and correlation
// snapshots.
type Store interface {
	AddEvents(events []models.StreamEvent) error
	RotateEvents() (int64, error)
	AddAudit(entry models.AuditEntry) error
	ListAudit(limit int) ([]models.AuditEntry, error)
	SaveCorrelations(cs []models.CorrelationData) error
}

// Publisher delivers live events to subscribers. It must not block.
type Publisher interface {
	Publish(events []models.StreamEvent)
}

// Notifier reports anomalies, scenario lifecycle changes and failures to an
// operator.
type Notifier interface {
	NotifyAnomalies(events []models.StreamEvent) (int, error)
	NotifyScenario(action, scenarioID string, status models.Status) error
	SendError(err error) error
}

// Config holds the simulation settings.
type Config struct {
	Location        *time.Location
	HistoryDays     int
	HistoryInterval time.Duration
	AnomalyRate     float64
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.nowFunc = now } }

func WithSource(src random.Source) Option { return func(s *Simulator) { s.src = src } }

func WithStore(st Store) Option { return func(s *Simulator) { s.store = st } }

func WithPublisher(p Publisher) Option { return func(s *Simulator) { s.publisher = p } }

func WithNotifier(n Notifier) Option { return func(s *Simulator) { s.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Simulator) { s.metrics = m } }

// WithGeneratorOptions passes extra options to the event generator.
func WithGeneratorOptions(opts ...generator.Option) Option {
	return func(s *Simulator) { s.genOpts = append(s.genOpts, opts...) }
}

// Simulator owns every engine for the life of the process.
type Simulator struct {
	cat      *catalog.Catalog
	streams  []string
	cadences map[catalog.Cadence][]string

	nowFunc func() time.Time
	src     random.Source
	genOpts []generator.Option

	gen       *generator.Generator
	rel       *relationship.Engine
	scenarios *scenario.Engine
	loader    *scenario.Loader
	tracker   *correlation.Tracker
	hist      *history.Generator
	baseline  *baseline.Loader

	store     Store
	publisher Publisher
	notifier  Notifier
	metrics   *metrics.Metrics

	mu         sync.Mutex
	registered []string // external event ids registered with the tracker
}

// New builds a simulator over cat. The baseline is generated lazily on the
// first history query or by LoadBaseline.
func New(cat *catalog.Catalog, cfg Config, opts ...Option) (*Simulator, error) {
	if err := cat.CheckStreams(generator.Known); err != nil {
		return nil, fmt.Errorf("catalog references unknown streams: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Simulator{
		cat:      cat,
		streams:  cat.StreamNames(),
		cadences: cat.StreamsByCadence(),
		nowFunc:  time.Now,
		src:      random.Default(),
		tracker:  correlation.NewTracker(),
		loader:   scenario.NewLoader(cat),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scenarios = scenario.NewEngine(scenario.WithClock(s.nowFunc), scenario.WithObserver(s.onTransition))

	rel, err := relationship.New(cat.Relationships,
		relationship.WithSource(s.src),
		relationship.WithShifter(s.scenarios.ProbabilityShift),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile relationships: %w", err)
	}
	s.rel = rel

	genOpts := append([]generator.Option{
		generator.WithLocation(cfg.Location),
		generator.WithSource(s.src),
		generator.WithClock(s.nowFunc),
	}, s.genOpts...)
	base := generator.New(stats.NewTable(cat.EventsPerDay()), genOpts...)
	s.gen = base.With(s.scenarios, s.rel)

	s.hist = history.New(base, cat.Relationships, cat.Templates,
		history.WithSource(s.src),
		history.WithInterval(cfg.HistoryInterval),
		history.WithAnomalyRate(cfg.AnomalyRate),
	)
	days := cfg.HistoryDays
	if days <= 0 {
		days = 30
	}
	s.baseline = baseline.NewLoader(s.hist, s.streams, days,
		baseline.WithLocation(cfg.Location),
		baseline.WithClock(s.nowFunc),
	)
	return s, nil
}

// Streams returns the configured stream names.
func (s *Simulator) Streams() []string { return append([]string(nil), s.streams...) }

// LoadBaseline generates the in-memory history backfill.
func (s *Simulator) LoadBaseline(ctx context.Context) error {
	return s.baseline.Load(ctx)
}

// Baseline exposes the backfill for read-only consumers.
func (s *Simulator) Baseline() *baseline.Loader { return s.baseline }

// ActivateScenario loads id from the catalog and makes it the in-flight
// scenario.
func (s *Simulator) ActivateScenario(id string) (models.ScenarioModifier, []models.ExternalEvent, error) {
	mod, events, err := s.loader.Load(id, s.nowFunc())
	if err != nil {
		return models.ScenarioModifier{}, nil, err
	}
	if err := s.scenarios.Activate(mod, events); err != nil {
		return models.ScenarioModifier{}, nil, err
	}
	if err := s.rel.SetScenarioCascades(mod.ID, mod.CascadeEffects); err != nil {
		s.scenarios.Reset()
		return models.ScenarioModifier{}, nil, &models.InternalError{Op: "activate " + mod.ID, Err: err}
	}

	s.retireTracked()
	s.mu.Lock()
	for _, ev := range events {
		s.tracker.Register(ev)
		s.registered = append(s.registered, ev.ID)
	}
	s.mu.Unlock()

	s.audit(models.AuditEntry{ScenarioID: mod.ID, Action: models.AuditActivate, Status: models.StatusActive,
		Detail: fmt.Sprintf("%d external events", len(events))})
	s.notifyScenario("activated", mod.ID, models.StatusActive)
	logger.Info("Scenario %s activated with %d external events", mod.ID, len(events))

	for _, m := range s.scenarios.State().ActiveModifiers {
		if m.ID == mod.ID {
			return m.ScenarioModifier, events, nil
		}
	}
	return mod, events, nil
}

// StopScenario moves the active scenario into settling.
func (s *Simulator) StopScenario() (models.ScenarioModifier, error) {
	if !s.scenarios.Stop() {
		return models.ScenarioModifier{}, models.NewValidationError("scenario", "no active scenario to stop")
	}
	var stopped models.ScenarioModifier
	for _, m := range s.scenarios.State().ActiveModifiers {
		if m.Status.InFlight() {
			stopped = m.ScenarioModifier
			break
		}
	}
	s.audit(models.AuditEntry{ScenarioID: stopped.ID, Action: models.AuditStop, Status: stopped.Status})
	logger.Info("Scenario %s stopped, settling", stopped.ID)
	return stopped, nil
}

// Reset returns the simulation to baseline. Final correlations of the
// tracked external events are persisted before the tracker is cleared.
func (s *Simulator) Reset() {
	id, _ := s.scenarios.InFlight()
	s.retireTracked()
	s.scenarios.Reset()
	s.rel.ClearScenarioCascades()
	s.tracker.Reset()

	s.audit(models.AuditEntry{ScenarioID: id, Action: models.AuditReset})
	if id != "" {
		s.notifyScenario("reset", id, "")
	}
	logger.Info("Simulation reset to baseline")
}

// retireTracked stops observing the previously registered external events
// and stores their final correlations.
func (s *Simulator) retireTracked() {
	s.mu.Lock()
	ids := s.registered
	s.registered = nil
	s.mu.Unlock()

	var final []models.CorrelationData
	for _, id := range ids {
		final = append(final, s.tracker.Unregister(id)...)
	}
	s.saveCorrelations(final)
}

// State reports the scenario engine.
func (s *Simulator) State() models.SimulationState { return s.scenarios.State() }

// ListScenarios returns the scenario catalog.
func (s *Simulator) ListScenarios() []scenario.Summary { return s.loader.List() }

// Correlations returns correlation results matching f.
func (s *Simulator) Correlations(f correlation.Filter) []models.CorrelationData {
	return s.tracker.GetCorrelations(f)
}

// PersistCorrelations snapshots every current correlation result.
func (s *Simulator) PersistCorrelations() {
	s.saveCorrelations(s.tracker.GetCorrelations(correlation.Filter{}))
}

func (s *Simulator) saveCorrelations(cs []models.CorrelationData) {
	if s.store == nil || len(cs) == 0 {
		return
	}
	if err := s.store.SaveCorrelations(cs); err != nil {
		logger.Warn("Failed to save correlations: %v", err)
	}
}

// Audit returns the newest audit entries.
func (s *Simulator) Audit(limit int) ([]models.AuditEntry, error) {
	if s.store == nil {
		return []models.AuditEntry{}, nil
	}
	return s.store.ListAudit(limit)
}

// GenerateEvent builds one live event for stream and fans it out.
func (s *Simulator) GenerateEvent(stream string) (models.StreamEvent, error) {
	ev, err := s.gen.Generate(stream, time.Time{})
	if err != nil {
		s.metrics.GenerationError(stream)
		return ev, err
	}
	s.emit([]models.StreamEvent{ev})
	return ev, nil
}

// GenerateAll builds one live event per known stream. Failed streams are
// returned as inert events alongside the aggregated error.
func (s *Simulator) GenerateAll() ([]models.StreamEvent, error) {
	events, err := s.gen.GenerateAll(time.Time{})
	for _, ev := range events {
		if _, bad := ev.ErrorMarker(); bad {
			s.metrics.GenerationError(ev.Stream)
		}
	}
	s.emit(events)
	return events, err
}

// emit runs live events through relationship processing, correlation
// recording, metrics, storage, delivery and anomaly notification.
func (s *Simulator) emit(events []models.StreamEvent) {
	live := make([]models.StreamEvent, 0, len(events))
	for _, ev := range events {
		if _, bad := ev.ErrorMarker(); bad {
			continue
		}
		s.rel.ProcessEvent(ev)
		s.tracker.Record(ev)
		s.metrics.ObserveEvent(ev)
		live = append(live, ev)
	}
	s.metrics.SetPending(s.rel.PendingCount())
	if len(live) == 0 {
		return
	}

	if s.store != nil {
		if err := s.store.AddEvents(live); err != nil {
			logger.Warn("Failed to store %d events: %v", len(live), err)
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(live)
	}
	if s.notifier != nil {
		go func() {
			if _, err := s.notifier.NotifyAnomalies(live); err != nil {
				logger.Warn("Failed to send anomaly notification: %v", err)
			}
		}()
	}
}

func (s *Simulator) onTransition(t scenario.Transition) {
	s.metrics.Transition(t.ScenarioID, t.To)
	logger.Debug("Scenario transition: %s", t)
	if t.From == "" {
		return
	}
	s.audit(models.AuditEntry{ScenarioID: t.ScenarioID, Action: models.AuditTransition, Status: t.To,
		Detail: fmt.Sprintf("%s -> %s", t.From, t.To), At: t.At})
	s.notifyScenario("transition", t.ScenarioID, t.To)
}

func (s *Simulator) audit(entry models.AuditEntry) {
	if s.store == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = s.nowFunc()
	}
	if err := s.store.AddAudit(entry); err != nil {
		logger.Warn("Failed to write audit entry for %s: %v", entry.ScenarioID, err)
	}
}

func (s *Simulator) notifyScenario(action, id string, status models.Status) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.NotifyScenario(action, id, status); err != nil {
			logger.Warn("Failed to send scenario notification: %v", err)
		}
	}()
}

// Summary renders a short plain-text status report.
func (s *Simulator) Summary() string {
	st := s.State()
	var b strings.Builder
	fmt.Fprintf(&b, "Baseline: %s\n", st.BaselineState)
	if len(st.ActiveModifiers) == 0 {
		b.WriteString("Scenario: none\n")
	}
	for _, m := range st.ActiveModifiers {
		fmt.Fprintf(&b, "Scenario: %s (%s, settlement %.0f%%)\n", m.ID, m.Status, m.SettlementProgress*100)
	}
	fmt.Fprintf(&b, "External events: %d\n", len(st.ActiveEvents))
	fmt.Fprintf(&b, "Pending relationship events: %d", s.rel.PendingCount())
	return b.String()
}
