package simulation

import (
	"context"
	"time"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
)

// EmitterConfig sets the emission cadence per class and the housekeeping
// intervals.
type EmitterConfig struct {
	High    time.Duration
	Medium  time.Duration
	Low     time.Duration
	Cleanup time.Duration
	Rotate  time.Duration
}

// Emitter drives live generation on timers.
type Emitter struct {
	sim *Simulator
	cfg EmitterConfig

	consecutiveFailures int
}

func NewEmitter(sim *Simulator, cfg EmitterConfig) *Emitter {
	if cfg.High <= 0 {
		cfg.High = 2 * time.Second
	}
	if cfg.Medium <= 0 {
		cfg.Medium = 10 * time.Second
	}
	if cfg.Low <= 0 {
		cfg.Low = time.Minute
	}
	if cfg.Cleanup <= 0 {
		cfg.Cleanup = time.Minute
	}
	if cfg.Rotate <= 0 {
		cfg.Rotate = 5 * time.Minute
	}
	return &Emitter{sim: sim, cfg: cfg}
}

// Run emits until ctx is cancelled. All ticks run on the calling goroutine.
func (e *Emitter) Run(ctx context.Context) {
	high := time.NewTicker(e.cfg.High)
	medium := time.NewTicker(e.cfg.Medium)
	low := time.NewTicker(e.cfg.Low)
	cleanup := time.NewTicker(e.cfg.Cleanup)
	rotate := time.NewTicker(e.cfg.Rotate)
	defer func() {
		high.Stop()
		medium.Stop()
		low.Stop()
		cleanup.Stop()
		rotate.Stop()
	}()

	logger.Info("Emitter started (high: %v, medium: %v, low: %v)", e.cfg.High, e.cfg.Medium, e.cfg.Low)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Emitter stopped")
			return
		case <-high.C:
			e.Tick(catalog.CadenceHigh, e.sim.nowFunc())
		case <-medium.C:
			e.Tick(catalog.CadenceMedium, e.sim.nowFunc())
		case <-low.C:
			e.Tick(catalog.CadenceLow, e.sim.nowFunc())
		case <-cleanup.C:
			e.Cleanup(e.sim.nowFunc())
		case <-rotate.C:
			e.Rotate()
		}
	}
}

// Tick generates every stream of cadence that passes the temporal gate,
// plus one event per due relationship outcome, and emits them as one batch.
// Resolved and stale relationship entries are purged before it returns.
func (e *Emitter) Tick(cadence catalog.Cadence, now time.Time) []models.StreamEvent {
	s := e.sim
	var (
		batch  []models.StreamEvent
		failed error
	)
	generate := func(stream string) {
		if !s.rel.CanGenerateStream(stream, now) {
			return
		}
		ev, err := s.gen.Generate(stream, now)
		if err != nil {
			s.metrics.GenerationError(stream)
			failed = err
			return
		}
		batch = append(batch, ev)
	}

	for _, stream := range s.cadences[cadence] {
		generate(stream)
	}
	for _, stream := range s.rel.ResolveDue(now) {
		generate(stream)
	}

	s.emit(batch)
	if removed := s.rel.CleanupResolvedEvents(now); removed > 0 {
		s.metrics.SetPending(s.rel.PendingCount())
	}
	e.handleResult(failed)
	return batch
}

// handleResult reports the first failure of a run of failing ticks.
func (e *Emitter) handleResult(err error) {
	if err == nil {
		if e.consecutiveFailures > 0 {
			logger.Info("Generation recovered after %d failed ticks", e.consecutiveFailures)
		}
		e.consecutiveFailures = 0
		return
	}
	e.consecutiveFailures++
	logger.Error("Generation tick failed: %v", err)
	if e.consecutiveFailures == 1 && e.sim.notifier != nil {
		if sendErr := e.sim.notifier.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
}

// Cleanup purges relationship state between ticks and snapshots
// correlations.
func (e *Emitter) Cleanup(now time.Time) {
	removed := e.sim.rel.CleanupResolvedEvents(now)
	e.sim.metrics.SetPending(e.sim.rel.PendingCount())
	e.sim.PersistCorrelations()
	logger.Debug("Relationship cleanup removed %d entries", removed)
}

// Rotate trims the stored event log.
func (e *Emitter) Rotate() {
	if e.sim.store == nil {
		return
	}
	removed, err := e.sim.store.RotateEvents()
	if err != nil {
		logger.Warn("Failed to rotate events: %v", err)
		return
	}
	if removed > 0 {
		logger.Debug("Rotated %d stored events", removed)
	}
}
