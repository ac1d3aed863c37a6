package simulation

import (
	"context"
	"time"

	"github.com/rewired-gh/streamsim/internal/models"
)

// HistoryQuery selects a historical window. Empty Streams means every
// configured stream; empty Mode means baseline.
type HistoryQuery struct {
	Start   time.Time
	End     time.Time
	Streams []string
	Mode    string
}

// StreamHistory is one stream's slice of the window.
type StreamHistory struct {
	Events   []models.StreamEvent   `json:"events"`
	Baseline *models.StreamBaseline `json:"baseline"`
}

// HistoryResult answers a HistoryQuery.
type HistoryResult struct {
	Start          time.Time                `json:"start"`
	End            time.Time                `json:"end"`
	Mode           string                   `json:"mode"`
	Streams        []string                 `json:"streams"`
	Data           map[string]StreamHistory `json:"data"`
	ExternalEvents []models.ExternalEvent   `json:"externalEvents"`
}

// Validate rejects malformed windows and modes before any work is done.
func (q HistoryQuery) Validate() error {
	if q.Start.IsZero() || q.End.IsZero() {
		return models.NewValidationError("start/end", "both bounds are required")
	}
	if !q.Start.Before(q.End) {
		return models.NewValidationError("start", "must be before end")
	}
	switch q.Mode {
	case "", models.HistoricalBaseline, models.HistoricalModified:
	default:
		return models.NewValidationError("mode", "must be %q or %q", models.HistoricalBaseline, models.HistoricalModified)
	}
	return nil
}

// History returns baseline events in [Start, End]. In modified mode the
// events are replayed under the in-flight scenario.
func (s *Simulator) History(ctx context.Context, q HistoryQuery) (*HistoryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Mode == "" {
		q.Mode = models.HistoricalBaseline
	}
	streams := q.Streams
	if len(streams) == 0 {
		streams = s.Streams()
	}
	if err := s.baseline.Load(ctx); err != nil {
		return nil, err
	}
	statistics, err := s.baseline.Statistics()
	if err != nil {
		return nil, err
	}
	external, err := s.baseline.ExternalEvents(q.Start, q.End)
	if err != nil {
		return nil, err
	}

	var (
		mods   []models.ScenarioModifier
		active []models.ExternalEvent
	)
	if q.Mode == models.HistoricalModified {
		mods = s.scenarios.EffectiveModifiers()
		active = s.scenarios.ActiveEvents()
		external = append(external, active...)
	}

	res := &HistoryResult{
		Start:          q.Start,
		End:            q.End,
		Mode:           q.Mode,
		Streams:        streams,
		Data:           make(map[string]StreamHistory, len(streams)),
		ExternalEvents: external,
	}
	for _, stream := range streams {
		events, err := s.baseline.Events(stream, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		if len(mods) > 0 || len(active) > 0 {
			events = s.hist.Regenerate(events, mods, active)
		}
		if events == nil {
			events = []models.StreamEvent{}
		}
		h := StreamHistory{Events: events}
		if b, ok := statistics[stream]; ok {
			h.Baseline = &b
		}
		res.Data[stream] = h
	}
	return res, nil
}
