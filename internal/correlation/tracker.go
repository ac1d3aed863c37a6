// Package correlation relates external events to the stream values observed
// during their impact windows.
package correlation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/streamsim/internal/models"
)

const (
	consistencyWeight = 0.6
	magnitudeWeight   = 0.4
	magnitudeScale    = 50.0 // percent change at which magnitude saturates
	fullConfidenceN   = 10
)

type observation struct {
	at    time.Time
	value float64
}

type tracked struct {
	event models.ExternalEvent
	start time.Time
	end   time.Time
	obs   map[string][]observation
	dirty bool
}

// Filter narrows GetCorrelations. Zero fields match everything.
type Filter struct {
	EventID string
	Stream  string
	Start   time.Time
	End     time.Time
}

// Tracker buffers observations per registered event.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]*tracked
	results map[string]models.CorrelationData // eventID + ":" + stream
}

func NewTracker() *Tracker {
	return &Tracker{
		active:  make(map[string]*tracked),
		results: make(map[string]models.CorrelationData),
	}
}

// Register starts observing ev. Registering an id again restarts it.
func (t *Tracker) Register(ev models.ExternalEvent) {
	start, end := ev.ImpactWindow()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[ev.ID] = &tracked{
		event: ev,
		start: start,
		end:   end,
		obs:   make(map[string][]observation),
	}
}

// Record adds ev to every registered event whose window covers it and whose
// expected impact names the stream.
func (t *Tracker) Record(ev models.StreamEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.active {
		if ev.Timestamp.Before(a.start) || !ev.Timestamp.Before(a.end) {
			continue
		}
		if !a.event.ExpectedImpact.Affects(ev.Stream) {
			continue
		}
		a.obs[ev.Stream] = append(a.obs[ev.Stream], observation{at: ev.Timestamp, value: ev.Value()})
		a.dirty = true
	}
}

// Calculate recomputes correlations for eventID from its observations.
// Streams with fewer than two observations are skipped.
func (t *Tracker) Calculate(eventID string) []models.CorrelationData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calculateLocked(eventID)
}

func (t *Tracker) calculateLocked(eventID string) []models.CorrelationData {
	a, ok := t.active[eventID]
	if !ok {
		return nil
	}
	var out []models.CorrelationData
	for _, stream := range a.event.ExpectedImpact.Streams {
		obs := a.obs[stream]
		if len(obs) < 2 {
			continue
		}
		c := compute(obs)
		c.EventID = eventID
		c.Stream = stream
		c.StartTime = a.start
		c.EndTime = a.end
		t.results[eventID+":"+stream] = c
		out = append(out, c)
	}
	a.dirty = false
	return out
}

// GetCorrelations flushes dirty events and returns the stored correlations
// matching f, ordered by event then stream.
func (t *Tracker) GetCorrelations(f Filter) []models.CorrelationData {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, a := range t.active {
		if a.dirty {
			t.calculateLocked(id)
		}
	}

	out := make([]models.CorrelationData, 0, len(t.results))
	for _, c := range t.results {
		if f.EventID != "" && c.EventID != f.EventID {
			continue
		}
		if f.Stream != "" && c.Stream != f.Stream {
			continue
		}
		if !f.Start.IsZero() && c.EndTime.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && c.StartTime.After(f.End) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Stream < out[j].Stream
	})
	return out
}

// Unregister computes final correlations for eventID and stops observing it.
// Stored results stay queryable until Reset.
func (t *Tracker) Unregister(eventID string) []models.CorrelationData {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.calculateLocked(eventID)
	delete(t.active, eventID)
	return out
}

// Reset drops every registration and stored result.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]*tracked)
	t.results = make(map[string]models.CorrelationData)
}

// ActiveEventIDs lists the registered event ids in sorted order.
func (t *Tracker) ActiveEventIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// compute is a trend-consistency score, not a Pearson coefficient.
func compute(obs []observation) models.CorrelationData {
	baseline := obs[0].value
	var sum float64
	for _, o := range obs {
		sum += o.value
	}
	mean := sum / float64(len(obs))

	var change float64
	if baseline != 0 {
		change = (mean - baseline) / baseline * 100
	}

	var up, down int
	for i := 1; i < len(obs); i++ {
		switch {
		case obs[i].value > obs[i-1].value:
			up++
		case obs[i].value < obs[i-1].value:
			down++
		}
	}
	moves := up + down
	if moves == 0 {
		moves = 1
	}
	magnitude := math.Min(1, math.Abs(change)/magnitudeScale)

	c := models.CorrelationData{
		Direction:       models.CorrelationNone,
		Confidence:      math.Min(1, float64(len(obs))/fullConfidenceN),
		SampleSize:      len(obs),
		BaselineMean:    baseline,
		EventMean:       mean,
		ChangeMagnitude: change,
	}
	switch {
	case mean > baseline:
		c.Direction = models.CorrelationPositive
		c.Strength = consistencyWeight*float64(up)/float64(moves) + magnitudeWeight*magnitude
	case mean < baseline:
		c.Direction = models.CorrelationNegative
		c.Strength = -(consistencyWeight*float64(down)/float64(moves) + magnitudeWeight*magnitude)
	}
	return c
}
