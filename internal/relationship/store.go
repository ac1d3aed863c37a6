package relationship

import (
	"sync"
	"time"
)

// Outcome is one candidate follow-up of a pending event.
type Outcome struct {
	Stream      string        `json:"stream"`
	Probability float64       `json:"probability,omitempty"`
	Weight      float64       `json:"weight,omitempty"`
	Delay       time.Duration `json:"delay"`
}

// PendingEvent is a possible future occurrence scheduled by a trigger.
type PendingEvent struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	TriggerStream string    `json:"triggerStream"`
	TriggerTime   time.Time `json:"triggerTime"`
	Outcomes      []Outcome `json:"outcomes"`
	Weighted      bool      `json:"weighted"`
	Resolved      bool      `json:"resolved"`
	Chosen        string    `json:"chosen,omitempty"`
}

// DueAt is the trigger time plus the longest drawn delay.
func (p PendingEvent) DueAt() time.Time {
	var longest time.Duration
	for _, o := range p.Outcomes {
		longest = max(longest, o.Delay)
	}
	return p.TriggerTime.Add(longest)
}

// ScheduledCascade multiplies TargetStream's raw value during [Start, End).
type ScheduledCascade struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	TriggerStream string    `json:"triggerStream"`
	TargetStream  string    `json:"targetStream"`
	Multiplier    float64   `json:"multiplier"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Description   string    `json:"description,omitempty"`
}

// Covers reports whether t falls inside the cascade window.
func (c ScheduledCascade) Covers(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Store owns the engine's mutable state.
type Store interface {
	PutPending(p PendingEvent)
	GetPending(id string) (PendingEvent, bool)
	DeletePending(id string)
	ScanPending(fn func(PendingEvent) bool)

	PutCascade(c ScheduledCascade)
	DeleteCascade(id string)
	ScanCascades(fn func(ScheduledCascade) bool)

	LastOccurrence(stream string) time.Time
	SetLastOccurrence(stream string, t time.Time)

	Len() (pending, cascades int)
	Clear()
}

// MemoryStore is a Store backed by maps. Scans iterate a snapshot, so
// callbacks may mutate the store.
type MemoryStore struct {
	mu       sync.RWMutex
	pending  map[string]PendingEvent
	cascades map[string]ScheduledCascade
	last     map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.Clear()
	return s
}

func (s *MemoryStore) PutPending(p PendingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.ID] = p
}

func (s *MemoryStore) GetPending(id string) (PendingEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	return p, ok
}

func (s *MemoryStore) DeletePending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *MemoryStore) ScanPending(fn func(PendingEvent) bool) {
	s.mu.RLock()
	snapshot := make([]PendingEvent, 0, len(s.pending))
	for _, p := range s.pending {
		snapshot = append(snapshot, p)
	}
	s.mu.RUnlock()

	for _, p := range snapshot {
		if !fn(p) {
			return
		}
	}
}

func (s *MemoryStore) PutCascade(c ScheduledCascade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascades[c.ID] = c
}

func (s *MemoryStore) DeleteCascade(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cascades, id)
}

func (s *MemoryStore) ScanCascades(fn func(ScheduledCascade) bool) {
	s.mu.RLock()
	snapshot := make([]ScheduledCascade, 0, len(s.cascades))
	for _, c := range s.cascades {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}

// LastOccurrence returns the zero time for streams never seen.
func (s *MemoryStore) LastOccurrence(stream string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[stream]
}

func (s *MemoryStore) SetLastOccurrence(stream string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.last[stream]) {
		s.last[stream] = t
	}
}

func (s *MemoryStore) Len() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending), len(s.cascades)
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]PendingEvent)
	s.cascades = make(map[string]ScheduledCascade)
	s.last = make(map[string]time.Time)
}
