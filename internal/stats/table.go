package stats

// DefaultEventsPerDay applies to streams absent from the baseline table.
const DefaultEventsPerDay = 1000.0

var unknownStream = BaselineStats{Mean: 1000, StdDev: 200, Min: 500, Max: 2000}

// Table resolves per-stream baseline volumes and their derived statistics.
type Table struct {
	eventsPerDay map[string]float64
}

// NewTable builds a table from a stream → events-per-day map.
func NewTable(eventsPerDay map[string]float64) *Table {
	t := &Table{eventsPerDay: make(map[string]float64, len(eventsPerDay))}
	for k, v := range eventsPerDay {
		t.eventsPerDay[k] = v
	}
	return t
}

// EventsPerDay returns the configured daily volume for stream.
func (t *Table) EventsPerDay(stream string) float64 {
	if v, ok := t.eventsPerDay[stream]; ok && v > 0 {
		return v
	}
	return DefaultEventsPerDay
}

// Known reports whether stream has a configured baseline.
func (t *Table) Known(stream string) bool {
	_, ok := t.eventsPerDay[stream]
	return ok
}

// Stats returns the reference distribution for stream.
func (t *Table) Stats(stream string) BaselineStats {
	v, ok := t.eventsPerDay[stream]
	if !ok {
		return unknownStream
	}
	if v <= 0 {
		v = DefaultEventsPerDay
	}
	return BaselineStats{
		Mean:   v,
		StdDev: v * 0.125,
		Min:    v * 0.625,
		Max:    v * 1.5,
	}
}
