// Package models defines the core domain entities: stream events, external
// events, scenario modifiers, baselines and correlations.
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rewired-gh/streamsim/internal/duration"
)

// AnomalyFlag classifies how far a normalized value sits from its baseline.
type AnomalyFlag string

const (
	FlagNormal   AnomalyFlag = "normal"
	FlagWarning  AnomalyFlag = "warning"
	FlagCritical AnomalyFlag = "critical"
)

// DefaultImpactWindow applies to external events that declare no duration.
const DefaultImpactWindow = 24 * time.Hour

// StreamEvent is a single synthetic telemetry event.
type StreamEvent struct {
	Stream          string         `json:"stream"`
	Timestamp       time.Time      `json:"timestamp"`
	Data            map[string]any `json:"data"`
	NormalizedValue *float64       `json:"normalizedValue,omitempty"`
	AnomalyFlag     AnomalyFlag    `json:"anomalyFlag,omitempty"`
}

// Value returns the normalized value, or 0 for inert events.
func (e StreamEvent) Value() float64 {
	if e.NormalizedValue == nil {
		return 0
	}
	return *e.NormalizedValue
}

// SetValue stores a normalized value and its flag.
func (e *StreamEvent) SetValue(v float64, flag AnomalyFlag) {
	e.NormalizedValue = &v
	e.AnomalyFlag = flag
}

// IsAnomalous reports whether the event carries a warning or critical flag.
func (e StreamEvent) IsAnomalous() bool {
	return e.AnomalyFlag == FlagWarning || e.AnomalyFlag == FlagCritical
}

// ErrorMarker returns the payload error marker, if any.
func (e StreamEvent) ErrorMarker() (string, bool) {
	s, ok := e.Data["error"].(string)
	return s, ok
}

// Clone returns a copy that shares no mutable state with e.
// Payload values are copied one level deep.
func (e StreamEvent) Clone() StreamEvent {
	out := e
	if e.NormalizedValue != nil {
		v := *e.NormalizedValue
		out.NormalizedValue = &v
	}
	if e.Data != nil {
		out.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return out
}

// EventType enumerates the kinds of external marketplace events.
type EventType string

const (
	EventMarketing      EventType = "marketing"
	EventProduct        EventType = "product"
	EventInfrastructure EventType = "infrastructure"
	EventAcademic       EventType = "academic"
	EventCompetitive    EventType = "competitive"
	EventOperational    EventType = "operational"
)

var eventTypes = []EventType{EventMarketing, EventProduct, EventInfrastructure, EventAcademic, EventCompetitive, EventOperational}

// Severity of an external event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical}

// Direction of an expected stream impact.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionMixed    Direction = "mixed"
)

// Magnitude of an expected stream impact.
type Magnitude string

const (
	MagnitudeLow    Magnitude = "low"
	MagnitudeMedium Magnitude = "medium"
	MagnitudeHigh   Magnitude = "high"
)

// ExpectedImpact describes which streams an external event moves and how.
type ExpectedImpact struct {
	Streams   []string  `json:"streams" yaml:"streams"`
	Direction Direction `json:"direction" yaml:"direction"`
	Magnitude Magnitude `json:"magnitude" yaml:"magnitude"`
	Duration  string    `json:"duration" yaml:"duration"`
}

// Factor returns the multiplier this impact applies to a raw value.
// Mixed impacts and unknown magnitudes leave the value unchanged.
func (i ExpectedImpact) Factor() float64 {
	switch i.Direction {
	case DirectionIncrease:
		switch i.Magnitude {
		case MagnitudeHigh:
			return 1.5
		case MagnitudeMedium:
			return 1.25
		case MagnitudeLow:
			return 1.1
		}
	case DirectionDecrease:
		switch i.Magnitude {
		case MagnitudeHigh:
			return 0.5
		case MagnitudeMedium:
			return 0.75
		case MagnitudeLow:
			return 0.9
		}
	}
	return 1
}

// Affects reports whether the impact names stream.
func (i ExpectedImpact) Affects(stream string) bool {
	return slices.Contains(i.Streams, stream)
}

// ExternalEvent is a real-world occurrence that perturbs one or more streams.
type ExternalEvent struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	ExpectedImpact ExpectedImpact `json:"expectedImpact"`
	Icon           string         `json:"icon"`
	ExternalLink   string         `json:"externalLink,omitempty"`
	InjectedByAI   bool           `json:"injectedByAI"`
}

// ImpactWindow returns the half-open interval [start, end) during which the
// event influences its streams.
func (e ExternalEvent) ImpactWindow() (time.Time, time.Time) {
	window := DefaultImpactWindow
	if span, err := duration.Parse(e.ExpectedImpact.Duration); err == nil && span.Max > 0 {
		window = span.Max
	}
	return e.Timestamp, e.Timestamp.Add(window)
}

// Covers reports whether t falls inside the impact window.
func (e ExternalEvent) Covers(t time.Time) bool {
	start, end := e.ImpactWindow()
	return !t.Before(start) && t.Before(end)
}

// Validate checks external event field constraints.
func (e *ExternalEvent) Validate() error {
	if e.ID == "" {
		return errors.New("external event id must not be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("external event %s: type must not be empty", e.ID)
	}
	if !slices.Contains(eventTypes, e.Type) {
		return fmt.Errorf("external event %s: unknown type %q", e.ID, e.Type)
	}
	if e.Title == "" {
		return fmt.Errorf("external event %s: title must not be empty", e.ID)
	}
	if e.Description == "" {
		return fmt.Errorf("external event %s: description must not be empty", e.ID)
	}
	if e.Severity != "" && !slices.Contains(severities, e.Severity) {
		return fmt.Errorf("external event %s: unknown severity %q", e.ID, e.Severity)
	}
	switch e.ExpectedImpact.Direction {
	case "", DirectionIncrease, DirectionDecrease, DirectionMixed:
	default:
		return fmt.Errorf("external event %s: unknown impact direction %q", e.ID, e.ExpectedImpact.Direction)
	}
	switch e.ExpectedImpact.Magnitude {
	case "", MagnitudeLow, MagnitudeMedium, MagnitudeHigh:
	default:
		return fmt.Errorf("external event %s: unknown impact magnitude %q", e.ID, e.ExpectedImpact.Magnitude)
	}
	if _, err := duration.Parse(e.ExpectedImpact.Duration); err != nil {
		return fmt.Errorf("external event %s: %w", e.ID, err)
	}
	return nil
}
