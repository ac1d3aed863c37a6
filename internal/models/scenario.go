package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/streamsim/internal/duration"
)

// Status is the lifecycle stage of a scenario modifier.
type Status string

const (
	StatusActive   Status = "active"
	StatusSettling Status = "settling"
	StatusSettled  Status = "settled"
)

// InFlight reports whether the modifier still contributes to generation.
func (s Status) InFlight() bool {
	return s == StatusActive || s == StatusSettling
}

// SettlementType selects the decay curve used while settling.
type SettlementType string

const (
	SettlementLinear      SettlementType = "linear"
	SettlementExponential SettlementType = "exponential"
)

// StreamModification adjusts a single stream's raw value.
type StreamModification struct {
	Multiplier       *float64           `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Additive         *float64           `json:"additive,omitempty" yaml:"additive,omitempty"`
	Override         *float64           `json:"override,omitempty" yaml:"override,omitempty"`
	ProbabilityShift map[string]float64 `json:"probabilityShift,omitempty" yaml:"probability_shift,omitempty"`
	Description      string             `json:"description,omitempty" yaml:"description,omitempty"`

	// OverrideDecay blends Override with the unmodified value: 0 replaces the
	// value outright, 1 leaves it untouched.
	OverrideDecay float64 `json:"-" yaml:"-"`
}

// IsEmpty reports whether no adjustment is declared.
func (m StreamModification) IsEmpty() bool {
	return m.Multiplier == nil && m.Additive == nil && m.Override == nil && len(m.ProbabilityShift) == 0
}

// Apply runs the modification against a raw value: multiply, then override
// replaces, then additive adds.
func (m StreamModification) Apply(raw float64) float64 {
	if m.Multiplier != nil {
		raw *= *m.Multiplier
	}
	if m.Override != nil {
		d := m.OverrideDecay
		raw = *m.Override*(1-d) + raw*d
	}
	if m.Additive != nil {
		raw += *m.Additive
	}
	return raw
}

// Settle returns a copy decayed toward neutral by progress p in [0,1].
func (m StreamModification) Settle(p float64) StreamModification {
	out := m
	if m.Multiplier != nil {
		v := *m.Multiplier + (1-*m.Multiplier)*p
		out.Multiplier = &v
	}
	if m.Additive != nil {
		v := *m.Additive * (1 - p)
		out.Additive = &v
	}
	out.OverrideDecay = p
	if m.ProbabilityShift != nil {
		out.ProbabilityShift = make(map[string]float64, len(m.ProbabilityShift))
		for k, v := range m.ProbabilityShift {
			out.ProbabilityShift[k] = v * (1 - p)
		}
	}
	return out
}

func (m StreamModification) clone() StreamModification {
	out := m
	if m.ProbabilityShift != nil {
		out.ProbabilityShift = make(map[string]float64, len(m.ProbabilityShift))
		for k, v := range m.ProbabilityShift {
			out.ProbabilityShift[k] = v
		}
	}
	return out
}

// CascadeRule declares that occurrences of SourceStream adjust TargetStream.
type CascadeRule struct {
	SourceStream string             `json:"sourceStream" yaml:"source_stream"`
	TargetStream string             `json:"targetStream" yaml:"target_stream"`
	Delay        string             `json:"delay,omitempty" yaml:"delay,omitempty"`
	Window       string             `json:"window,omitempty" yaml:"window,omitempty"`
	Effect       StreamModification `json:"effect" yaml:"effect"`
	Condition    string             `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ScenarioModifier is an activated scenario and its lifecycle state.
type ScenarioModifier struct {
	ID                  string                        `json:"id"`
	Type                string                        `json:"type"`
	Description         string                        `json:"description"`
	StartTime           time.Time                     `json:"startTime"`
	Duration            string                        `json:"duration,omitempty"`
	AffectedStreams     map[string]StreamModification `json:"affectedStreams"`
	CascadeEffects      []CascadeRule                 `json:"cascadeEffects"`
	RelatedEvents       []string                      `json:"relatedEvents"`
	Status              Status                        `json:"status"`
	SettlementDuration  string                        `json:"settlementDuration,omitempty"`
	SettlementType      SettlementType                `json:"settlementType,omitempty"`
	SettlementStartTime *time.Time                    `json:"settlementStartTime,omitempty"`
}

// Validate checks scenario modifier field constraints.
func (m *ScenarioModifier) Validate() error {
	if m.ID == "" {
		return errors.New("scenario id must not be empty")
	}
	if m.Description == "" {
		return fmt.Errorf("scenario %s: description must not be empty", m.ID)
	}
	if len(m.AffectedStreams) == 0 {
		return fmt.Errorf("scenario %s: affected streams must not be empty", m.ID)
	}
	for stream, mod := range m.AffectedStreams {
		if mod.IsEmpty() {
			return fmt.Errorf("scenario %s: stream %s declares no modification", m.ID, stream)
		}
	}
	for _, field := range []struct{ name, value string }{
		{"duration", m.Duration},
		{"settlement duration", m.SettlementDuration},
	} {
		if _, err := duration.Parse(field.value); err != nil {
			return fmt.Errorf("scenario %s: %s: %w", m.ID, field.name, err)
		}
	}
	switch m.SettlementType {
	case "", SettlementLinear, SettlementExponential:
	default:
		return fmt.Errorf("scenario %s: unknown settlement type %q", m.ID, m.SettlementType)
	}
	return nil
}

// Clone returns a deep copy of m.
func (m ScenarioModifier) Clone() ScenarioModifier {
	out := m
	out.AffectedStreams = make(map[string]StreamModification, len(m.AffectedStreams))
	for k, v := range m.AffectedStreams {
		out.AffectedStreams[k] = v.clone()
	}
	out.CascadeEffects = append([]CascadeRule(nil), m.CascadeEffects...)
	out.RelatedEvents = append([]string(nil), m.RelatedEvents...)
	if m.SettlementStartTime != nil {
		t := *m.SettlementStartTime
		out.SettlementStartTime = &t
	}
	return out
}
