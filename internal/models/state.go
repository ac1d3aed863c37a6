package models

import (
	"time"
)

// ModifierSnapshot is a scenario modifier annotated with its settlement
// progress at the time the snapshot was taken.
type ModifierSnapshot struct {
	ScenarioModifier
	SettlementProgress float64 `json:"settlementProgress"`
}

// SimulationState is the externally visible state of the scenario engine.
type SimulationState struct {
	BaselineState         string             `json:"baselineState"`
	ActiveModifiers       []ModifierSnapshot `json:"activeModifiers"`
	ActiveEvents          []ExternalEvent    `json:"activeEvents"`
	HistoricalMode        string             `json:"historicalMode"`
	CurrentSimulationTime time.Time          `json:"currentSimulationTime"`
	LastModified          time.Time          `json:"lastModified"`
}

const (
	BaselineNormal = "normal"
	BaselineCustom = "custom"

	HistoricalBaseline = "baseline"
	HistoricalModified = "modified"
)

// Percentiles of a stream's observed values.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// Patterns summarizes periodic behaviour of a stream.
type Patterns struct {
	WeekdayAvg  float64 `json:"weekdayAvg"`
	WeekendAvg  float64 `json:"weekendAvg"`
	Trend       string  `json:"trend"`
	Seasonality string  `json:"seasonality"`
}

// StreamBaseline holds descriptive statistics for one stream.
type StreamBaseline struct {
	Name        string      `json:"name"`
	Mean        float64     `json:"mean"`
	Median      float64     `json:"median"`
	StdDev      float64     `json:"stdDev"`
	Min         float64     `json:"min"`
	Max         float64     `json:"max"`
	Percentiles Percentiles `json:"percentiles"`
	Patterns    Patterns    `json:"patterns"`
}

// CorrelationDirection is the sign of an observed stream change.
type CorrelationDirection string

const (
	CorrelationPositive CorrelationDirection = "positive"
	CorrelationNegative CorrelationDirection = "negative"
	CorrelationNone     CorrelationDirection = "none"
)

// CorrelationData relates one external event to one observed stream.
// Strength is a trend-consistency score in [-1, 1].
type CorrelationData struct {
	EventID         string               `json:"eventId"`
	Stream          string               `json:"stream"`
	Strength        float64              `json:"strength"`
	Direction       CorrelationDirection `json:"direction"`
	Confidence      float64              `json:"confidence"`
	SampleSize      int                  `json:"sampleSize"`
	StartTime       time.Time            `json:"startTime"`
	EndTime         time.Time            `json:"endTime"`
	BaselineMean    float64              `json:"baselineMean"`
	EventMean       float64              `json:"eventMean"`
	ChangeMagnitude float64              `json:"changeMagnitude"`
}
