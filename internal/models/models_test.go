package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestExternalEventValidate(t *testing.T) {
	valid := ExternalEvent{
		ID:          "evt-1",
		Type:        EventAcademic,
		Title:       "Finals week",
		Description: "Exams start",
		Severity:    SeverityWarning,
		ExpectedImpact: ExpectedImpact{
			Streams:   []string{"customer.tutor.search"},
			Direction: DirectionIncrease,
			Magnitude: MagnitudeHigh,
			Duration:  "3 days",
		},
	}

	tests := []struct {
		name    string
		mutate  func(e *ExternalEvent)
		wantErr bool
	}{
		{"valid event", func(e *ExternalEvent) {}, false},
		{"empty id", func(e *ExternalEvent) { e.ID = "" }, true},
		{"empty type", func(e *ExternalEvent) { e.Type = "" }, true},
		{"unknown type", func(e *ExternalEvent) { e.Type = "weather" }, true},
		{"empty title", func(e *ExternalEvent) { e.Title = "" }, true},
		{"empty description", func(e *ExternalEvent) { e.Description = "" }, true},
		{"unknown severity", func(e *ExternalEvent) { e.Severity = "fatal" }, true},
		{"unknown magnitude", func(e *ExternalEvent) { e.ExpectedImpact.Magnitude = "huge" }, true},
		{"bad duration", func(e *ExternalEvent) { e.ExpectedImpact.Duration = "forever" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpectedImpactFactor(t *testing.T) {
	tests := []struct {
		dir  Direction
		mag  Magnitude
		want float64
	}{
		{DirectionIncrease, MagnitudeLow, 1.1},
		{DirectionIncrease, MagnitudeMedium, 1.25},
		{DirectionIncrease, MagnitudeHigh, 1.5},
		{DirectionDecrease, MagnitudeLow, 0.9},
		{DirectionDecrease, MagnitudeMedium, 0.75},
		{DirectionDecrease, MagnitudeHigh, 0.5},
		{DirectionMixed, MagnitudeHigh, 1},
	}
	for _, tt := range tests {
		got := ExpectedImpact{Direction: tt.dir, Magnitude: tt.mag}.Factor()
		if got != tt.want {
			t.Errorf("Factor(%s, %s) = %v, want %v", tt.dir, tt.mag, got, tt.want)
		}
	}
}

func TestExternalEventCovers(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := ExternalEvent{Timestamp: start, ExpectedImpact: ExpectedImpact{Duration: "2 hours"}}

	if !e.Covers(start) {
		t.Error("window should include its start")
	}
	if !e.Covers(start.Add(119 * time.Minute)) {
		t.Error("window should include points before its end")
	}
	if e.Covers(start.Add(2 * time.Hour)) {
		t.Error("window should exclude its end")
	}
	if e.Covers(start.Add(-time.Second)) {
		t.Error("window should exclude points before its start")
	}

	noDuration := ExternalEvent{Timestamp: start}
	_, end := noDuration.ImpactWindow()
	if got := end.Sub(start); got != DefaultImpactWindow {
		t.Errorf("default window = %v, want %v", got, DefaultImpactWindow)
	}
}

func TestStreamModificationApplyOrder(t *testing.T) {
	mod := StreamModification{Multiplier: ptr(2), Override: ptr(500), Additive: ptr(10)}
	if got := mod.Apply(100); got != 510 {
		t.Errorf("Apply = %v, want 510 (multiply, override, then add)", got)
	}

	mulOnly := StreamModification{Multiplier: ptr(3)}
	if got := mulOnly.Apply(100); got != 300 {
		t.Errorf("Apply = %v, want 300", got)
	}
}

func TestStreamModificationSettle(t *testing.T) {
	mod := StreamModification{
		Multiplier:       ptr(3),
		Additive:         ptr(40),
		Override:         ptr(1000),
		ProbabilityShift: map[string]float64{"session.completed": 0.2},
	}

	half := mod.Settle(0.5)
	if *half.Multiplier != 2 {
		t.Errorf("settled multiplier = %v, want 2", *half.Multiplier)
	}
	if *half.Additive != 20 {
		t.Errorf("settled additive = %v, want 20", *half.Additive)
	}
	if half.ProbabilityShift["session.completed"] != 0.1 {
		t.Errorf("settled shift = %v, want 0.1", half.ProbabilityShift["session.completed"])
	}
	if mod.ProbabilityShift["session.completed"] != 0.2 {
		t.Error("Settle must not mutate the original shift map")
	}

	done := mod.Settle(1)
	if *done.Multiplier != 1 {
		t.Errorf("fully settled multiplier = %v, want 1", *done.Multiplier)
	}
	if got := done.Apply(100); got != 100 {
		t.Errorf("fully settled Apply = %v, want 100", got)
	}
}

func TestScenarioModifierValidate(t *testing.T) {
	base := ScenarioModifier{
		ID:              "exam-season-surge",
		Description:     "Exam demand",
		AffectedStreams: map[string]StreamModification{"customer.tutor.search": {Multiplier: ptr(2)}},
		Duration:        "2 hours",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	empty := base
	empty.AffectedStreams = map[string]StreamModification{"customer.tutor.search": {}}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty modification")
	}

	noDesc := base
	noDesc.Description = ""
	if err := noDesc.Validate(); err == nil {
		t.Error("expected error for missing description")
	}

	badType := base
	badType.SettlementType = "cubic"
	if err := badType.Validate(); err == nil {
		t.Error("expected error for unknown settlement type")
	}
}

func TestStreamEventClone(t *testing.T) {
	e := StreamEvent{Stream: "a", Data: map[string]any{"k": 1}}
	e.SetValue(42, FlagNormal)

	c := e.Clone()
	c.Data["k"] = 2
	*c.NormalizedValue = 7

	if e.Data["k"] != 1 {
		t.Error("clone shares payload map")
	}
	if e.Value() != 42 {
		t.Error("clone shares normalized value")
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("activate: %w", &ConflictError{BlockingID: "supply-crisis"})
	id, ok := IsConflict(wrapped)
	if !ok || id != "supply-crisis" {
		t.Errorf("IsConflict = (%q, %v)", id, ok)
	}
	if !IsNotFound(fmt.Errorf("x: %w", &NotFoundError{Kind: "stream", ID: "nope"})) {
		t.Error("IsNotFound failed on wrapped error")
	}
	if !IsValidation(NewValidationError("start", "must precede end")) {
		t.Error("IsValidation failed")
	}
	inner := errors.New("boom")
	if !errors.Is(&InternalError{Op: "generate", Err: inner}, inner) {
		t.Error("InternalError should unwrap")
	}
}
