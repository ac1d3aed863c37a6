package relationship

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/streamsim/internal/catalog"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/random"
)

var t0 = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

func event(stream string, ts time.Time, data map[string]any) models.StreamEvent {
	if data == nil {
		data = map[string]any{}
	}
	ev := models.StreamEvent{Stream: stream, Timestamp: ts, Data: data}
	ev.SetValue(50, models.FlagNormal)
	return ev
}

func newEngine(t *testing.T, rel catalog.Relationships, opts ...Option) *Engine {
	t.Helper()
	e, err := New(rel, append([]Option{WithSource(random.New(1))}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func chain(from, to string, p float64, delay, cond string) catalog.Relationships {
	return catalog.Relationships{EventChains: []catalog.EventChain{{
		ID: "c",
		Steps: []catalog.ChainStep{{
			Stream: from,
			Next:   []catalog.ChainLink{{Stream: to, Probability: p, Delay: delay, Condition: cond}},
		}},
	}}}
}

func TestZeroDelayChainIsImmediatelyDue(t *testing.T) {
	e := newEngine(t, chain("a", "b", 1.0, "0", ""))
	e.ProcessEvent(event("a", t0, nil))

	due := e.PendingEventsToResolve(t0)
	if len(due) != 1 {
		t.Fatalf("got %d due events, want 1", len(due))
	}
	if due[0].Outcomes[0].Stream != "b" {
		t.Errorf("due outcome = %s, want b", due[0].Outcomes[0].Stream)
	}
	stream, ok := e.ResolvePendingEvent(due[0].ID)
	if !ok || stream != "b" {
		t.Errorf("ResolvePendingEvent = %q, %v", stream, ok)
	}
	if again, ok := e.ResolvePendingEvent(due[0].ID); ok {
		t.Errorf("resolved twice: %s", again)
	}
	if n := len(e.PendingEventsToResolve(t0)); n != 0 {
		t.Errorf("resolved entry still due: %d", n)
	}
}

func TestChainDelayAndProbability(t *testing.T) {
	e := newEngine(t, chain("a", "b", 1.0, "10 minutes", ""))
	e.ProcessEvent(event("a", t0, nil))
	if n := len(e.PendingEventsToResolve(t0.Add(9 * time.Minute))); n != 0 {
		t.Errorf("due before delay: %d", n)
	}
	if n := len(e.PendingEventsToResolve(t0.Add(10 * time.Minute))); n != 1 {
		t.Errorf("not due after delay: %d", n)
	}

	never := newEngine(t, chain("a", "b", 0, "0", ""))
	never.ProcessEvent(event("a", t0, nil))
	if never.PendingCount() != 0 {
		t.Error("zero-probability chain scheduled an event")
	}
}

func TestChainShiftAndCondition(t *testing.T) {
	e := newEngine(t, chain("a", "b", 0, "0", "rating_score < 3"),
		WithShifter(func(trigger, target string) float64 {
			if trigger == "a" && target == "b" {
				return 2 // clamped to 1
			}
			return 0
		}))

	e.ProcessEvent(event("a", t0, map[string]any{"rating_score": 5}))
	if e.PendingCount() != 0 {
		t.Fatal("condition should have blocked scheduling")
	}
	scheduled := e.ProcessEvent(event("a", t0, map[string]any{"rating_score": 1}))
	if len(scheduled) != 1 || scheduled[0].Outcomes[0].Probability != 1 {
		t.Fatalf("shifted chain not scheduled: %+v", scheduled)
	}
}

func TestProbabilityMatrix(t *testing.T) {
	rel := catalog.Relationships{ProbabilityMatrices: map[string]catalog.ProbabilityMatrix{
		"m": {Trigger: "a", Outcomes: []catalog.Outcome{
			{Stream: "x", Weight: 0, Delay: "5 minutes"},
			{Stream: "y", Weight: 3, Delay: "1-2 minutes"},
			{Stream: "z", Weight: 1, Delay: "1 minute", Condition: "status === 'failed'"},
		}},
	}}
	e := newEngine(t, rel)
	scheduled := e.ProcessEvent(event("a", t0, map[string]any{"status": "ok"}))
	if len(scheduled) != 1 || len(scheduled[0].Outcomes) != 2 {
		t.Fatalf("unexpected scheduling: %+v", scheduled)
	}
	// due only after the longest drawn delay
	if n := len(e.PendingEventsToResolve(t0.Add(3 * time.Minute))); n != 0 {
		t.Errorf("due before longest delay: %d", n)
	}
	got := e.ResolveDue(t0.Add(5 * time.Minute))
	if len(got) != 1 || got[0] != "y" {
		t.Errorf("ResolveDue = %v, want [y]", got)
	}
}

func TestWeightedFallback(t *testing.T) {
	e := newEngine(t, catalog.Relationships{})
	if got := e.weighted([]Outcome{{Stream: "first"}, {Stream: "second"}}); got != "first" {
		t.Errorf("zero weights chose %s, want first", got)
	}
}

func TestCascadeMultiplier(t *testing.T) {
	rel := catalog.Relationships{CascadingEffects: []catalog.CascadingEffect{{
		Trigger:   "pay.fail",
		Condition: "status === 'failed'",
		Effects: []catalog.CascadeTarget{
			{Stream: "support", Multiplier: 2, Delay: "10 minutes", Window: "1 hour"},
			{Stream: "support", Multiplier: 1.5, Delay: "0"},
		},
	}}}
	e := newEngine(t, rel)
	e.ProcessEvent(event("pay.fail", t0, map[string]any{"status": "ok"}))
	if got := e.CascadeMultiplier("support", t0.Add(20*time.Minute)); got != 1 {
		t.Errorf("condition ignored: multiplier %v", got)
	}

	e.ProcessEvent(event("pay.fail", t0, map[string]any{"status": "failed"}))
	tests := []struct {
		at   time.Duration
		want float64
	}{
		{5 * time.Minute, 1.5},
		{20 * time.Minute, 3},
		{65 * time.Minute, 2},
		{71 * time.Minute, 1},
	}
	for _, tt := range tests {
		if got := e.CascadeMultiplier("support", t0.Add(tt.at)); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("multiplier at +%v = %v, want %v", tt.at, got, tt.want)
		}
	}
	if got := e.CascadeMultiplier("other", t0.Add(20*time.Minute)); got != 1 {
		t.Errorf("unrelated stream multiplier = %v", got)
	}
}

func TestTemporalGate(t *testing.T) {
	rel := catalog.Relationships{TemporalDependencies: []catalog.TemporalDependency{
		{Prerequisite: "session.started", Dependent: "session.completed", MinDelay: "5 minutes"},
	}}
	e := newEngine(t, rel)
	if e.CanGenerateStream("session.completed", t0) {
		t.Error("dependent allowed before prerequisite ever occurred")
	}
	e.ProcessEvent(event("session.started", t0, nil))
	if e.CanGenerateStream("session.completed", t0.Add(4*time.Minute)) {
		t.Error("dependent allowed before min delay")
	}
	if !e.CanGenerateStream("session.completed", t0.Add(5*time.Minute)) {
		t.Error("dependent blocked after min delay")
	}
	if !e.CanGenerateStream("unrelated", t0) {
		t.Error("stream without dependencies blocked")
	}
}

func TestInertEventsIgnored(t *testing.T) {
	e := newEngine(t, chain("a", "b", 1, "0", ""))
	e.ProcessEvent(models.StreamEvent{Stream: "a", Timestamp: t0, Data: map[string]any{"error": "x"}})
	if e.PendingCount() != 0 {
		t.Error("inert event triggered a chain")
	}
}

func TestCleanup(t *testing.T) {
	rel := chain("a", "b", 1, "1 hour", "")
	rel.CascadingEffects = []catalog.CascadingEffect{{
		Trigger: "a",
		Effects: []catalog.CascadeTarget{{Stream: "c", Multiplier: 2, Window: "30 minutes"}},
	}}
	e := newEngine(t, rel)
	e.ProcessEvent(event("a", t0, nil))
	e.ProcessEvent(event("a", t0.Add(2*time.Hour), nil))

	// first entry due at +1h, resolve it
	if got := e.ResolveDue(t0.Add(90 * time.Minute)); len(got) != 1 {
		t.Fatalf("ResolveDue = %v", got)
	}
	// resolved entry and first cascade (ended +30m) go away
	if removed := e.CleanupResolvedEvents(t0.Add(90 * time.Minute)); removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}
	if e.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", e.PendingCount())
	}
	// second entry due at +3h becomes stale 24h later
	e.CleanupResolvedEvents(t0.Add(3*time.Hour + StaleAfter + time.Second))
	if p, c := e.store.Len(); p != 0 || c != 0 {
		t.Errorf("store not empty: pending=%d cascades=%d", p, c)
	}
}

func TestScenarioCascades(t *testing.T) {
	e := newEngine(t, catalog.Relationships{})
	mult := 1.8
	err := e.SetScenarioCascades("payment-outage", []models.CascadeRule{{
		SourceStream: "pay.fail",
		TargetStream: "support",
		Delay:        "0",
		Window:       "1 hour",
		Effect:       models.StreamModification{Multiplier: &mult},
	}})
	if err != nil {
		t.Fatal(err)
	}
	e.ProcessEvent(event("pay.fail", t0, nil))
	if got := e.CascadeMultiplier("support", t0.Add(time.Minute)); got != 1.8 {
		t.Errorf("scenario cascade multiplier = %v", got)
	}

	e.ClearScenarioCascades()
	if got := e.CascadeMultiplier("support", t0.Add(time.Minute)); got != 1 {
		t.Errorf("scenario cascade survived clear: %v", got)
	}
	e.ProcessEvent(event("pay.fail", t0, nil))
	if len(e.Cascades()) != 0 {
		t.Error("cleared scenario rules still schedule cascades")
	}

	bad := e.SetScenarioCascades("x", []models.CascadeRule{{SourceStream: "a", TargetStream: "b", Delay: "whenever"}})
	if !models.IsValidation(bad) {
		t.Errorf("bad rule error = %v, want validation", bad)
	}
}

func TestNewReportsAllBadRules(t *testing.T) {
	rel := catalog.Relationships{
		EventChains: []catalog.EventChain{{ID: "c", Steps: []catalog.ChainStep{{
			Stream: "a",
			Next: []catalog.ChainLink{
				{Stream: "b", Delay: "soon"},
				{Stream: "c", Condition: "x ~ 1"},
			},
		}}}},
		TemporalDependencies: []catalog.TemporalDependency{{Prerequisite: "a", Dependent: "b", MinDelay: "later"}},
	}
	_, err := New(rel)
	if err == nil {
		t.Fatal("New accepted malformed rules")
	}
	for _, want := range []string{"soon", "x ~ 1", "later"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestEmbeddedRelationshipsCompile(t *testing.T) {
	c, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(c.Relationships); err != nil {
		t.Errorf("embedded relationships fail to compile: %v", err)
	}
}

func TestReset(t *testing.T) {
	e := newEngine(t, chain("a", "b", 1, "0", ""))
	e.ProcessEvent(event("a", t0, nil))
	e.Reset()
	if e.PendingCount() != 0 || !e.store.LastOccurrence("a").IsZero() {
		t.Error("Reset left state behind")
	}
}
