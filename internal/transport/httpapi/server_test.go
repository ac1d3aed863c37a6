package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/streamsim/internal/correlation"
	"github.com/rewired-gh/streamsim/internal/delivery"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/scenario"
	"github.com/rewired-gh/streamsim/internal/simulation"
)

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fakeSim struct {
	inFlight   string
	lastQuery  simulation.HistoryQuery
	lastFilter correlation.Filter
	auditLimit int
	resets     int
}

func (f *fakeSim) ListScenarios() []scenario.Summary {
	return []scenario.Summary{{ID: "payment-outage", Name: "Payment outage"}}
}

func (f *fakeSim) ActivateScenario(id string) (models.ScenarioModifier, []models.ExternalEvent, error) {
	if id != "payment-outage" && id != "supply-crisis" {
		return models.ScenarioModifier{}, nil, &models.NotFoundError{Kind: "scenario", ID: id}
	}
	if f.inFlight != "" {
		return models.ScenarioModifier{}, nil, &models.ConflictError{BlockingID: f.inFlight}
	}
	f.inFlight = id
	return models.ScenarioModifier{ID: id, Status: models.StatusActive}, nil, nil
}

func (f *fakeSim) StopScenario() (models.ScenarioModifier, error) {
	if f.inFlight == "" {
		return models.ScenarioModifier{}, models.NewValidationError("scenario", "no active scenario to stop")
	}
	return models.ScenarioModifier{ID: f.inFlight, Status: models.StatusSettling}, nil
}

func (f *fakeSim) Reset() {
	f.inFlight = ""
	f.resets++
}

func (f *fakeSim) State() models.SimulationState {
	return models.SimulationState{BaselineState: models.BaselineNormal, HistoricalMode: models.HistoricalBaseline}
}

func (f *fakeSim) GenerateEvent(stream string) (models.StreamEvent, error) {
	if stream == "boom" {
		return models.StreamEvent{}, &models.InternalError{Op: "generate boom", Err: errors.New("panic")}
	}
	ev := models.StreamEvent{Stream: stream, Timestamp: t0, Data: map[string]any{}}
	ev.SetValue(50, models.FlagNormal)
	return ev, nil
}

func (f *fakeSim) GenerateAll() ([]models.StreamEvent, error) {
	ok, _ := f.GenerateEvent("a")
	bad := models.StreamEvent{Stream: "b", Timestamp: t0, Data: map[string]any{"error": "generate b: panic"}}
	return []models.StreamEvent{ok, bad}, &models.InternalError{Op: "generate b", Err: errors.New("panic")}
}

func (f *fakeSim) History(_ context.Context, q simulation.HistoryQuery) (*simulation.HistoryResult, error) {
	f.lastQuery = q
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &simulation.HistoryResult{Start: q.Start, End: q.End, Streams: q.Streams}, nil
}

func (f *fakeSim) Correlations(filter correlation.Filter) []models.CorrelationData {
	f.lastFilter = filter
	return nil
}

func (f *fakeSim) Audit(limit int) ([]models.AuditEntry, error) {
	f.auditLimit = limit
	return []models.AuditEntry{}, nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestScenarioLifecycleRoutes(t *testing.T) {
	sim := &fakeSim{}
	h := New(Config{}, sim, nil, nil).Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"list", http.MethodGet, "/api/simulation/scenarios", "", http.StatusOK},
		{"stop without scenario", http.MethodPost, "/api/simulation/stop", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/simulation/scenario", "{", http.StatusBadRequest},
		{"missing id", http.MethodPost, "/api/simulation/scenario", `{}`, http.StatusBadRequest},
		{"unknown id", http.MethodPost, "/api/simulation/scenario", `{"scenarioId":"nope"}`, http.StatusNotFound},
		{"activate", http.MethodPost, "/api/simulation/scenario", `{"scenarioId":"payment-outage"}`, http.StatusOK},
		{"conflict", http.MethodPost, "/api/simulation/scenario", `{"scenarioId":"supply-crisis"}`, http.StatusConflict},
		{"stop", http.MethodPost, "/api/simulation/stop", "", http.StatusOK},
		{"reset", http.MethodPost, "/api/simulation/reset", "", http.StatusOK},
		{"state", http.MethodGet, "/api/simulation/state", "", http.StatusOK},
		{"wrong method", http.MethodGet, "/api/simulation/reset", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := do(t, h, tt.method, tt.target, tt.body)
		if rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.status, rec.Body.String())
		}
	}
	if sim.resets != 1 {
		t.Errorf("resets = %d", sim.resets)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	sim := &fakeSim{}
	h := New(Config{}, sim, nil, nil).Handler()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/simulation/reset"},
		{http.MethodGet, "/api/simulation/stop"},
		{http.MethodGet, "/api/simulation/scenario"},
		{http.MethodPost, "/api/simulation/scenarios"},
		{http.MethodDelete, "/api/simulation/state"},
		{http.MethodPost, "/healthz"},
	}
	for _, tt := range tests {
		if rec := do(t, h, tt.method, tt.target, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tt.method, tt.target, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/api/simulation/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
	if sim.resets != 0 {
		t.Errorf("resets = %d after rejected requests", sim.resets)
	}
}

func TestConflictCarriesBlockingID(t *testing.T) {
	sim := &fakeSim{inFlight: "payment-outage"}
	h := New(Config{}, sim, nil, nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/simulation/scenario", `{"scenarioId":"supply-crisis"}`)
	var body errorResponse
	decode(t, rec, &body)
	if rec.Code != http.StatusConflict || body.BlockingScenarioID != "payment-outage" {
		t.Errorf("response = %d %+v", rec.Code, body)
	}
}

func TestEventRoutes(t *testing.T) {
	h := New(Config{}, &fakeSim{}, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/simulation/events", "")
	var ev models.StreamEvent
	decode(t, rec, &ev)
	if rec.Code != http.StatusOK || ev.Stream != defaultStream {
		t.Errorf("default event = %d %+v", rec.Code, ev)
	}

	if rec := do(t, h, http.MethodGet, "/api/simulation/events?stream=boom", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing stream status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/simulation/events/all", "")
	var all generateAllResponse
	decode(t, rec, &all)
	if rec.Code != http.StatusOK || len(all.Events) != 2 || len(all.Errors) != 1 {
		t.Errorf("all = %d %+v", rec.Code, all)
	}
}

func TestHistoryParams(t *testing.T) {
	sim := &fakeSim{}
	h := New(Config{}, sim, nil, nil).Handler()

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing end", "?start=2026-03-01T00:00:00Z", http.StatusBadRequest},
		{"bad date", "?start=yesterday&end=2026-03-02T00:00:00Z", http.StatusBadRequest},
		{"reversed", "?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z", http.StatusBadRequest},
		{"ok", "?start=2026-03-01T00:00:00Z&end=2026-03-02T00:00:00Z&streams=a,%20b,,&mode=modified", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := do(t, h, http.MethodGet, "/api/simulation/history"+tt.query, ""); rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.status)
		}
	}
	q := sim.lastQuery
	if len(q.Streams) != 2 || q.Streams[1] != "b" || q.Mode != models.HistoricalModified {
		t.Errorf("query = %+v", q)
	}
}

func TestCorrelationAndAuditParams(t *testing.T) {
	sim := &fakeSim{}
	h := New(Config{}, sim, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/simulation/correlations?eventId=e1&stream=s&startTime=2026-03-01T00:00:00Z", "")
	var body correlationsResponse
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body.Count != 0 || body.Correlations == nil {
		t.Errorf("correlations = %d %+v", rec.Code, body)
	}
	if f := sim.lastFilter; f.EventID != "e1" || f.Stream != "s" || f.Start.IsZero() || !f.End.IsZero() {
		t.Errorf("filter = %+v", f)
	}
	if rec := do(t, h, http.MethodGet, "/api/simulation/correlations?endTime=soon", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad endTime status = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/api/simulation/audit", ""); rec.Code != http.StatusOK || sim.auditLimit != defaultAuditLimit {
		t.Errorf("audit default = %d, limit %d", rec.Code, sim.auditLimit)
	}
	if rec := do(t, h, http.MethodGet, "/api/simulation/audit?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("audit limit=0 status = %d", rec.Code)
	}
}

func TestCORSAndHealth(t *testing.T) {
	h := New(Config{}, &fakeSim{}, nil, nil).Handler()

	rec := do(t, h, http.MethodOptions, "/api/simulation/scenario", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
	rec = do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler = %d", rec.Code)
	}
}

func TestWebSocketThroughMiddleware(t *testing.T) {
	hub := delivery.NewHub(delivery.Config{}, nil, nil)
	srv := httptest.NewServer(New(Config{}, &fakeSim{}, hub, nil).Handler())
	defer func() {
		hub.Close()
		srv.Close()
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(delivery.Message{Type: delivery.TypeSubscribe}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg delivery.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != delivery.TypeError || msg.Code != "invalid_topics" {
		t.Errorf("reply = %+v", msg)
	}
}
