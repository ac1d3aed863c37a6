package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/streamsim/internal/correlation"
	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/models"
	"github.com/rewired-gh/streamsim/internal/simulation"
)

const (
	defaultStream     = "customer.tutor.search"
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.ListScenarios())
}

type activateRequest struct {
	ScenarioID string `json:"scenarioId"`
}

type activateResponse struct {
	Success  bool                    `json:"success"`
	Scenario models.ScenarioModifier `json:"scenario"`
	Events   []models.ExternalEvent  `json:"events"`
}

func (s *Server) activateScenario(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "malformed JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.ScenarioID) == "" {
		writeError(w, models.NewValidationError("scenarioId", "is required"))
		return
	}
	mod, events, err := s.sim.ActivateScenario(req.ScenarioID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.ExternalEvent{}
	}
	writeJSON(w, http.StatusOK, activateResponse{Success: true, Scenario: mod, Events: events})
}

type stopResponse struct {
	Success  bool `json:"success"`
	Scenario struct {
		ID    string        `json:"id"`
		State models.Status `json:"state"`
	} `json:"scenario"`
}

func (s *Server) stopScenario(w http.ResponseWriter, _ *http.Request) {
	mod, err := s.sim.StopScenario()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := stopResponse{Success: true}
	resp.Scenario.ID = mod.ID
	resp.Scenario.State = mod.Status
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reset(w http.ResponseWriter, _ *http.Request) {
	s.sim.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.State())
}

func (s *Server) generateEvent(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = defaultStream
	}
	ev, err := s.sim.GenerateEvent(stream)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type generateAllResponse struct {
	Events []models.StreamEvent `json:"events"`
	Errors []string             `json:"errors,omitempty"`
}

// generateAll always answers 200; failed streams appear as inert events.
func (s *Server) generateAll(w http.ResponseWriter, _ *http.Request) {
	events, err := s.sim.GenerateAll()
	resp := generateAllResponse{Events: events}
	if err != nil {
		logger.Warn("Generate all streams: %v", err)
		for _, ev := range events {
			if msg, bad := ev.ErrorMarker(); bad {
				resp.Errors = append(resp.Errors, msg)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, models.NewValidationError("start/end", "missing required parameters"))
		return
	}
	start, err := parseTime(q, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTime(q, "end")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.sim.History(r.Context(), simulation.HistoryQuery{
		Start:   start,
		End:     end,
		Streams: splitList(q.Get("streams")),
		Mode:    q.Get("mode"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type correlationsResponse struct {
	Count        int                      `json:"count"`
	Correlations []models.CorrelationData `json:"correlations"`
}

func (s *Server) correlations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := correlation.Filter{EventID: q.Get("eventId"), Stream: q.Get("stream")}
	var err error
	if f.Start, err = parseTime(q, "startTime"); err != nil {
		writeError(w, err)
		return
	}
	if f.End, err = parseTime(q, "endTime"); err != nil {
		writeError(w, err)
		return
	}
	cs := s.sim.Correlations(f)
	if cs == nil {
		cs = []models.CorrelationData{}
	}
	writeJSON(w, http.StatusOK, correlationsResponse{Count: len(cs), Correlations: cs})
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, models.NewValidationError("limit", "must be an integer in [1, %d]", maxAuditLimit))
			return
		}
		limit = n
	}
	entries, err := s.sim.Audit(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseTime reads an optional RFC 3339 parameter. Absent values are zero.
func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, models.NewValidationError(key, "invalid date %q, use ISO 8601", raw)
	}
	return t, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
