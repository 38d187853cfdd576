package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/internal/trigger"
)

var errRunNotFound = eris.New("api: run not found")

const (
	defaultLeadLimit     = 100
	defaultActivityLimit = 50
	maxListLimit         = 500
)

func (s *Server) startCampaign(w http.ResponseWriter, r *http.Request) {
	var req trigger.StartRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	run, err := s.deps.Router.Start(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runId": run.ID})
}

func (s *Server) stopCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Router.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) campaignStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Router.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) campaignRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Router.Runs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) campaignLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.deps.Store.ListLeads(r.Context(), chi.URLParam(r, "id"), limitParam(r, defaultLeadLimit))
	if err != nil {
		fail(w, r, err)
		return
	}
	if leads == nil {
		leads = []model.DiscoveredLead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) campaignActivities(w http.ResponseWriter, r *http.Request) {
	acts, err := s.deps.Store.ListActivities(r.Context(), chi.URLParam(r, "id"), limitParam(r, defaultActivityLimit))
	if err != nil {
		fail(w, r, err)
		return
	}
	if acts == nil {
		acts = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": acts})
}

func (s *Server) campaignMetrics(w http.ResponseWriter, r *http.Request) {
	ms, err := s.deps.Store.ListDailyMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if ms == nil {
		ms = []model.DailyMetrics{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": ms})
}

func (s *Server) runSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = eris.Wrapf(errRunNotFound, "%s", id)
		}
		fail(w, r, err)
		return
	}
	steps, err := s.deps.Store.ListSteps(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if steps == nil {
		steps = []model.Step{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

type probeStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// testCampaign probes every provider and reports whether the LLM key is
// configured. Success means at least one check passed.
func (s *Server) testCampaign(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]probeStatus)
	if s.deps.Prober != nil {
		for _, p := range s.deps.Prober.Probe(r.Context()) {
			results[p.Provider] = probeStatus{OK: p.OK, Message: p.Message}
		}
	}
	if s.deps.AnthropicKey != "" {
		results["anthropic"] = probeStatus{OK: true, Message: "Key configured"}
	} else {
		results["anthropic"] = probeStatus{OK: false, Message: "Key not configured"}
	}

	success := false
	for _, res := range results {
		if res.OK {
			success = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": success, "results": results})
}

func (s *Server) reviewLead(decision model.LeadStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		applied, err := s.deps.Router.Review(r.Context(), chi.URLParam(r, "id"), decision)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied": applied, "status": decision})
	}
}

type eventRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type recordData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "event name required")
		return
	}

	ev := model.RecordCreated{Event: req.Name, Data: req.Data}
	if len(req.Data) > 0 {
		var rec recordData
		if err := json.Unmarshal(req.Data, &rec); err == nil {
			ev.RecordID, ev.Name, ev.Email, ev.Company = rec.ID, rec.Name, rec.Email, rec.Company
		}
	}
	if err := s.deps.Router.RecordCreated(r.Context(), ev); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "event": req.Name})
}

type webhookRequest struct {
	FlowID string          `json:"flow_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) flowWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.deps.Router.Webhook(r.Context(), model.WebhookReceived{
		FlowID:  req.FlowID,
		Event:   req.Event,
		Payload: req.Data,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":     true,
		"received_at": s.now().UTC(),
	})
}

func (s *Server) triggerFlow(w http.ResponseWriter, r *http.Request) {
	var req flow.TriggerRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.deps.Router.TriggerFlow(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"flow":      res.Flow,
		"execution": res.Execution,
	})
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
