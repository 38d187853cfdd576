// Package api exposes campaign control, review, flow triggers and the live
// progress feed over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/flow"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/trigger"
)

// Reader is the read side of the store the handlers query directly.
type Reader interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListSteps(ctx context.Context, runID string) ([]model.Step, error)
	ListLeads(ctx context.Context, campaignID string, limit int) ([]model.DiscoveredLead, error)
	ListActivities(ctx context.Context, campaignID string, limit int) ([]model.Activity, error)
	ListDailyMetrics(ctx context.Context, campaignID string) ([]model.DailyMetrics, error)
	Ping(ctx context.Context) error
}

// Prober checks provider connectivity.
type Prober interface {
	Probe(ctx context.Context) []capability.ProbeResult
}

// Deps wires the server to the rest of the system. Broker, Prober and
// Metrics are optional.
type Deps struct {
	Router         *trigger.Router
	Store          Reader
	Broker         progress.Broker
	Prober         Prober
	Metrics        http.Handler
	Middleware     func(http.Handler) http.Handler
	AnthropicKey   string
	AllowedOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
	now  func() time.Time
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, now: time.Now}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if s.deps.Middleware != nil {
		r.Use(s.deps.Middleware)
	}
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Post("/start", s.startCampaign)
		r.Post("/stop", s.stopCampaign)
		r.Get("/status", s.campaignStatus)
		r.Get("/runs", s.campaignRuns)
		r.Get("/leads", s.campaignLeads)
		r.Get("/activities", s.campaignActivities)
		r.Get("/metrics", s.campaignMetrics)
		r.Post("/test", s.testCampaign)
		r.Get("/live", s.live)
	})
	r.Get("/runs/{id}/steps", s.runSteps)
	r.Post("/leads/{id}/approve", s.reviewLead(model.LeadStatusApproved))
	r.Post("/leads/{id}/reject", s.reviewLead(model.LeadStatusRejected))
	r.Post("/events", s.emitEvent)
	r.Post("/flows/webhook", s.flowWebhook)
	r.Post("/flows/{id}/trigger", s.triggerFlow)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// fail maps domain errors onto HTTP status codes.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, trigger.ErrCampaignNotFound),
		errors.Is(err, trigger.ErrLeadNotFound),
		errors.Is(err, flow.ErrFlowNotFound),
		errors.Is(err, errRunNotFound):
		code = http.StatusNotFound
	case errors.Is(err, trigger.ErrAlreadyRunning):
		code = http.StatusConflict
	case errors.Is(err, flow.ErrFlowInactive),
		errors.Is(err, flow.ErrFlowEmpty),
		errors.Is(err, flow.ErrUnsupportedEvent):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
