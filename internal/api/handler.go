package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/events"
	"github.com/nidhogg/parley/internal/judge"
	"github.com/nidhogg/parley/internal/metrics"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/scenario"
	"github.com/nidhogg/parley/internal/session"
)

// EventSource replays and follows run events. *events.Bus satisfies it.
type EventSource interface {
	History(ctx context.Context, runID string) ([]events.Event, error)
	Subscribe(ctx context.Context, runID, lastID string) <-chan *events.Event
}

// ProviderRegistry exposes the configured LLM providers. *provider.Router
// satisfies it.
type ProviderRegistry interface {
	ListProviders() []provider.Provider
	GetProvider(id string) (provider.Provider, bool)
	DefaultID() string
}

// Deps are the handler's collaborators. Results, Events, Providers, Metrics
// and Gatherer are optional.
type Deps struct {
	Sessions     *session.Manager
	Results      results.Store
	Events       EventSource
	Providers    ProviderRegistry
	Metrics      *metrics.Collector
	Gatherer     prometheus.Gatherer
	ScenariosDir string
	RulesPath    string
	CORSOrigins  []string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	origins := h.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	if h.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/scenarios", h.listScenarios)
		r.Get("/scenarios/{file}", h.getScenario)
		r.Get("/scenarios/{file}/metrics", h.scenarioMetrics)

		r.Get("/providers", h.listProviders)
		r.Get("/providers/{id}/health", h.providerHealth)

		r.Get("/rules", h.getRules)
		r.Put("/rules", h.putRules)

		// Run sessions
		r.Post("/runs", h.createRun)
		r.Get("/runs", h.listRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.getRun)
			r.Delete("/", h.deleteRun)
			r.Post("/advance", h.advanceRun)
			r.Post("/advance-all", h.advanceAll)
			r.Post("/reset", h.resetRun)
			r.Get("/transcript", h.transcript)
			r.Get("/verdict", h.verdict)
			r.Get("/judge-prompt", h.judgePrompt)
			r.Post("/persist", h.persistRun)
			r.Get("/events", h.runEvents)
			r.Get("/events/stream", h.streamRunEvents)
		})

		// Stored results
		r.Get("/results", h.listResults)
		r.Get("/results/summary", h.resultsSummary)
	})

	return r
}

// instrument records request counts and latency by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.deps.Metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "parley"})
}

func (h *Handler) listScenarios(w http.ResponseWriter, r *http.Request) {
	files, err := scenario.ListFiles(h.deps.ScenariosDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dir":   h.deps.ScenariosDir,
		"files": files,
	})
}

func (h *Handler) getScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.loadScenario(chi.URLParam(r, "file"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// loadScenario reads a file from the scenarios directory. Only the base name
// is used so requests cannot escape the directory.
func (h *Handler) loadScenario(file string) (*scenario.Scenario, error) {
	return scenario.Load(filepath.Join(h.deps.ScenariosDir, filepath.Base(file)))
}

func (h *Handler) getRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rules.Load(h.deps.RulesPath))
}

func (h *Handler) putRules(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resolved := rules.Resolve(raw)
	if err := rules.Save(h.deps.RulesPath, resolved); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.logger.Info("negotiation rules updated",
		zap.String("mode", string(resolved.Mode)),
		zap.Int("max_rounds", resolved.MaxRounds))
	writeJSON(w, http.StatusOK, resolved)
}

type createRunRequest struct {
	ScenarioFile string             `json:"scenario_file"`
	Scenario     *scenario.Scenario `json:"scenario"`
	Rules        map[string]any     `json:"rules"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	file := req.ScenarioFile
	sc := req.Scenario
	switch {
	case sc != nil:
		if file == "" {
			file = "inline"
		}
	case file != "":
		loaded, err := h.loadScenario(file)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		file = filepath.Base(file)
		sc = loaded
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scenario_file or scenario is required"})
		return
	}

	active := rules.Load(h.deps.RulesPath)
	if req.Rules != nil {
		active = rules.Resolve(req.Rules)
	}

	s, err := h.deps.Sessions.Create(file, sc, active)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.State())
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	sessions := h.deps.Sessions.List()
	out := make([]session.State, len(sessions))
	for i, s := range sessions {
		out[i] = s.State()
	}
	writeJSON(w, http.StatusOK, out)
}

// withSession resolves the {id} URL parameter or writes 404.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) advanceRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	item, err := s.Advance(r.Context())
	if err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"round": item,
		"state": s.State(),
	})
}

func (h *Handler) advanceAll(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	n, err := s.AdvanceUntilEnd(r.Context())
	if err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rounds_executed": n,
		"state":           s.State(),
	})
}

func (h *Handler) resetRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	if err := s.Reset(r.Context()); err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) transcript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	history, text, err := s.Transcript()
	if err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"text":    text,
	})
}

func (h *Handler) verdict(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	final, meta, ready := s.Final()
	if !ready {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "final verdict not available until the negotiation terminates",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluation": final,
		"meta":       meta,
	})
}

func (h *Handler) judgePrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	scope := judge.ParseScope(r.URL.Query().Get("scope"))
	p, err := s.JudgePrompt(scope)
	if err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"scope":  string(scope),
		"prompt": p,
	})
}

func (h *Handler) persistRun(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	rec, err := s.Persist(r.Context())
	if err != nil {
		h.runError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) runEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	if h.deps.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not initialized"})
		return
	}
	history, err := h.deps.Events.History(r.Context(), s.State().RunID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// streamRunEvents follows a run's events as server-sent events. last_id (or
// the Last-Event-ID header) resumes after a stream ID; "0" replays from the
// start, empty follows new events only.
func (h *Handler) streamRunEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.withSession(w, r)
	if !ok {
		return
	}
	if h.deps.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not initialized"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = r.Header.Get("Last-Event-ID")
	}
	runID := s.State().RunID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": following run %s\n\n", runID)
	flusher.Flush()

	for ev := range h.deps.Events.Subscribe(r.Context(), runID, lastID) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("encode run event", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		if ev.StreamID != "" {
			fmt.Fprintf(w, "id: %s\n", ev.StreamID)
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// metricView is a scenario metric as a dashboard renders it.
type metricView struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Numeric     bool              `json:"numeric"`
	UtilitySign int               `json:"utility_sign"`
	Labels      []string          `json:"labels,omitempty"`
	Colors      map[string]string `json:"colors,omitempty"`
}

func (h *Handler) scenarioMetrics(w http.ResponseWriter, r *http.Request) {
	sc, err := h.loadScenario(chi.URLParam(r, "file"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	out := []metricView{}
	for _, m := range sc.MetricSpecs() {
		v := metricView{
			Name:        m.Name,
			Type:        m.Type,
			Numeric:     m.Numeric(),
			UtilitySign: m.UtilitySign(),
		}
		if m.Categorical() {
			v.Labels = m.Labels()
			v.Colors = m.Colors()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type providerView struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Models []provider.Model `json:"models"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "providers not configured"})
		return
	}
	out := []providerView{}
	for _, p := range h.deps.Providers.ListProviders() {
		models, err := p.ListModels(r.Context())
		if err != nil {
			h.logger.Warn("list models failed", zap.String("provider", p.ID()), zap.Error(err))
		}
		if models == nil {
			models = []provider.Model{}
		}
		out = append(out, providerView{ID: p.ID(), Name: p.Name(), Models: models})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default":   h.deps.Providers.DefaultID(),
		"providers": out,
	})
}

// providerHealth sends a minimal request through one provider.
func (h *Handler) providerHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "providers not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	p, ok := h.deps.Providers.GetProvider(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not found: " + id})
		return
	}
	if err := p.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"id": id, "status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ok"})
}

func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	records, ok := h.records(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) resultsSummary(w http.ResponseWriter, r *http.Request) {
	records, ok := h.records(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, results.Summarize(records, r.URL.Query().Get("scenario")))
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) ([]results.Record, bool) {
	if h.deps.Results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "results store not initialized"})
		return nil, false
	}
	records, err := h.deps.Results.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if records == nil {
		records = []results.Record{}
	}
	return records, true
}

// runError maps session failures to status codes. Anything that is not a
// session state error came from a model provider.
func (h *Handler) runError(w http.ResponseWriter, s *session.Session, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	h.logger.Warn("run operation failed", zap.String("session", s.ID()), zap.Error(err))
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
