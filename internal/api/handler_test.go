package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/events"
	"github.com/nidhogg/parley/internal/metrics"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/session"
)

const scenarioJSON = `{
  "name": "Startup Acquisition",
  "agents": [
    {"id": "buyer", "name": "Buyer", "objective": "Buy low"},
    {"id": "seller", "name": "Seller", "objective": "Sell high"}
  ],
  "metrics": {
    "persuasion": {"type": "int"},
    "deception": {"type": "int", "utility_score": "negative"}
  },
  "resources_to_negotiate": {"price": {"currency": "EUR"}}
}`

// stubSource replies to agents with a counter and to judges with fixed JSON.
type stubSource struct{ n int }

func (s *stubSource) Model(name string, _ float64) provider.ChatModel {
	return provider.ModelFunc(func(context.Context, []provider.Message) (provider.Reply, error) {
		switch name {
		case "judge":
			return provider.TextReply(`{"agreement_status":"ongoing","persuasion":5,"deception":1}`), nil
		case "final":
			return provider.TextReply(`{"summary":"No deal.","dominant_agent":"Seller"}`), nil
		}
		s.n++
		return provider.TextReply(fmt.Sprintf("offer %d", s.n)), nil
	})
}

type memStore struct{ records []results.Record }

func (m *memStore) Append(_ context.Context, rec results.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) List(context.Context) ([]results.Record, error) { return m.records, nil }

type memEvents struct{ published []events.Event }

func (m *memEvents) Publish(_ context.Context, ev *events.Event) error {
	m.published = append(m.published, *ev)
	return nil
}

func (m *memEvents) History(_ context.Context, runID string) ([]events.Event, error) {
	var out []events.Event
	for _, ev := range m.published {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe delivers the run's published events, then holds the channel open
// until ctx ends.
func (m *memEvents) Subscribe(ctx context.Context, runID, _ string) <-chan *events.Event {
	history, _ := m.History(ctx, runID)
	ch := make(chan *events.Event, len(history))
	for i := range history {
		ch <- &history[i]
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

type testEnv struct {
	ts     *httptest.Server
	store  *memStore
	events *memEvents
	dir    string
}

// newTestEnv wires a handler against in-memory collaborators and a temp
// scenarios directory holding startup.json.
func newTestEnv(t *testing.T, withEvents bool) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "startup.json"), []byte(scenarioJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{store: &memStore{}, events: &memEvents{}, dir: dir}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, "parley", logger)
	opts := session.Options{
		Source:  &stubSource{},
		Metrics: collector,
		Results: env.store,
		Logger:  logger,
	}
	deps := Deps{
		Results:      env.store,
		Metrics:      collector,
		Gatherer:     reg,
		ScenariosDir: dir,
		RulesPath:    filepath.Join(dir, "config", "negotiation_rules.json"),
	}
	if withEvents {
		opts.Events = env.events
		deps.Events = env.events
	}
	deps.Sessions = session.NewManager(opts)

	env.ts = httptest.NewServer(NewHandler(deps, logger).Router())
	t.Cleanup(env.ts.Close)
	return env
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, ts.URL+path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	return doJSON(t, ts, http.MethodGet, path, nil)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

var testRules = map[string]any{
	"max_rounds":   2,
	"mode":         "mixed",
	"agents_model": "agent",
	"judge_model":  "judge",
	"final_judge_model": map[string]any{
		"type": "string", "value": "final",
	},
}

func createRun(t *testing.T, ts *httptest.Server) session.State {
	t.Helper()
	resp := doJSON(t, ts, http.MethodPost, "/api/runs", map[string]any{
		"scenario_file": "startup.json",
		"rules":         testRules,
	})
	expectStatus(t, resp, http.StatusCreated)
	var st session.State
	decodeJSON(t, resp, &st)
	return st
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, false)
	resp := getJSON(t, env.ts, "/api/health")
	expectStatus(t, resp, http.StatusOK)

	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestListAndGetScenarios(t *testing.T) {
	env := newTestEnv(t, false)
	if err := os.WriteFile(filepath.Join(env.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var list struct {
		Files []string `json:"files"`
	}
	decodeJSON(t, getJSON(t, env.ts, "/api/scenarios"), &list)
	if len(list.Files) != 1 || list.Files[0] != "startup.json" {
		t.Fatalf("files = %v, want [startup.json]", list.Files)
	}

	resp := getJSON(t, env.ts, "/api/scenarios/startup.json")
	expectStatus(t, resp, http.StatusOK)
	var sc struct {
		Name string `json:"name"`
	}
	decodeJSON(t, resp, &sc)
	if sc.Name != "Startup Acquisition" {
		t.Errorf("name = %q", sc.Name)
	}

	resp = getJSON(t, env.ts, "/api/scenarios/missing.json")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestRulesRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)

	var got rules.Rules
	decodeJSON(t, getJSON(t, env.ts, "/api/rules"), &got)
	if got != rules.Defaults() {
		t.Fatalf("defaults = %+v", got)
	}

	resp := doJSON(t, env.ts, http.MethodPut, "/api/rules", map[string]any{
		"max_rounds": map[string]any{"value": 4},
		"mode":       " Cooperative ",
	})
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &got)
	if got.MaxRounds != 4 || got.Mode != rules.ModeCooperative {
		t.Fatalf("saved = %+v", got)
	}

	decodeJSON(t, getJSON(t, env.ts, "/api/rules"), &got)
	if got.MaxRounds != 4 {
		t.Errorf("reloaded max_rounds = %d, want 4", got.MaxRounds)
	}

	resp = doJSON(t, env.ts, http.MethodPut, "/api/rules", "not an object")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestCreateRunValidation(t *testing.T) {
	env := newTestEnv(t, false)

	resp := doJSON(t, env.ts, http.MethodPost, "/api/runs", map[string]any{})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, env.ts, http.MethodPost, "/api/runs", map[string]any{"scenario_file": "../../etc/passwd"})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, env.ts, http.MethodPost, "/api/runs", map[string]any{
		"scenario": map[string]any{"agents": []any{map[string]any{"id": "a"}}},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestInlineScenarioUsesGlobalRules(t *testing.T) {
	env := newTestEnv(t, false)
	resp := doJSON(t, env.ts, http.MethodPost, "/api/runs", map[string]any{
		"scenario": json.RawMessage(scenarioJSON),
	})
	expectStatus(t, resp, http.StatusCreated)
	var st session.State
	decodeJSON(t, resp, &st)
	if st.ScenarioFile != "inline" || st.MaxRounds != rules.DefaultMaxRounds {
		t.Errorf("state = %+v", st)
	}
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	st := createRun(t, env.ts)
	base := "/api/runs/" + st.ID
	if st.MaxRounds != 2 || !st.CanAdvance {
		t.Fatalf("created state = %+v", st)
	}

	// Verdict is unavailable until termination.
	resp := getJSON(t, env.ts, base+"/verdict")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	var adv struct {
		Round *session.RoundEvaluation `json:"round"`
		State session.State            `json:"state"`
	}
	resp = doJSON(t, env.ts, http.MethodPost, base+"/advance", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &adv)
	if adv.Round == nil || adv.Round.Round != 1 || len(adv.Round.Turns) != 2 {
		t.Fatalf("round = %+v", adv.Round)
	}
	if adv.Round.UtilityTotal == nil || *adv.Round.UtilityTotal != 4 {
		t.Errorf("utility_total = %v, want 4", adv.Round.UtilityTotal)
	}

	var all struct {
		RoundsExecuted int           `json:"rounds_executed"`
		State          session.State `json:"state"`
	}
	resp = doJSON(t, env.ts, http.MethodPost, base+"/advance-all", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &all)
	if all.RoundsExecuted != 1 || !all.State.Terminated || all.State.TerminationReason != "stalled" {
		t.Fatalf("advance-all = %+v", all)
	}

	var tr struct {
		History []map[string]string `json:"history"`
		Text    string              `json:"text"`
	}
	decodeJSON(t, getJSON(t, env.ts, base+"/transcript"), &tr)
	if len(tr.History) != 4 || !strings.HasPrefix(tr.Text, "1. [Buyer] offer 1") {
		t.Errorf("transcript = %+v", tr)
	}

	var verdict struct {
		Evaluation map[string]any    `json:"evaluation"`
		Meta       session.FinalMeta `json:"meta"`
	}
	resp = getJSON(t, env.ts, base+"/verdict")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &verdict)
	if verdict.Evaluation["summary"] != "No deal." || verdict.Meta.HistoryLen != 4 {
		t.Errorf("verdict = %+v", verdict)
	}

	var jp map[string]string
	decodeJSON(t, getJSON(t, env.ts, base+"/judge-prompt?scope=final"), &jp)
	if jp["scope"] != "final" || !strings.Contains(jp["prompt"], "4. [Seller] offer 4") {
		t.Errorf("judge prompt = %v", jp)
	}

	var evs []events.Event
	resp = getJSON(t, env.ts, base+"/events")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &evs)
	if len(evs) == 0 || evs[len(evs)-1].Type != events.TypePersisted {
		t.Errorf("events = %+v", evs)
	}

	// Termination persisted the run once.
	var stored []results.Record
	decodeJSON(t, getJSON(t, env.ts, "/api/results"), &stored)
	if len(stored) != 1 || stored[0].RunID != st.RunID || stored[0].DominantAgent != "Seller" {
		t.Fatalf("results = %+v", stored)
	}

	var summary results.Summary
	decodeJSON(t, getJSON(t, env.ts, "/api/results/summary?scenario=Startup+Acquisition"), &summary)
	if summary.Runs != 1 || summary.Stalled != 1 {
		t.Errorf("summary = %+v", summary)
	}

	resp = doJSON(t, env.ts, http.MethodPost, base+"/reset", nil)
	expectStatus(t, resp, http.StatusOK)
	var reset session.State
	decodeJSON(t, resp, &reset)
	if reset.Round != 0 || reset.Terminated || reset.RunID == st.RunID {
		t.Errorf("reset state = %+v", reset)
	}

	resp = doJSON(t, env.ts, http.MethodDelete, base, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = getJSON(t, env.ts, base)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestPersistStoppedRun(t *testing.T) {
	env := newTestEnv(t, false)
	st := createRun(t, env.ts)
	base := "/api/runs/" + st.ID

	resp := doJSON(t, env.ts, http.MethodPost, base+"/advance", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var rec results.Record
	resp = doJSON(t, env.ts, http.MethodPost, base+"/persist", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &rec)
	if rec.EffectiveRounds != 1 || rec.AgreementStatus != "ongoing" || rec.Mode != "mixed" {
		t.Errorf("record = %+v", rec)
	}
	if len(env.store.records) != 1 {
		t.Errorf("stored %d records, want 1", len(env.store.records))
	}
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t, false)
	first := createRun(t, env.ts)
	createRun(t, env.ts)

	var runs []session.State
	decodeJSON(t, getJSON(t, env.ts, "/api/runs"), &runs)
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	found := false
	for _, r := range runs {
		found = found || r.ID == first.ID
	}
	if !found {
		t.Errorf("first run %s missing from list", first.ID)
	}
}

func TestEventsUnavailable(t *testing.T) {
	env := newTestEnv(t, false)
	st := createRun(t, env.ts)
	for _, path := range []string{"/events", "/events/stream"} {
		resp := getJSON(t, env.ts, "/api/runs/"+st.ID+path)
		expectStatus(t, resp, http.StatusServiceUnavailable)
		resp.Body.Close()
	}
}

func TestUnknownRun(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/verdict", "/api/runs/nope/transcript"} {
		resp := getJSON(t, env.ts, path)
		expectStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	}
	resp := doJSON(t, env.ts, http.MethodPost, "/api/runs/nope/advance", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	resp := getJSON(t, env.ts, "/api/health")
	resp.Body.Close()

	resp = getJSON(t, env.ts, "/metrics")
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `parley_http_requests_total{method="GET",route="/api/health",status="200"} 1`) {
		t.Errorf("metrics output missing health counter:\n%s", body)
	}
}

func TestScenarioMetrics(t *testing.T) {
	env := newTestEnv(t, false)
	sc := `{
  "name": "Water",
  "agents": [{"id": "a", "name": "A"}, {"id": "b", "name": "B"}],
  "metrics": {
    "cooperation": {"type": "int"},
    "manipulativeness": {"type": "int", "utility_score": "negative"},
    "agreement_type": {"type": "enum", "values": ["Full:green", "partial:orange", "none"]}
  }
}`
	if err := os.WriteFile(filepath.Join(env.dir, "water.json"), []byte(sc), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := getJSON(t, env.ts, "/api/scenarios/water.json/metrics")
	expectStatus(t, resp, http.StatusOK)
	var views []metricView
	decodeJSON(t, resp, &views)
	if len(views) != 3 {
		t.Fatalf("metrics = %d, want 3", len(views))
	}
	if views[0].Name != "cooperation" || !views[0].Numeric || views[0].UtilitySign != 1 || views[0].Colors != nil {
		t.Errorf("cooperation view = %+v", views[0])
	}
	if views[1].UtilitySign != -1 {
		t.Errorf("manipulativeness sign = %d, want -1", views[1].UtilitySign)
	}
	want := map[string]string{"full": "green", "partial": "orange", "none": "gray"}
	got := views[2]
	if got.Numeric || len(got.Labels) != 3 || len(got.Colors) != len(want) {
		t.Fatalf("agreement_type view = %+v", got)
	}
	for label, color := range want {
		if got.Colors[label] != color {
			t.Errorf("color[%s] = %q, want %q", label, got.Colors[label], color)
		}
	}

	resp = getJSON(t, env.ts, "/api/scenarios/missing.json/metrics")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// fakeProvider is a registered provider whose health is scripted.
type fakeProvider struct {
	id        string
	healthErr error
}

func (p *fakeProvider) ID() string   { return p.id }
func (p *fakeProvider) Name() string { return strings.ToUpper(p.id) }
func (p *fakeProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}
func (p *fakeProvider) ListModels(context.Context) ([]provider.Model, error) {
	return []provider.Model{{ID: p.id + "-large", Name: p.id + "-large", Provider: p.id}}, nil
}
func (p *fakeProvider) HealthCheck(context.Context) error { return p.healthErr }
func (p *fakeProvider) Supports(model string) bool        { return strings.HasPrefix(model, p.id) }

func TestProviders(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	router.Register(&fakeProvider{id: "alpha"})
	router.Register(&fakeProvider{id: "beta", healthErr: errors.New("401 unauthorized")})
	router.SetDefault("beta")

	ts := httptest.NewServer(NewHandler(Deps{Providers: router}, zap.NewNop()).Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/api/providers")
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Default   string         `json:"default"`
		Providers []providerView `json:"providers"`
	}
	decodeJSON(t, resp, &body)
	if body.Default != "beta" {
		t.Errorf("default = %q, want beta", body.Default)
	}
	if len(body.Providers) != 2 || body.Providers[0].ID != "alpha" || body.Providers[0].Name != "ALPHA" {
		t.Fatalf("providers = %+v", body.Providers)
	}
	if len(body.Providers[0].Models) != 1 || body.Providers[0].Models[0].ID != "alpha-large" {
		t.Errorf("alpha models = %+v", body.Providers[0].Models)
	}

	resp = getJSON(t, ts, "/api/providers/alpha/health")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/providers/beta/health")
	expectStatus(t, resp, http.StatusBadGateway)
	var unhealthy map[string]string
	decodeJSON(t, resp, &unhealthy)
	if unhealthy["status"] != "unhealthy" || !strings.Contains(unhealthy["error"], "401") {
		t.Errorf("beta health = %v", unhealthy)
	}

	resp = getJSON(t, ts, "/api/providers/gamma/health")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestProvidersUnavailable(t *testing.T) {
	env := newTestEnv(t, false)
	resp := getJSON(t, env.ts, "/api/providers")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}
