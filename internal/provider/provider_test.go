package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubProvider struct {
	id     string
	models []string
	reply  string
	err    error
	calls  int
	last   *ChatRequest
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Model: req.Model, Content: s.reply}, nil
}
func (s *stubProvider) ListModels(context.Context) ([]Model, error) { return nil, nil }
func (s *stubProvider) HealthCheck(context.Context) error           { return nil }
func (s *stubProvider) Supports(model string) bool {
	for _, m := range s.models {
		if m == model {
			return true
		}
	}
	return false
}

func TestRouterResolvesByModel(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", reply: "from a"}
	b := &stubProvider{id: "b", models: []string{"gpt-4o"}, reply: "from b"}
	r.Register(a)
	r.Register(b)

	reply, err := r.Model("gpt-4o", 0.3).Invoke(context.Background(), []Message{User("hi")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if reply.Text() != "from b" {
		t.Errorf("expected provider b, got %q", reply.Text())
	}
	if b.last.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", b.last.Temperature)
	}

	reply, err = r.Model("unknown-model", 0.1).Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if reply.Text() != "from a" {
		t.Errorf("expected default provider a, got %q", reply.Text())
	}
}

func TestRouterFallbacks(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "primary", err: errors.New("boom")}
	backup := &stubProvider{id: "backup", reply: "ok"}
	r.Register(primary)
	r.Register(backup)
	r.SetDefault("primary")
	r.SetFallbacks([]string{"backup"})

	var observed []string
	r.Observe(func(id, _ string, _ time.Duration, _ error) { observed = append(observed, id) })

	resp, err := r.Route(context.Background(), &ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected fallback reply, got %q", resp.Content)
	}
	if len(observed) != 2 || observed[0] != "primary" || observed[1] != "backup" {
		t.Errorf("unexpected observations: %v", observed)
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	_, err := r.Model("m", 0).Invoke(context.Background(), nil)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestAnthropicChat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude","content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "anthropic", Endpoint: srv.URL, APIKey: "secret"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:       "claude",
		Messages:    []Message{System("be brief"), User("hi")},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text() != "Hello there" {
		t.Errorf("unexpected content %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("expected 5 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.Messages[0].Role != RoleUser {
		t.Errorf("system message not lifted: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("temperature not forwarded: %+v", got.Temperature)
	}
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/chat/completions":
			_, _ = w.Write([]byte(`{"id":"c1","model":"gpt","choices":[{"message":{"role":"assistant","content":"yes"},"finish_reason":"stop"}]}`))
		case "/models":
			_, _ = w.Write([]byte(`{"data":[{"id":"gpt"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "openai", Endpoint: srv.URL, APIKey: "k", Models: []string{"gpt"}}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "gpt", Messages: []Message{User("q")}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text() != "yes" {
		t.Errorf("unexpected content %q", resp.Text())
	}
	if !p.Supports("gpt") || p.Supports("claude") {
		t.Error("unexpected Supports result")
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check: %v", err)
	}
}

func TestOpenAIChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "openai", Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Model: "gpt"}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
