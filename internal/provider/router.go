package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LatencyObserver receives the duration of every routed chat call.
type LatencyObserver func(providerID, model string, d time.Duration, err error)

// Router manages multiple LLM providers and routes requests by model name.
type Router struct {
	providers map[string]Provider
	fallbacks []string // provider IDs tried after the primary fails
	defaults  string   // default provider ID
	observer  LatencyObserver
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetFallbacks configures the provider chain tried when the primary fails.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providerIDs
}

// Observe installs a latency observer.
func (r *Router) Observe(fn LatencyObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Route sends a chat request through the provider serving req.Model.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.resolve(req.Model)
	if primary == nil {
		return nil, fmt.Errorf("%w for model %s", ErrNoProvider, req.Model)
	}

	resp, err := r.chat(ctx, primary, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("provider", primary.ID()), zap.String("model", req.Model), zap.Error(err))

	for _, fbID := range r.fallbacks {
		fb, ok := r.providers[fbID]
		if !ok || fbID == primary.ID() {
			continue
		}
		resp, err = r.chat(ctx, fb, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for model %s: %w", req.Model, err)
}

func (r *Router) chat(ctx context.Context, p Provider, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.Chat(ctx, req)
	if r.observer != nil {
		r.observer(p.ID(), req.Model, time.Since(start), err)
	}
	return resp, err
}

// resolve picks the provider that lists model, else the default.
// Providers are scanned in ID order so the choice is stable.
func (r *Router) resolve(model string) Provider {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r.providers[id].Supports(model) {
			return r.providers[id]
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// Model returns a ChatModel bound to name and temperature.
func (r *Router) Model(name string, temperature float64) ChatModel {
	return &boundModel{router: r, name: name, temperature: temperature}
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
