package provider

import (
	"context"
	"errors"
)

// ErrNoProvider is returned when no registered provider can serve a model.
var ErrNoProvider = errors.New("no provider available")

type boundModel struct {
	router      *Router
	name        string
	temperature float64
}

func (m *boundModel) Invoke(ctx context.Context, messages []Message) (Reply, error) {
	resp, err := m.router.Route(ctx, &ChatRequest{
		Model:       m.name,
		Messages:    messages,
		Temperature: m.temperature,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ModelFunc adapts a plain function to ChatModel.
type ModelFunc func(ctx context.Context, messages []Message) (Reply, error)

func (f ModelFunc) Invoke(ctx context.Context, messages []Message) (Reply, error) {
	return f(ctx, messages)
}
