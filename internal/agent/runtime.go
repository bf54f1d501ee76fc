package agent

import (
	"context"
	"fmt"

	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/scenario"
)

// PromptBuilder renders an agent's system prompt from its spec and the
// shared scenario context.
type PromptBuilder func(spec Spec, sc *scenario.Scenario) string

// Runtime binds one agent's spec to a model and a fixed system prompt.
// Only the per-turn user message varies between calls.
type Runtime struct {
	spec   Spec
	model  provider.ChatModel
	system string
}

// NewRuntime renders the system prompt once and binds it.
func NewRuntime(spec Spec, sc *scenario.Scenario, model provider.ChatModel, build PromptBuilder) *Runtime {
	return &Runtime{
		spec:   spec,
		model:  model,
		system: build(spec, sc),
	}
}

func (r *Runtime) Spec() Spec           { return r.spec }
func (r *Runtime) SystemPrompt() string { return r.system }
func (r *Runtime) Name() string         { return r.spec.Name }

// Reply runs one conversational turn. Model failures propagate unchanged
// in kind; there is no retry at this layer.
func (r *Runtime) Reply(ctx context.Context, message string) (string, error) {
	resp, err := r.model.Invoke(ctx, []provider.Message{
		provider.System(r.system),
		provider.User(message),
	})
	if err != nil {
		return "", fmt.Errorf("agent %s reply: %w", r.spec.ID, err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}
