// Package negotiation runs the turn-taking state machine that sequences
// LLM-backed agents through rounds and decides, from judge verdicts, when a
// negotiation is over.
//
// A Director is single-caller: it does no locking of its own. Callers that
// share one across goroutines (see package session) must serialize access.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/judge"
	"github.com/nidhogg/parley/internal/prompt"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/scenario"
)

// ErrMissingAgentField is returned by New when an agent lacks id or name.
var ErrMissingAgentField = errors.New("agent is missing a required field")

// OpeningMessage is the first human message of a run.
const OpeningMessage = "Let's begin the negotiation. Present your first proposal."

// Reason explains why a director stopped advancing.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonReached Reason = "reached"
	ReasonFailed  Reason = "failed"
	ReasonStalled Reason = "stalled"
)

// Turn is one agent's reply within a round.
type Turn struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// ModelFactory returns the model an agent speaks through.
type ModelFactory func(spec agent.Spec) provider.ChatModel

// Director owns round orchestration, the transcript and termination state.
type Director struct {
	scenario *scenario.Scenario
	rules    rules.Rules
	agents   []*agent.Runtime
	logger   *zap.Logger

	round      int
	history    []Turn
	status     judge.Status
	terminated bool
	reason     Reason
}

// New resolves the negotiation rules, then binds one runtime per declared
// agent in declaration order, which fixes speaking order.
func New(sc *scenario.Scenario, factory ModelFactory, logger *zap.Logger) (*Director, error) {
	if sc == nil {
		return nil, errors.New("scenario is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Director{
		scenario: sc,
		rules:    rules.Resolve(sc.NegotiationRules),
		logger:   logger,
		status:   judge.StatusOngoing,
	}
	for i, cfg := range sc.Agents {
		if strings.TrimSpace(cfg.ID) == "" {
			return nil, fmt.Errorf("agent %d: %w: id", i, ErrMissingAgentField)
		}
		if strings.TrimSpace(cfg.Name) == "" {
			return nil, fmt.Errorf("agent %s: %w: name", cfg.ID, ErrMissingAgentField)
		}
		spec := agent.SpecFrom(cfg)
		d.agents = append(d.agents, agent.NewRuntime(spec, sc, factory(spec), prompt.SystemPrompt))
	}
	return d, nil
}

// Reset clears the run state. Agents and policy are kept, so no model is
// rebound.
func (d *Director) Reset() {
	d.round = 0
	d.history = nil
	d.status = judge.StatusOngoing
	d.terminated = false
	d.reason = ReasonNone
}

// Step runs one round: every agent speaks once in order, each receiving
// the previous agent's reply. It returns nil when no round may run. If an
// agent fails, the partial round is rolled back and the error returned.
func (d *Director) Step(ctx context.Context, input string) ([]Turn, error) {
	if len(d.agents) == 0 || !d.CanAdvance() {
		return nil, nil
	}

	start := len(d.history)
	turns := make([]Turn, 0, len(d.agents))
	message := input
	for _, a := range d.agents {
		reply, err := a.Reply(ctx, message)
		if err != nil {
			d.history = d.history[:start]
			return nil, fmt.Errorf("round %d: %w", d.round+1, err)
		}
		turn := Turn{Agent: a.Name(), Content: reply}
		d.history = append(d.history, turn)
		turns = append(turns, turn)
		message = reply
	}
	d.round++
	d.logger.Debug("round complete", zap.Int("round", d.round), zap.Int("turns", len(turns)))
	return turns, nil
}

// Run steps until the director cannot advance or the last reply carries a
// terminal marker, and returns the full history.
func (d *Director) Run(ctx context.Context, opening string) ([]Turn, error) {
	message := opening
	for d.CanAdvance() {
		turns, err := d.Step(ctx, message)
		if err != nil {
			return d.History(), err
		}
		if len(turns) == 0 {
			break
		}
		message = turns[len(turns)-1].Content
		if IsTerminalMessage(message) {
			break
		}
	}
	return d.History(), nil
}

// IsTerminalMessage reports whether text carries AGREEMENT_REACHED or IMPASSE.
func IsTerminalMessage(text string) bool {
	return strings.Contains(text, prompt.MarkerAgreement) || strings.Contains(text, prompt.MarkerImpasse)
}

// CanAdvance reports whether another round may run. Reaching max rounds
// terminates the director as stalled.
func (d *Director) CanAdvance() bool {
	if d.terminated {
		return false
	}
	if d.round >= d.rules.MaxRounds {
		d.terminate(ReasonStalled, judge.StatusOngoing)
		return false
	}
	return true
}

// RegisterEvaluation applies a judge verdict to the termination state.
// A reached verdict that violates the closure policy is downgraded to
// ongoing. A terminated director ignores further verdicts.
func (d *Director) RegisterEvaluation(e judge.Evaluation) {
	if d.terminated {
		return
	}
	if st, ok := judge.ExtractStatus(e); ok {
		d.status = st
	}

	switch d.status {
	case judge.StatusReached:
		if d.validClosure(e) {
			d.terminate(ReasonReached, judge.StatusReached)
			return
		}
		d.logger.Info("reached verdict rejected by closure policy",
			zap.Int("round", d.round),
			zap.String("agreement_type", judge.NormalizeAgreementType(e["agreement_type"])),
			zap.Any("unanimous", e["unanimous"]))
		d.status = judge.StatusOngoing
	case judge.StatusFailed:
		d.terminate(ReasonFailed, judge.StatusFailed)
		return
	}

	if d.round >= d.rules.MaxRounds {
		d.terminate(ReasonStalled, judge.StatusOngoing)
	}
}

func (d *Director) validClosure(e judge.Evaluation) bool {
	if !d.rules.AllowPartialAgreements && judge.NormalizeAgreementType(e["agreement_type"]) == judge.AgreementPartial {
		return false
	}
	if d.rules.RequireUnanimousAgreement && !e.Bool("unanimous") {
		return false
	}
	return true
}

func (d *Director) terminate(reason Reason, status judge.Status) {
	d.terminated = true
	d.reason = reason
	d.status = status
	d.logger.Info("negotiation terminated",
		zap.String("reason", string(reason)),
		zap.String("status", string(status)),
		zap.Int("round", d.round))
}

// BuildJudgePrompt renders the judge prompt for the current transcript.
func (d *Director) BuildJudgePrompt(scope judge.Scope) string {
	return judge.BuildPrompt(judge.PromptInput{
		Scope:      scope,
		Status:     d.status,
		Metrics:    d.scenario.Metrics,
		Transcript: d.HistoryAsText(),
	})
}

// Evaluate asks model for a verdict. Malformed output yields the sentinel
// evaluation; only model failures are returned as errors.
func (d *Director) Evaluate(ctx context.Context, model provider.ChatModel, scope judge.Scope) (judge.Evaluation, error) {
	reply, err := model.Invoke(ctx, []provider.Message{provider.User(d.BuildJudgePrompt(scope))})
	if err != nil {
		return nil, fmt.Errorf("%s judge: %w", judge.ParseScope(string(scope)), err)
	}
	var raw string
	if reply != nil {
		raw = reply.Text()
	}
	return judge.Parse(raw), nil
}

// History returns a copy of the transcript.
func (d *Director) History() []Turn {
	out := make([]Turn, len(d.history))
	copy(out, d.history)
	return out
}

// HistoryAsText renders the transcript as numbered "n. [agent] content" lines.
func (d *Director) HistoryAsText() string {
	lines := make([]string, len(d.history))
	for i, t := range d.history {
		lines[i] = fmt.Sprintf("%d. [%s] %s", i+1, t.Agent, t.Content)
	}
	return strings.Join(lines, "\n")
}

func (d *Director) Round() int                      { return d.round }
func (d *Director) MaxRounds() int                  { return d.rules.MaxRounds }
func (d *Director) IsTerminated() bool              { return d.terminated }
func (d *Director) TerminationReason() Reason       { return d.reason }
func (d *Director) Status() judge.Status            { return d.status }
func (d *Director) Mode() rules.Mode                { return d.rules.Mode }
func (d *Director) AllowPartialAgreements() bool    { return d.rules.AllowPartialAgreements }
func (d *Director) RequireUnanimousAgreement() bool { return d.rules.RequireUnanimousAgreement }
func (d *Director) Rules() rules.Rules              { return d.rules }
func (d *Director) Scenario() *scenario.Scenario    { return d.scenario }

// Agents returns the bound runtimes in speaking order.
func (d *Director) Agents() []*agent.Runtime {
	out := make([]*agent.Runtime, len(d.agents))
	copy(out, d.agents)
	return out
}
