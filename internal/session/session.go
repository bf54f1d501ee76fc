// Package session owns negotiation runs on behalf of callers: one director
// per session plus the per-round and final verdict caches a dashboard reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/events"
	"github.com/nidhogg/parley/internal/judge"
	"github.com/nidhogg/parley/internal/metrics"
	"github.com/nidhogg/parley/internal/negotiation"
	"github.com/nidhogg/parley/internal/notify"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/scenario"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrNotConfigured = errors.New("session has no scenario")
)

// ModelSource binds a model name and temperature to a chat model.
// *provider.Router satisfies it.
type ModelSource interface {
	Model(name string, temperature float64) provider.ChatModel
}

// Temperatures per model role.
type Temperatures struct {
	Agents     float64 `json:"agents"`
	RoundJudge float64 `json:"round_judge"`
	FinalJudge float64 `json:"final_judge"`
}

// DefaultTemperatures are used when none are configured.
var DefaultTemperatures = Temperatures{Agents: 0.3, RoundJudge: 0.1, FinalJudge: 0.1}

// Publisher receives run events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// Options are shared by every session of a Manager. Only Source is
// required.
type Options struct {
	Source       ModelSource
	Temperatures Temperatures
	Events       Publisher
	Metrics      *metrics.Collector
	Results      results.Store
	Notifier     notify.Notifier
	Logger       *zap.Logger
}

// RoundEvaluation is one executed round and its judge verdict.
type RoundEvaluation struct {
	Round        int                `json:"round"`
	Turns        []negotiation.Turn `json:"turns"`
	Evaluation   judge.Evaluation   `json:"evaluation"`
	UtilityTotal *int               `json:"utility_total"`
}

// FinalMeta identifies the terminal state a final verdict was produced for.
type FinalMeta struct {
	ScenarioFile      string             `json:"scenario_file"`
	Round             int                `json:"round"`
	TerminationReason negotiation.Reason `json:"termination_reason"`
	HistoryLen        int                `json:"history_len"`
}

// Session is one negotiation run. All methods are safe for concurrent use;
// operations on one session are serialized.
type Session struct {
	id        string
	createdAt time.Time
	opts      Options
	logger    *zap.Logger

	mu        sync.Mutex
	runID     string
	file      string
	scenario  *scenario.Scenario
	rules     rules.Rules
	signature string
	director  *negotiation.Director

	rounds     []RoundEvaluation
	final      judge.Evaluation
	finalMeta  *FinalMeta
	terminated bool
}

// New creates an unconfigured session.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Temperatures == (Temperatures{}) {
		opts.Temperatures = DefaultTemperatures
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		opts:      opts,
		logger:    opts.Logger.With(zap.String("session", id)),
		runID:     uuid.New().String(),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Configure binds a scenario and rules. The active rules replace the
// scenario's own negotiation_rules. The director is rebuilt only when the
// (file, effective scenario) signature changes; rebuilding a previously
// configured session clears its caches and starts a new run.
func (s *Session) Configure(file string, sc *scenario.Scenario, r rules.Rules) error {
	if sc == nil {
		return errors.New("scenario is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r = r.Normalize()
	effective := sc.WithRules(r.Map())
	sig, err := scenario.Signature(file, effective)
	if err != nil {
		return err
	}
	if s.director != nil && s.file == file && s.signature == sig {
		return nil
	}

	temperature := s.opts.Temperatures.Agents
	factory := func(agent.Spec) provider.ChatModel {
		return s.opts.Source.Model(r.AgentsModel, temperature)
	}
	d, err := negotiation.New(effective, factory, s.logger)
	if err != nil {
		return fmt.Errorf("configure %s: %w", effective.DisplayName(file), err)
	}

	hadDirector := s.director != nil
	s.director = d
	s.file = file
	s.scenario = effective
	s.rules = d.Rules()
	s.signature = sig
	if hadDirector {
		s.clear()
	}
	s.logger.Info("session configured",
		zap.String("scenario", effective.DisplayName(file)),
		zap.String("mode", string(s.rules.Mode)),
		zap.Int("max_rounds", s.rules.MaxRounds),
		zap.Bool("rebuilt", hadDirector))
	return nil
}

func (s *Session) clear() {
	s.rounds = nil
	s.final = nil
	s.finalMeta = nil
	s.terminated = false
	s.runID = uuid.New().String()
}

// Advance runs one round, has the round judge evaluate it and applies the
// verdict. Once the director terminates, the final judge runs once for the
// terminal state and the run is persisted and announced. It returns nil and
// no error when no round may run.
func (s *Session) Advance(ctx context.Context) (*RoundEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance(ctx)
}

// AdvanceUntilEnd advances while the director can advance and returns the
// number of rounds executed.
func (s *Session) AdvanceUntilEnd(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return 0, ErrNotConfigured
	}

	executed := 0
	for s.director.CanAdvance() {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		item, err := s.advance(ctx)
		if err != nil {
			return executed, err
		}
		if item == nil {
			break
		}
		executed++
	}
	return executed, s.finalize(ctx)
}

func (s *Session) advance(ctx context.Context) (*RoundEvaluation, error) {
	d := s.director
	if d == nil {
		return nil, ErrNotConfigured
	}
	if !d.CanAdvance() {
		return nil, s.finalize(ctx)
	}

	input := negotiation.OpeningMessage
	if h := d.History(); len(h) > 0 {
		input = h[len(h)-1].Content
	}
	turns, err := d.Step(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordRound(s.scenario.DisplayName(s.file), string(s.rules.Mode))
	}
	s.publish(ctx, events.TypeRound, map[string]any{"turns": turns})

	judgeModel := s.opts.Source.Model(s.rules.JudgeModel, s.opts.Temperatures.RoundJudge)
	eval, err := d.Evaluate(ctx, judgeModel, judge.ScopeRound)
	if err != nil {
		s.logger.Warn("round evaluation failed", zap.Int("round", d.Round()), zap.Error(err))
		return nil, err
	}
	d.RegisterEvaluation(eval)
	s.recordEvaluation(judge.ScopeRound, eval)

	item := RoundEvaluation{
		Round:      d.Round(),
		Turns:      turns,
		Evaluation: eval,
	}
	if total, ok := UtilityTotal(s.scenario, eval); ok {
		item.UtilityTotal = &total
	}
	s.rounds = append(s.rounds, item)
	s.publish(ctx, events.TypeEvaluation, item)

	if err := s.finalize(ctx); err != nil {
		return &item, err
	}
	return &item, nil
}

func (s *Session) recordEvaluation(scope judge.Scope, eval judge.Evaluation) {
	if s.opts.Metrics == nil {
		return
	}
	st, _ := judge.ExtractStatus(eval)
	s.opts.Metrics.RecordEvaluation(string(scope), string(st), eval.IsError())
}

// finalize runs the final judge once per distinct terminal state.
func (s *Session) finalize(ctx context.Context) error {
	d := s.director
	if d == nil || !d.IsTerminated() {
		return nil
	}
	if !s.terminated {
		s.terminated = true
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordTermination(string(d.TerminationReason()))
		}
		s.publish(ctx, events.TypeTerminated, map[string]any{
			"reason": d.TerminationReason(),
			"status": d.Status(),
		})
	}

	meta := FinalMeta{
		ScenarioFile:      s.file,
		Round:             d.Round(),
		TerminationReason: d.TerminationReason(),
		HistoryLen:        len(d.History()),
	}
	if s.finalMeta != nil && *s.finalMeta == meta {
		return nil
	}

	judgeModel := s.opts.Source.Model(s.rules.FinalJudgeModel, s.opts.Temperatures.FinalJudge)
	eval, err := d.Evaluate(ctx, judgeModel, judge.ScopeFinal)
	if err != nil {
		s.logger.Warn("final evaluation failed", zap.Error(err))
		return err
	}
	s.final = eval
	s.finalMeta = &meta
	s.recordEvaluation(judge.ScopeFinal, eval)
	s.publish(ctx, events.TypeVerdict, eval)

	rec := s.record(time.Now())
	if _, err := s.store(ctx, rec); err != nil {
		s.logger.Error("persist run failed", zap.String("run", rec.RunID), zap.Error(err))
	}
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Notify(ctx, verdictOf(rec, d.TerminationReason())); err != nil {
			s.logger.Warn("verdict notification failed", zap.Error(err))
		}
	}
	return nil
}

// Reset clears the transcript, termination state and caches and starts a
// new run with the same scenario and rules.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return ErrNotConfigured
	}
	s.director.Reset()
	s.clear()
	s.publish(ctx, events.TypeReset, nil)
	return nil
}

// Record builds the persisted record of the run as it stands.
func (s *Session) Record(now time.Time) (results.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return results.Record{}, ErrNotConfigured
	}
	return s.record(now), nil
}

// Persist stores the run as it stands, for runs stopped before terminating.
// Without a results store it only returns the record.
func (s *Session) Persist(ctx context.Context) (results.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return results.Record{}, ErrNotConfigured
	}
	return s.store(ctx, s.record(time.Now()))
}

func (s *Session) store(ctx context.Context, rec results.Record) (results.Record, error) {
	if s.opts.Results == nil {
		return rec, nil
	}
	if err := s.opts.Results.Append(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist run %s: %w", rec.RunID, err)
	}
	s.publish(ctx, events.TypePersisted, map[string]string{"run_id": rec.RunID})
	s.logger.Info("run persisted",
		zap.String("run", rec.RunID),
		zap.String("status", rec.AgreementStatus),
		zap.Int("rounds", rec.EffectiveRounds))
	return rec, nil
}

func (s *Session) publish(ctx context.Context, typ string, payload any) {
	if s.opts.Events == nil {
		return
	}
	round := 0
	if s.director != nil {
		round = s.director.Round()
	}
	ev, err := events.NewEvent(s.runID, typ, round, payload)
	if err == nil {
		err = s.opts.Events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("publish event failed", zap.String("type", typ), zap.Error(err))
	}
}

// JudgePrompt renders the judge prompt for the current transcript.
func (s *Session) JudgePrompt(scope judge.Scope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return "", ErrNotConfigured
	}
	return s.director.BuildJudgePrompt(scope), nil
}

// Transcript returns the history and its numbered text rendering.
func (s *Session) Transcript() ([]negotiation.Turn, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.director == nil {
		return nil, "", ErrNotConfigured
	}
	return s.director.History(), s.director.HistoryAsText(), nil
}

// Final returns the final verdict and the state it was produced for, or
// false before the run terminated.
func (s *Session) Final() (judge.Evaluation, FinalMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil || s.finalMeta == nil || s.finalMeta.ScenarioFile != s.file {
		return nil, FinalMeta{}, false
	}
	return s.final, *s.finalMeta, true
}

// State is a point-in-time view of a session.
type State struct {
	ID                string             `json:"id"`
	RunID             string             `json:"run_id"`
	CreatedAt         time.Time          `json:"created_at"`
	Configured        bool               `json:"configured"`
	ScenarioFile      string             `json:"scenario_file,omitempty"`
	ScenarioName      string             `json:"scenario_name,omitempty"`
	Rules             rules.Rules        `json:"rules"`
	Temperatures      Temperatures       `json:"temperatures"`
	Round             int                `json:"round"`
	MaxRounds         int                `json:"max_rounds"`
	CanAdvance        bool               `json:"can_advance"`
	Terminated        bool               `json:"terminated"`
	TerminationReason negotiation.Reason `json:"termination_reason,omitempty"`
	Status            judge.Status       `json:"status,omitempty"`
	Rounds            []RoundEvaluation  `json:"rounds"`
	Final             judge.Evaluation   `json:"final_evaluation,omitempty"`
}

// State snapshots the session without mutating it.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:           s.id,
		RunID:        s.runID,
		CreatedAt:    s.createdAt,
		Temperatures: s.opts.Temperatures,
		Rounds:       append([]RoundEvaluation(nil), s.rounds...),
		Final:        s.final,
	}
	if s.director == nil {
		return st
	}
	d := s.director
	st.Configured = true
	st.ScenarioFile = s.file
	st.ScenarioName = s.scenario.DisplayName(s.file)
	st.Rules = s.rules
	st.Round = d.Round()
	st.MaxRounds = d.MaxRounds()
	st.Terminated = d.IsTerminated()
	st.CanAdvance = !st.Terminated && st.Round < st.MaxRounds
	st.TerminationReason = d.TerminationReason()
	st.Status = d.Status()
	return st
}
