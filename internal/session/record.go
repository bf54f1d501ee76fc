package session

import (
	"time"

	"github.com/nidhogg/parley/internal/judge"
	"github.com/nidhogg/parley/internal/negotiation"
	"github.com/nidhogg/parley/internal/notify"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/scenario"
)

// metricAliases lists alternative evaluation keys judges use for a metric.
var metricAliases = map[string][]string{
	"fairness":         {"perceived_fairness"},
	"manipulativeness": {"manipulation_risk"},
}

// MetricValue reads a metric from an evaluation, falling back to its aliases.
// A boolean counts as 0 or 1.
func MetricValue(e judge.Evaluation, name string) (int, bool) {
	if v, ok := metricInt(e[name]); ok {
		return v, true
	}
	for _, alias := range metricAliases[name] {
		if v, ok := metricInt(e[alias]); ok {
			return v, true
		}
	}
	return 0, false
}

func metricInt(v any) (int, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return judge.ToInt(v)
}

// UtilityTotal sums the signed numeric metrics of one evaluation. It reports
// false when no numeric metric has a value.
func UtilityTotal(sc *scenario.Scenario, e judge.Evaluation) (int, bool) {
	if sc == nil {
		return 0, false
	}
	total, found := 0, false
	for _, m := range sc.MetricSpecs() {
		raw, _ := sc.Metrics.Get(m.Name)
		if _, ok := scenario.AsMap(raw); !ok || !m.Numeric() {
			continue
		}
		v, ok := MetricValue(e, m.Name)
		if !ok {
			continue
		}
		total += m.UtilitySign() * v
		found = true
	}
	return total, found
}

func (s *Session) record(now time.Time) results.Record {
	d := s.director
	t := s.opts.Temperatures
	rec := results.Record{
		Timestamp:                 now.UTC(),
		RunID:                     s.runID,
		ScenarioFile:              s.file,
		ScenarioName:              s.scenario.DisplayName(s.file),
		NumAgents:                 len(s.scenario.Agents),
		AgentsModel:               s.rules.AgentsModel,
		AgentsTemperature:         t.Agents,
		RoundJudgeModel:           s.rules.JudgeModel,
		RoundJudgeTemperature:     t.RoundJudge,
		FinalJudgeModel:           s.rules.FinalJudgeModel,
		FinalJudgeTemperature:     t.FinalJudge,
		Mode:                      string(s.rules.Mode),
		MaxRounds:                 d.MaxRounds(),
		EffectiveRounds:           d.Round(),
		AllowPartialAgreements:    s.rules.AllowPartialAgreements,
		RequireUnanimousAgreement: s.rules.RequireUnanimousAgreement,
		AgreementStatus:           string(d.Status()),
		ConversationHistory:       d.History(),
	}
	for _, r := range s.rounds {
		if r.UtilityTotal != nil {
			rec.UtilityTotalHistory = append(rec.UtilityTotalHistory, results.UtilityPoint{
				Round:        r.Round,
				UtilityTotal: *r.UtilityTotal,
			})
		}
	}

	var latest judge.Evaluation
	if n := len(s.rounds); n > 0 {
		latest = s.rounds[n-1].Evaluation
	}
	final := s.final
	rec.FinalPersuasion = diagnostic(final, latest, "persuasion")
	rec.FinalDeception = diagnostic(final, latest, "deception")
	rec.FinalConcession = diagnostic(final, latest, "concession")
	rec.FinalCooperation = diagnostic(final, latest, "cooperation")
	for _, e := range []judge.Evaluation{final, latest} {
		if b, ok := e["unanimous"].(bool); ok {
			rec.Unanimous = &b
			break
		}
	}
	rec.FinalSummary = firstNonEmpty(final.String("outcome_explanation"), final.String("summary"))
	rec.InteractionPattern = final.String("interaction_pattern")
	rec.DominantAgent = final.String("dominant_agent")
	return rec
}

// diagnostic prefers the final verdict and falls back to the latest round.
func diagnostic(final, latest judge.Evaluation, key string) *int {
	for _, e := range []judge.Evaluation{final, latest} {
		if v, ok := e.Int(key); ok {
			return &v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func verdictOf(rec results.Record, reason negotiation.Reason) notify.Verdict {
	return notify.Verdict{
		RunID:              rec.RunID,
		Scenario:           rec.ScenarioName,
		Status:             rec.AgreementStatus,
		Reason:             string(reason),
		Rounds:             rec.EffectiveRounds,
		MaxRounds:          rec.MaxRounds,
		Unanimous:          rec.Unanimous,
		Summary:            rec.FinalSummary,
		InteractionPattern: rec.InteractionPattern,
		DominantAgent:      rec.DominantAgent,
	}
}
