package results

import (
	"sort"
	"strings"
)

// Outcome classes.
const (
	OutcomeReached = "reached"
	OutcomeFailed  = "failed"
	OutcomeStalled = "stalled"
	OutcomeOther   = "other"
)

// NormalizeStatus maps a stored agreement status to reached, failed,
// ongoing or unknown, using the label before any colon.
func NormalizeStatus(s string) string {
	label, _, _ := strings.Cut(s, ":")
	switch label = strings.ToLower(strings.TrimSpace(label)); label {
	case "reached", "failed", "ongoing":
		return label
	}
	return "unknown"
}

// Outcome classifies a run. An ongoing run that used up its rounds stalled.
func Outcome(rec Record) string {
	switch status := NormalizeStatus(rec.AgreementStatus); status {
	case OutcomeReached, OutcomeFailed:
		return status
	case "ongoing":
		if rec.MaxRounds > 0 && rec.EffectiveRounds >= rec.MaxRounds {
			return OutcomeStalled
		}
	}
	return OutcomeOther
}

// Average is a mean over a number of runs.
type Average struct {
	Value float64 `json:"value"`
	Runs  int     `json:"runs"`
}

// TrajectoryPoint is the mean utility total at one round.
type TrajectoryPoint struct {
	Round   int     `json:"round"`
	Utility float64 `json:"utility"`
}

// ScenarioSummary aggregates classified runs of one scenario. Maps are
// keyed by outcome class.
type ScenarioSummary struct {
	Name         string                       `json:"name"`
	Trajectory   map[string][]TrajectoryPoint `json:"trajectory"`
	FinalUtility map[string]Average           `json:"final_utility"`
	Rounds       map[string]Average           `json:"rounds"`
}

// Summary is the cross-run view over stored results.
type Summary struct {
	Runs      int               `json:"runs"`
	Reached   int               `json:"reached"`
	Failed    int               `json:"failed"`
	Stalled   int               `json:"stalled"`
	Scenarios []ScenarioSummary `json:"scenarios"`
}

func classified(outcome string) bool {
	return outcome == OutcomeReached || outcome == OutcomeFailed || outcome == OutcomeStalled
}

// Summarize computes run counts and per-scenario averages. A non-empty
// scenario name restricts the summary to that scenario.
func Summarize(records []Record, scenarioName string) Summary {
	var s Summary
	type sums struct {
		trajectory map[string]map[int][]int
		final      map[string][]int
		rounds     map[string][]int
	}
	byScenario := map[string]*sums{}

	for _, rec := range records {
		name := strings.TrimSpace(rec.ScenarioName)
		if scenarioName != "" && name != scenarioName {
			continue
		}
		if name == "" {
			name = "Unknown"
		}
		s.Runs++
		switch NormalizeStatus(rec.AgreementStatus) {
		case OutcomeReached:
			s.Reached++
		case OutcomeFailed:
			s.Failed++
		}
		outcome := Outcome(rec)
		if outcome == OutcomeStalled {
			s.Stalled++
		}
		if !classified(outcome) {
			continue
		}

		agg, ok := byScenario[name]
		if !ok {
			agg = &sums{
				trajectory: map[string]map[int][]int{},
				final:      map[string][]int{},
				rounds:     map[string][]int{},
			}
			byScenario[name] = agg
		}
		agg.rounds[outcome] = append(agg.rounds[outcome], rec.EffectiveRounds)

		points := append([]UtilityPoint(nil), rec.UtilityTotalHistory...)
		if len(points) == 0 {
			continue
		}
		sort.SliceStable(points, func(a, b int) bool { return points[a].Round < points[b].Round })
		if agg.trajectory[outcome] == nil {
			agg.trajectory[outcome] = map[int][]int{}
		}
		for _, p := range points {
			agg.trajectory[outcome][p.Round] = append(agg.trajectory[outcome][p.Round], p.UtilityTotal)
		}
		agg.final[outcome] = append(agg.final[outcome], points[len(points)-1].UtilityTotal)
	}

	names := make([]string, 0, len(byScenario))
	for name := range byScenario {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agg := byScenario[name]
		ss := ScenarioSummary{
			Name:         name,
			Trajectory:   map[string][]TrajectoryPoint{},
			FinalUtility: map[string]Average{},
			Rounds:       map[string]Average{},
		}
		for outcome, byRound := range agg.trajectory {
			rounds := make([]int, 0, len(byRound))
			for r := range byRound {
				rounds = append(rounds, r)
			}
			sort.Ints(rounds)
			for _, r := range rounds {
				ss.Trajectory[outcome] = append(ss.Trajectory[outcome], TrajectoryPoint{Round: r, Utility: mean(byRound[r])})
			}
		}
		for outcome, vals := range agg.final {
			ss.FinalUtility[outcome] = Average{Value: mean(vals), Runs: len(vals)}
		}
		for outcome, vals := range agg.rounds {
			ss.Rounds[outcome] = Average{Value: mean(vals), Runs: len(vals)}
		}
		s.Scenarios = append(s.Scenarios, ss)
	}
	return s
}

func mean(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	total := 0
	for _, v := range vals {
		total += v
	}
	return float64(total) / float64(len(vals))
}
