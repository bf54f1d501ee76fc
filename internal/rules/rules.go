// Package rules resolves negotiation policy from loosely-typed scenario and
// user configuration. Resolution never fails: malformed values fall back to
// the documented defaults.
package rules

import (
	"math"
	"strconv"
	"strings"

	"github.com/nidhogg/parley/internal/scenario"
)

// Mode is a behavioral hint injected into agent prompts.
type Mode string

const (
	ModeCooperative Mode = "cooperative"
	ModeCompetitive Mode = "competitive"
	ModeMixed       Mode = "mixed"
)

const (
	DefaultMaxRounds = 10
	DefaultMode      = ModeCompetitive
	DefaultModel     = "claude-sonnet-4-5-20250929"
)

// Rules is the resolved negotiation policy plus per-role model selection.
type Rules struct {
	MaxRounds                 int    `json:"max_rounds"`
	Mode                      Mode   `json:"mode"`
	AllowPartialAgreements    bool   `json:"allow_partial_agreements"`
	RequireUnanimousAgreement bool   `json:"require_unanimous_agreement"`
	AgentsModel               string `json:"agents_model"`
	JudgeModel                string `json:"judge_model"`
	FinalJudgeModel           string `json:"final_judge_model"`
}

// Defaults returns the policy used when nothing is configured.
func Defaults() Rules {
	return Rules{
		MaxRounds:                 DefaultMaxRounds,
		Mode:                      DefaultMode,
		AllowPartialAgreements:    true,
		RequireUnanimousAgreement: true,
		AgentsModel:               DefaultModel,
		JudgeModel:                DefaultModel,
		FinalJudgeModel:           DefaultModel,
	}
}

// Resolve builds Rules from a raw negotiation_rules mapping. Each entry may be
// a bare scalar or a {type, value, values, description} wrapper.
func Resolve(raw map[string]any) Rules {
	r := Defaults()

	if v, ok := Value(raw, "max_rounds"); ok {
		if n, ok := positiveInt(v); ok {
			r.MaxRounds = n
		}
	}
	if v, ok := Value(raw, "mode"); ok {
		r.Mode = ParseMode(scenario.Format(v))
	}
	if v, ok := Value(raw, "allow_partial_agreements"); ok {
		r.AllowPartialAgreements = truthy(v, true)
	}
	if v, ok := Value(raw, "require_unanimous_agreement"); ok {
		r.RequireUnanimousAgreement = truthy(v, true)
	}
	r.AgentsModel = modelName(raw, "agents_model", DefaultModel)
	r.JudgeModel = modelName(raw, "judge_model", DefaultModel)
	r.FinalJudgeModel = modelName(raw, "final_judge_model", r.JudgeModel)
	return r
}

// Normalize re-resolves already typed rules, correcting out-of-range values.
func (r Rules) Normalize() Rules {
	return Resolve(r.Map())
}

// Map renders the rules as a negotiation_rules mapping.
func (r Rules) Map() map[string]any {
	return map[string]any{
		"max_rounds":                  r.MaxRounds,
		"mode":                        string(r.Mode),
		"allow_partial_agreements":    r.AllowPartialAgreements,
		"require_unanimous_agreement": r.RequireUnanimousAgreement,
		"agents_model":                r.AgentsModel,
		"judge_model":                 r.JudgeModel,
		"final_judge_model":           r.FinalJudgeModel,
	}
}

// ParseMode maps free text to a Mode, defaulting to competitive.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCooperative, ModeCompetitive, ModeMixed:
		return m
	}
	return DefaultMode
}

// Value looks key up in raw, unwrapping the {value: ...} wrapper form.
// A missing key or a nil value reports absent.
func Value(raw map[string]any, key string) (any, bool) {
	if raw == nil {
		return nil, false
	}
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	if wrapper, ok := scenario.AsMap(v); ok && wrapper.Has("value") {
		inner, _ := wrapper.Get("value")
		if inner == nil {
			return nil, false
		}
		return inner, true
	}
	return v, true
}

func modelName(raw map[string]any, key, fallback string) string {
	v, ok := Value(raw, key)
	if !ok {
		return fallback
	}
	name := strings.TrimSpace(scenario.Format(v))
	if name == "" {
		return fallback
	}
	return name
}

// positiveInt accepts integral numbers only; booleans and strings are rejected.
func positiveInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, x >= 1
	case int64:
		return int(x), x >= 1
	case float64:
		if x != math.Trunc(x) || x < 1 || x > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	}
	return 0, false
}

func truthy(v any, fallback bool) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return fallback
		}
		return b
	}
	if n, ok := scenario.Number(v); ok {
		return n != 0
	}
	return fallback
}
