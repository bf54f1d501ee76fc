// Package results defines the persisted shape of a negotiation run and the
// cross-run analytics computed over it.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/parley/internal/negotiation"
)

// Columns is the fixed column order of the global results table.
var Columns = []string{
	"timestamp_utc",
	"run_id",
	"scenario_file",
	"scenario_name",
	"num_agents",
	"agents_model",
	"agents_temperature",
	"round_judge_model",
	"round_judge_temperature",
	"final_judge_model",
	"final_judge_temperature",
	"mode",
	"max_rounds",
	"effective_rounds",
	"allow_partial_agreements",
	"require_unanimous_agreement",
	"agreement_status",
	"conversation_history",
	"utility_total_history",
	"unanimous",
	"final_persuasion",
	"final_deception",
	"final_concession",
	"final_cooperation",
	"final_summary",
	"interaction_pattern",
	"dominant_agent",
}

// UtilityPoint is the utility total after one round.
type UtilityPoint struct {
	Round        int `json:"round"`
	UtilityTotal int `json:"utility_total"`
}

// Record is one completed or abandoned run.
type Record struct {
	Timestamp                 time.Time          `json:"timestamp_utc"`
	RunID                     string             `json:"run_id"`
	ScenarioFile              string             `json:"scenario_file"`
	ScenarioName              string             `json:"scenario_name"`
	NumAgents                 int                `json:"num_agents"`
	AgentsModel               string             `json:"agents_model"`
	AgentsTemperature         float64            `json:"agents_temperature"`
	RoundJudgeModel           string             `json:"round_judge_model"`
	RoundJudgeTemperature     float64            `json:"round_judge_temperature"`
	FinalJudgeModel           string             `json:"final_judge_model"`
	FinalJudgeTemperature     float64            `json:"final_judge_temperature"`
	Mode                      string             `json:"mode"`
	MaxRounds                 int                `json:"max_rounds"`
	EffectiveRounds           int                `json:"effective_rounds"`
	AllowPartialAgreements    bool               `json:"allow_partial_agreements"`
	RequireUnanimousAgreement bool               `json:"require_unanimous_agreement"`
	AgreementStatus           string             `json:"agreement_status"`
	ConversationHistory       []negotiation.Turn `json:"conversation_history"`
	UtilityTotalHistory       []UtilityPoint     `json:"utility_total_history"`
	Unanimous                 *bool              `json:"unanimous"`
	FinalPersuasion           *int               `json:"final_persuasion"`
	FinalDeception            *int               `json:"final_deception"`
	FinalConcession           *int               `json:"final_concession"`
	FinalCooperation          *int               `json:"final_cooperation"`
	FinalSummary              string             `json:"final_summary"`
	InteractionPattern        string             `json:"interaction_pattern"`
	DominantAgent             string             `json:"dominant_agent"`
}

// Store persists run records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// Row renders the record as CSV cells in Columns order. Absent optional
// values render empty.
func (r Record) Row() []string {
	conversation, _ := json.Marshal(nonNil(r.ConversationHistory))
	utility, _ := json.Marshal(nonNil(r.UtilityTotalHistory))
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.RunID,
		r.ScenarioFile,
		r.ScenarioName,
		strconv.Itoa(r.NumAgents),
		r.AgentsModel,
		formatFloat(r.AgentsTemperature),
		r.RoundJudgeModel,
		formatFloat(r.RoundJudgeTemperature),
		r.FinalJudgeModel,
		formatFloat(r.FinalJudgeTemperature),
		r.Mode,
		strconv.Itoa(r.MaxRounds),
		strconv.Itoa(r.EffectiveRounds),
		strconv.FormatBool(r.AllowPartialAgreements),
		strconv.FormatBool(r.RequireUnanimousAgreement),
		r.AgreementStatus,
		string(conversation),
		string(utility),
		formatOptBool(r.Unanimous),
		formatOptInt(r.FinalPersuasion),
		formatOptInt(r.FinalDeception),
		formatOptInt(r.FinalConcession),
		formatOptInt(r.FinalCooperation),
		r.FinalSummary,
		r.InteractionPattern,
		r.DominantAgent,
	}
}

// ParseRow builds a record from named CSV cells. Rows written by older
// versions may miss columns or hold loosely formatted values; anything
// unparseable is left at its zero value.
func ParseRow(row map[string]string) Record {
	get := func(k string) string { return strings.TrimSpace(row[k]) }
	rec := Record{
		RunID:                     get("run_id"),
		ScenarioFile:              get("scenario_file"),
		ScenarioName:              get("scenario_name"),
		NumAgents:                 parseInt(get("num_agents")),
		AgentsModel:               get("agents_model"),
		AgentsTemperature:         parseFloat(get("agents_temperature")),
		RoundJudgeModel:           get("round_judge_model"),
		RoundJudgeTemperature:     parseFloat(get("round_judge_temperature")),
		FinalJudgeModel:           get("final_judge_model"),
		FinalJudgeTemperature:     parseFloat(get("final_judge_temperature")),
		Mode:                      get("mode"),
		MaxRounds:                 parseInt(get("max_rounds")),
		EffectiveRounds:           parseInt(get("effective_rounds")),
		AllowPartialAgreements:    parseBool(get("allow_partial_agreements")),
		RequireUnanimousAgreement: parseBool(get("require_unanimous_agreement")),
		AgreementStatus:           get("agreement_status"),
		ConversationHistory:       parseConversation(get("conversation_history")),
		UtilityTotalHistory:       ParseUtilityHistory(get("utility_total_history")),
		Unanimous:                 parseOptBool(get("unanimous")),
		FinalPersuasion:           parseOptInt(get("final_persuasion")),
		FinalDeception:            parseOptInt(get("final_deception")),
		FinalConcession:           parseOptInt(get("final_concession")),
		FinalCooperation:          parseOptInt(get("final_cooperation")),
		FinalSummary:              row["final_summary"],
		InteractionPattern:        get("interaction_pattern"),
		DominantAgent:             get("dominant_agent"),
	}
	if ts, err := time.Parse(time.RFC3339, get("timestamp_utc")); err == nil {
		rec.Timestamp = ts
	}
	return rec
}

// ParseUtilityHistory accepts a JSON list of {round, utility_total}
// objects or of bare totals. Items without a usable total are skipped and a
// missing round falls back to the item's 1-based position.
func ParseUtilityHistory(s string) []UtilityPoint {
	if s == "" {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	var out []UtilityPoint
	for i, item := range items {
		round, total := i+1, 0
		var ok bool
		if obj, isObj := item.(map[string]any); isObj {
			if r, rok := looseInt(obj["round"]); rok {
				round = r
			}
			total, ok = looseInt(obj["utility_total"])
		} else {
			total, ok = looseInt(item)
		}
		if !ok {
			continue
		}
		out = append(out, UtilityPoint{Round: round, UtilityTotal: total})
	}
	return out
}

func parseConversation(s string) []negotiation.Turn {
	if s == "" {
		return nil
	}
	var turns []negotiation.Turn
	if err := json.Unmarshal([]byte(s), &turns); err != nil {
		return nil
	}
	return turns
}

func looseInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatOptBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func formatOptInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func parseOptBool(s string) *bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}

func parseOptInt(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// Tee appends to every store and lists from the first.
type Tee []Store

func (t Tee) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) List(ctx context.Context) ([]Record, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return t[0].List(ctx)
}
