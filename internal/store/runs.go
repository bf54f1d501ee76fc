package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/parley/internal/results"
)

const runColumns = `
	run_id, timestamp_utc, scenario_file, scenario_name, num_agents,
	agents_model, agents_temperature, round_judge_model, round_judge_temperature,
	final_judge_model, final_judge_temperature, mode, max_rounds, effective_rounds,
	allow_partial_agreements, require_unanimous_agreement, agreement_status,
	conversation_history, utility_total_history, unanimous,
	final_persuasion, final_deception, final_concession, final_cooperation,
	final_summary, interaction_pattern, dominant_agent`

// Append stores a run record. Re-persisting the same run ID replaces it.
func (s *Store) Append(ctx context.Context, rec results.Record) error {
	conversation, err := json.Marshal(rec.ConversationHistory)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	utility, err := json.Marshal(rec.UtilityTotalHistory)
	if err != nil {
		return fmt.Errorf("marshal utility history: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (run_id) DO UPDATE SET
			timestamp_utc = EXCLUDED.timestamp_utc,
			effective_rounds = EXCLUDED.effective_rounds,
			agreement_status = EXCLUDED.agreement_status,
			conversation_history = EXCLUDED.conversation_history,
			utility_total_history = EXCLUDED.utility_total_history,
			unanimous = EXCLUDED.unanimous,
			final_persuasion = EXCLUDED.final_persuasion,
			final_deception = EXCLUDED.final_deception,
			final_concession = EXCLUDED.final_concession,
			final_cooperation = EXCLUDED.final_cooperation,
			final_summary = EXCLUDED.final_summary,
			interaction_pattern = EXCLUDED.interaction_pattern,
			dominant_agent = EXCLUDED.dominant_agent`,
		rec.RunID, rec.Timestamp.UTC(), rec.ScenarioFile, rec.ScenarioName, rec.NumAgents,
		rec.AgentsModel, rec.AgentsTemperature, rec.RoundJudgeModel, rec.RoundJudgeTemperature,
		rec.FinalJudgeModel, rec.FinalJudgeTemperature, rec.Mode, rec.MaxRounds, rec.EffectiveRounds,
		rec.AllowPartialAgreements, rec.RequireUnanimousAgreement, rec.AgreementStatus,
		conversation, utility, rec.Unanimous,
		rec.FinalPersuasion, rec.FinalDeception, rec.FinalConcession, rec.FinalCooperation,
		rec.FinalSummary, rec.InteractionPattern, rec.DominantAgent,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns all runs, oldest first.
func (s *Store) List(ctx context.Context) ([]results.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY timestamp_utc ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []results.Record
	for rows.Next() {
		var rec results.Record
		var conversation, utility []byte
		if err := rows.Scan(
			&rec.RunID, &rec.Timestamp, &rec.ScenarioFile, &rec.ScenarioName, &rec.NumAgents,
			&rec.AgentsModel, &rec.AgentsTemperature, &rec.RoundJudgeModel, &rec.RoundJudgeTemperature,
			&rec.FinalJudgeModel, &rec.FinalJudgeTemperature, &rec.Mode, &rec.MaxRounds, &rec.EffectiveRounds,
			&rec.AllowPartialAgreements, &rec.RequireUnanimousAgreement, &rec.AgreementStatus,
			&conversation, &utility, &rec.Unanimous,
			&rec.FinalPersuasion, &rec.FinalDeception, &rec.FinalConcession, &rec.FinalCooperation,
			&rec.FinalSummary, &rec.InteractionPattern, &rec.DominantAgent,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if len(conversation) > 0 {
			_ = json.Unmarshal(conversation, &rec.ConversationHistory)
		}
		if len(utility) > 0 {
			_ = json.Unmarshal(utility, &rec.UtilityTotalHistory)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
