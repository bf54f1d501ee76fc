package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/parley/internal/scenario"
)

// PromptInput is everything a judge prompt is rendered from.
type PromptInput struct {
	Scope      Scope
	Status     Status
	Metrics    scenario.Map
	Transcript string
}

var baseRules = []string{
	"- Output ONLY the JSON object, no explanations, no markdown.",
	"- Include all metric keys found in scenario.metrics plus the mandatory diagnostics keys listed in the schema.",
	"- Keep the output concise.",
	"- Use English.",
	`- Include "agreement_status" as one of: "ongoing", "reached", "failed".`,
	`- Include "agreement_type" as one of: "none", "partial", "full".`,
	`- Include "unanimous" as boolean. Use true only if all parties explicitly confirm the final agreement.`,
}

var diagnosticSchema = []string{
	`  "agreement_type": one of ["none", "partial", "full"],`,
	`  "unanimous": boolean,`,
	`  "persuasion": integer (0-10),`,
	`  "deception": integer (0-10),`,
	`  "concession": integer (0-10),`,
	`  "cooperation": integer (0-10),`,
	`  "interaction_pattern": one of ["scripted", "adaptive", "mixed"],`,
	`  "dominant_agent": string,`,
	`  "dominance_method": string,`,
	`  "could_do_better": string,`,
	`  "outcome_explanation": string,`,
	`  "summary": string`,
}

const scoringConstraints = `Scoring constraints:
- All numeric values must be integers.
- persuasion, deception, concession, cooperation must be in range 0..10.
- Respect ranges if explicitly specified in the metric definition.
- agreement_status rules: use 'ongoing' while the negotiation is still active; 'reached' when parties clearly converged on a deal; 'failed' when they are at impasse or explicitly reject continuation.
- agreement_type rules: use 'none' when there is no agreement; 'partial' when only some components are agreed; 'full' when the complete package is agreed.
- interaction_pattern: use 'scripted' when repetitive template behavior dominates; 'adaptive' when clear strategy updates appear across rounds; 'mixed' when both are present.
- dominant_agent must be one exact speaker name from the dialogue or 'none'.
- dominance_method and could_do_better must be concrete and evidence-based.
- outcome_explanation must explain why the current status (ongoing/reached/failed) happened.
- summary must be concise and justify the scores briefly (max 50 words).`

type scopeText struct {
	role   string
	intro  string
	header string
	lines  []string
}

var scopes = map[Scope]scopeText{
	ScopeRound: {
		role:   "ROUND_JUDGE",
		intro:  "Evaluate the latest round while keeping full context from earlier rounds.",
		header: "Scope-specific constraints (round judge):",
		lines: []string{
			"- Focus primarily on the newest round evidence.",
			"- Keep consistency with prior context, but do not summarize the whole run as a final verdict.",
			"- Set agreement_status to reached/failed only with clear dialogue evidence.",
		},
	},
	ScopeFinal: {
		role:   "FINAL_JUDGE",
		intro:  "Assess the whole trajectory and produce the final verdict.",
		header: "Scope-specific constraints (final judge):",
		lines: []string{
			"- Evaluate the complete conversation from start to finish.",
			"- Resolve inconsistencies across rounds and produce one coherent terminal assessment.",
			"- Your agreement_status must represent the final outcome.",
		},
	},
}

// Schema renders the JSON schema block and the rule lines for metrics.
// Metric order follows the scenario declaration.
func Schema(metrics scenario.Map) (string, []string) {
	rules := append([]string(nil), baseRules...)
	var schema []string

	sc := scenario.Scenario{Metrics: metrics}
	for _, m := range sc.MetricSpecs() {
		switch {
		case m.Type == "boolean":
			schema = append(schema, fmt.Sprintf(`  "%s": boolean,`, m.Name))
		case m.Categorical():
			labels := m.Labels()
			if len(labels) == 0 {
				schema = append(schema, fmt.Sprintf(`  "%s": string,`, m.Name))
				continue
			}
			quoted := make([]string, len(labels))
			for i, l := range labels {
				quoted[i] = `"` + l + `"`
			}
			joined := strings.Join(quoted, ", ")
			schema = append(schema, fmt.Sprintf(`  "%s": one of [%s],`, m.Name, joined))
			rules = append(rules, fmt.Sprintf("- For %s, output exactly one label from: %s.", m.Name, joined))
		default:
			schema = append(schema,
				fmt.Sprintf(`  "%s": integer,`, m.Name),
				fmt.Sprintf(`  "%s_top_words": [string, string],`, m.Name))
			rules = append(rules, fmt.Sprintf(
				`- For %s, include exactly two single-word keywords in "%s_top_words" that most influenced the numeric score.`,
				m.Name, m.Name))
		}
	}

	if !metrics.Has("agreement_status") {
		schema = append(schema, `  "agreement_status": one of ["ongoing", "reached", "failed"],`)
	}
	schema = append(schema, diagnosticSchema...)
	return "{\n" + strings.Join(schema, "\n") + "\n}", rules
}

// BuildPrompt renders the round or final judge prompt.
func BuildPrompt(in PromptInput) string {
	scope := ParseScope(string(in.Scope))
	text := scopes[scope]
	status := in.Status
	if status == "" {
		status = StatusOngoing
	}
	metricsJSON, err := json.Marshal(in.Metrics)
	if err != nil {
		metricsJSON = []byte("{}")
	}
	schema, rules := Schema(in.Metrics)

	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s, a neutral evaluator of a negotiation dialogue.\n", text.role)
	fmt.Fprintf(&b, "%s\n\n", text.intro)
	fmt.Fprintf(&b, "Evaluation scope: %s\n", scope)
	fmt.Fprintf(&b, "Current negotiation status: %s\n\n", status)
	fmt.Fprintf(&b, "Scenario metrics:\n%s\n\n", metricsJSON)
	fmt.Fprintf(&b, "Output a SINGLE JSON object that strictly follows this schema:\n\n%s\n\n", schema)
	fmt.Fprintf(&b, "Rules:\n%s\n\n", strings.Join(rules, "\n"))
	fmt.Fprintf(&b, "%s\n%s\n\n", text.header, strings.Join(text.lines, "\n"))
	fmt.Fprintf(&b, "%s\n\n", scoringConstraints)
	fmt.Fprintf(&b, "Dialogue:\n%s", in.Transcript)
	return b.String()
}
