package agent

import (
	"github.com/nidhogg/parley/internal/scenario"
)

// Spec is one negotiating party's immutable configuration.
type Spec struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Role              string       `json:"role"`
	PublicDescription string       `json:"public_description"`
	Objective         string       `json:"objective"`
	Resources         scenario.Map `json:"resources"`
	Constraints       []string     `json:"constraints"`
	PrivateGoals      scenario.Map `json:"private_goals"`
	UtilityFunction   scenario.Map `json:"utility_function"`
}

// SpecFrom copies an agent declaration out of a scenario. Constraints are
// copied so later edits to the scenario cannot reach the spec.
func SpecFrom(cfg scenario.AgentConfig) Spec {
	return Spec{
		ID:                cfg.ID,
		Name:              cfg.Name,
		Role:              cfg.Role,
		PublicDescription: cfg.PublicDescription,
		Objective:         cfg.Objective,
		Resources:         cfg.Resources,
		Constraints:       append([]string(nil), cfg.Constraints...),
		PrivateGoals:      cfg.PrivateGoals,
		UtilityFunction:   cfg.UtilityFunction,
	}
}
