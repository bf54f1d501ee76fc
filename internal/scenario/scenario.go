package scenario

import (
	"sort"
	"strings"
)

// Scenario is a negotiation setup authored by a user: who negotiates,
// over what, under which rules, and how the judge scores it.
type Scenario struct {
	Name                 string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description          string         `json:"description,omitempty" yaml:"description,omitempty"`
	Agents               []AgentConfig  `json:"agents" yaml:"agents"`
	NegotiationRules     map[string]any `json:"negotiation_rules,omitempty" yaml:"negotiation_rules,omitempty"`
	Metrics              Map            `json:"metrics" yaml:"metrics"`
	ResourcesToNegotiate Map            `json:"resources_to_negotiate" yaml:"resources_to_negotiate"`
}

// AgentConfig is one negotiating party as declared in the scenario file.
type AgentConfig struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	Role              string   `json:"role,omitempty" yaml:"role,omitempty"`
	PublicDescription string   `json:"public_description,omitempty" yaml:"public_description,omitempty"`
	Objective         string   `json:"objective,omitempty" yaml:"objective,omitempty"`
	Resources         Map      `json:"resources" yaml:"resources"`
	Constraints       []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	PrivateGoals      Map      `json:"private_goals" yaml:"private_goals"`
	UtilityFunction   Map      `json:"utility_function" yaml:"utility_function"`
}

// WithRules returns a shallow copy whose negotiation_rules are replaced.
// Active user rules take precedence over whatever the file declared.
func (s *Scenario) WithRules(rules map[string]any) *Scenario {
	cp := *s
	cp.NegotiationRules = rules
	return &cp
}

// DisplayName falls back to the given file name, then a placeholder.
func (s *Scenario) DisplayName(file string) string {
	if s != nil && strings.TrimSpace(s.Name) != "" {
		return s.Name
	}
	if file != "" {
		return file
	}
	return "Unknown Scenario"
}

// Metric is a typed view over one entry of the scenario metrics mapping.
type Metric struct {
	Name         string
	Type         string
	Values       []string
	UtilityScore string
}

// MetricSpecs returns the declared metrics in order.
func (s *Scenario) MetricSpecs() []Metric {
	var out []Metric
	s.Metrics.Each(func(name string, raw any) {
		m := Metric{Name: name}
		if spec, ok := AsMap(raw); ok {
			if t, ok := spec.Get("type"); ok && t != nil {
				m.Type = strings.ToLower(stringOf(t))
			}
			if vals, ok := spec.Get("values"); ok {
				if list, ok := vals.([]any); ok {
					for _, v := range list {
						if str, ok := v.(string); ok {
							m.Values = append(m.Values, str)
						}
					}
				}
			}
			if u, ok := spec.Get("utility_score"); ok && u != nil {
				m.UtilityScore = stringOf(u)
			}
		}
		out = append(out, m)
	})
	return out
}

// Categorical reports whether the metric takes one label out of a set.
func (m Metric) Categorical() bool {
	switch m.Type {
	case "enum", "multiclass", "categorical":
		return true
	}
	return false
}

// Numeric reports whether the metric is scored as an integer.
func (m Metric) Numeric() bool {
	return m.Type != "boolean" && !m.Categorical()
}

// Labels parses the "label:color" entries into lower-cased labels.
func (m Metric) Labels() []string {
	var out []string
	for _, v := range m.Values {
		label := strings.ToLower(strings.TrimSpace(strings.SplitN(v, ":", 2)[0]))
		if label != "" {
			out = append(out, label)
		}
	}
	return out
}

// Colors maps each label to its declared color, gray when none is given.
func (m Metric) Colors() map[string]string {
	out := make(map[string]string)
	for _, v := range m.Values {
		parts := strings.SplitN(v, ":", 2)
		label := strings.ToLower(strings.TrimSpace(parts[0]))
		if label == "" {
			continue
		}
		color := "gray"
		if len(parts) == 2 {
			color = strings.ToLower(strings.TrimSpace(parts[1]))
		}
		out[label] = color
	}
	return out
}

// UtilitySign is -1 for metrics that count against the utility total.
func (m Metric) UtilitySign() int {
	switch strings.ToLower(strings.TrimSpace(m.UtilityScore)) {
	case "negative", "minus", "-1":
		return -1
	}
	return 1
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
