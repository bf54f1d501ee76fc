// Package prompt renders the natural-language system prompt each
// negotiating agent receives.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/scenario"
)

// Terminal markers agents are told to emit. The director's run loop stops
// on either substring.
const (
	MarkerAgreement = "AGREEMENT_REACHED"
	MarkerImpasse   = "IMPASSE"
)

const banner = "===================================================="

var modePolicy = map[rules.Mode][]string{
	rules.ModeCooperative: {
		"- Prioritize mutually beneficial agreements over maximizing only your side.",
		"- Make constructive concessions when they unlock progress.",
	},
	rules.ModeCompetitive: {
		"- Prioritize your own strategic outcomes while still seeking a valid agreement.",
		"- Make limited concessions and protect your minimum acceptable outcomes.",
	},
	rules.ModeMixed: {
		"- Balance your own interests and joint outcomes.",
		"- Start collaborative, then become firmer if reciprocal progress is absent.",
	},
}

type goalFormatter struct {
	key    string
	format func(v any, sc *scenario.Scenario) string
}

var goalFormatters = []goalFormatter{
	{"min_equity_percent", func(v any, _ *scenario.Scenario) string { return "Minimum acceptable equity: " + scenario.Format(v) + "%" }},
	{"preferred_equity_percent", func(v any, _ *scenario.Scenario) string { return "Preferred equity: " + scenario.Format(v) + "%" }},
	{"max_equity_percent", func(v any, _ *scenario.Scenario) string { return "Maximum equity target: " + scenario.Format(v) + "%" }},
	{"must_control_areas", func(v any, _ *scenario.Scenario) string { return "Must control areas: " + scenario.Format(v) }},
	{"preferred_control_areas", func(v any, _ *scenario.Scenario) string { return "Preferred control areas: " + scenario.Format(v) }},
	{"budget_needed", func(v any, sc *scenario.Scenario) string { return "Budget needed: " + Currency(v, sc) }},
	{"min_budget", func(v any, sc *scenario.Scenario) string { return "Minimum budget: " + Currency(v, sc) }},
	{"max_budget", func(v any, sc *scenario.Scenario) string { return "Maximum budget: " + Currency(v, sc) }},
	{"investment_to_protect", func(v any, sc *scenario.Scenario) string { return "Investment to protect: " + Currency(v, sc) }},
}

// SystemPrompt renders the full system prompt for one agent. It satisfies
// agent.PromptBuilder.
func SystemPrompt(spec agent.Spec, sc *scenario.Scenario) string {
	if sc == nil {
		sc = &scenario.Scenario{}
	}
	var b strings.Builder

	name := orDefault(spec.Name, "Agent")
	role := orDefault(spec.Role, "Negotiator")
	fmt.Fprintf(&b, "You are %s, the %s.\n\n", name, role)
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(spec.PublicDescription))
	b.WriteString("--- YOUR PRIVATE OBJECTIVE (do not reveal it completely to others) ---\n")
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(spec.Objective))

	writeResources(&b, spec.Resources)
	writeConstraints(&b, spec.Constraints)
	writeGoals(&b, spec.PrivateGoals, sc)

	description := strings.TrimSpace(sc.Description)
	if description == "" {
		description = "No scenario description provided."
	}
	fmt.Fprintf(&b, "\n\n%s\nNEGOTIATION CONTEXT\n%s\n\n%s\n\nRESOURCES TO NEGOTIATE:\n", banner, banner, description)
	writeNegotiable(&b, sc.ResourcesToNegotiate)

	r := rules.Resolve(sc.NegotiationRules)
	fmt.Fprintf(&b, "\n\n%s\nNEGOTIATION RULES\n%s\n\n", banner, banner)
	fmt.Fprintf(&b, "- Mode: %s\n", r.Mode)
	fmt.Fprintf(&b, "- Allow partial agreements: %t\n", r.AllowPartialAgreements)
	fmt.Fprintf(&b, "- Require unanimous agreement: %t\n", r.RequireUnanimousAgreement)
	for _, line := range modePolicy[r.Mode] {
		b.WriteString(line + "\n")
	}

	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("1. Follow the negotiation mode policy above and maximize your objective within that policy\n")
	b.WriteString("2. Be strategic: do not immediately reveal your minimum acceptable outcomes\n")
	b.WriteString("3. When making a proposal, use this format:\n\n   PROPOSAL:\n")
	writeProposalFormat(&b, sc.ResourcesToNegotiate)

	b.WriteString("\n4. Respect agreement constraints from NEGOTIATION RULES:\n")
	if r.AllowPartialAgreements {
		b.WriteString("   - You may make partial proposals on one resource at a time.\n")
	} else {
		b.WriteString("   - Do not propose or accept partial agreements; only complete packages are valid.\n")
	}
	if r.RequireUnanimousAgreement {
		b.WriteString("   - Do not declare agreement reached unless all parties explicitly confirm it.\n")
	} else {
		b.WriteString("   - Agreement can be considered reached without explicit unanimous confirmation.\n")
	}

	b.WriteString("\n5. Respond naturally and professionally\n")
	b.WriteString("6. Always respond in English.\n")
	b.WriteString("7. Your reply should be approximately 10% of the length of a typical full explanation, prioritizing conclusions, concrete proposals, and trade-offs.\n")
	fmt.Fprintf(&b, "8. When all parties have explicitly confirmed a final agreement, end your message with %s. If you conclude no agreement is possible, end your message with %s.\n", MarkerAgreement, MarkerImpasse)
	b.WriteString("\n\nNow begin the negotiation.\n")
	return b.String()
}

func writeResources(b *strings.Builder, resources scenario.Map) {
	b.WriteString("\n--- RESOURCES YOU OWN ---\n")
	wrote := false
	if v, ok := resources.Get("description"); ok {
		if d := strings.TrimSpace(scenario.Format(v)); d != "" {
			b.WriteString(d + "\n")
			wrote = true
		}
	}
	if v, ok := resources.Get("owns"); ok {
		if owns, ok := v.([]any); ok && len(owns) > 0 {
			fmt.Fprintf(b, "\nOwned assets: %s\n", scenario.Format(owns))
			wrote = true
		}
	}
	resources.Each(func(key string, value any) {
		if key == "description" || key == "owns" {
			return
		}
		fmt.Fprintf(b, "- %s: %s\n", Label(key), scenario.Format(value))
		wrote = true
	})
	if !wrote {
		b.WriteString("No explicit resource description provided.\n")
	}
}

func writeConstraints(b *strings.Builder, constraints []string) {
	b.WriteString("\n--- CONSTRAINTS ---\n")
	if len(constraints) == 0 {
		b.WriteString("- None specified.\n")
		return
	}
	for _, c := range constraints {
		fmt.Fprintf(b, "- %s\n", c)
	}
}

func writeGoals(b *strings.Builder, goals scenario.Map, sc *scenario.Scenario) {
	b.WriteString("\n--- PRIVATE GOALS ---\n")
	if goals.Len() == 0 {
		b.WriteString("- None specified.\n")
		return
	}
	known := make(map[string]bool, len(goalFormatters))
	for _, f := range goalFormatters {
		known[f.key] = true
		if v, ok := goals.Get(f.key); ok && v != nil {
			fmt.Fprintf(b, "- %s\n", f.format(v, sc))
		}
	}
	goals.Each(func(key string, value any) {
		if known[key] || value == nil {
			return
		}
		fmt.Fprintf(b, "- %s: %s\n", Label(key), scenario.Format(value))
	})
}

func writeNegotiable(b *strings.Builder, resources scenario.Map) {
	if resources.Len() == 0 {
		b.WriteString("- Not specified.\n")
		return
	}
	resources.Each(func(name string, raw any) {
		data, ok := scenario.AsMap(raw)
		if !ok {
			fmt.Fprintf(b, "- %s: %s\n", name, scenario.Format(raw))
			return
		}
		if v, ok := data.Get("description"); ok {
			if d := strings.TrimSpace(scenario.Format(v)); d != "" {
				fmt.Fprintf(b, "- %s\n", d)
				return
			}
		}
		parts := []string{name}
		if total, ok := data.Get("total"); ok {
			unit := text(data, "unit")
			currency := text(data, "currency")
			switch {
			case currency != "":
				parts = append(parts, fmt.Sprintf("Total: %s %s", currency, scenario.Format(total)))
			case unit != "":
				parts = append(parts, fmt.Sprintf("Total: %s %s", scenario.Format(total), unit))
			default:
				parts = append(parts, "Total: "+scenario.Format(total))
			}
		}
		if v, ok := data.Get("options"); ok {
			if list, ok := v.([]any); ok {
				parts = append(parts, "Options: "+scenario.Format(list))
			}
		}
		if v, ok := data.Get("areas"); ok {
			if list, ok := v.([]any); ok {
				parts = append(parts, "Areas: "+scenario.Format(list))
			}
		}
		fmt.Fprintf(b, "- %s\n", strings.Join(parts, ": "))
	})
}

func writeProposalFormat(b *strings.Builder, resources scenario.Map) {
	resources.Each(func(name string, raw any) {
		data, ok := scenario.AsMap(raw)
		if !ok {
			return
		}
		label := Label(name)
		total, _ := data.Get("total")
		divisible := true
		if v, ok := data.Get("divisible"); ok {
			divisible = present(v)
		}
		categories, hasCategories := data.Get("categories")
		options, hasOptions := data.Get("options")
		switch {
		case present(total) && divisible:
			fmt.Fprintf(b, "   - %s: X%% for me, Y%% for other party\n", label)
		case hasCategories:
			if cats, ok := scenario.AsMap(categories); ok {
				fmt.Fprintf(b, "   - %s: Specify amounts for %s\n", label, strings.Join(cats.Keys(), ", "))
			}
		case data.Has("areas"):
			fmt.Fprintf(b, "   - %s: I control [areas], other party controls [areas]\n", label)
		case hasOptions:
			if list, ok := options.([]any); ok {
				if len(list) > 3 {
					list = list[:3]
				}
				opts := make([]string, len(list))
				for i, o := range list {
					opts[i] = scenario.Format(o)
				}
				fmt.Fprintf(b, "   - %s: [%s]\n", label, strings.Join(opts, "/"))
			}
		default:
			fmt.Fprintf(b, "   - %s: [your proposal]\n", label)
		}
	})
}

// Currency renders an amount in the scenario's currency, EUR when none of
// the negotiable resources declares one. Numbers get thousands separators.
func Currency(v any, sc *scenario.Scenario) string {
	currency := ""
	if sc != nil {
		sc.ResourcesToNegotiate.Each(func(_ string, raw any) {
			if currency != "" {
				return
			}
			if data, ok := scenario.AsMap(raw); ok {
				currency = text(data, "currency")
			}
		})
	}
	n, isNumber := scenario.Number(v)
	if !isNumber {
		if currency != "" {
			return currency + " " + scenario.Format(v)
		}
		return scenario.Format(v)
	}
	if currency == "" {
		currency = "EUR"
	}
	return currency + " " + thousands(n)
}

// Label turns a snake_case key into a title-cased label. Casers are
// stateful, so each call gets its own.
func Label(key string) string {
	return cases.Title(language.English).String(strings.TrimSpace(strings.ReplaceAll(key, "_", " ")))
}

func thousands(n float64) string {
	s := scenario.Format(n)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var out []byte
	for i := range len(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	if hasFrac {
		return sign + string(out) + "." + frac
	}
	return sign + string(out)
}

func text(m scenario.Map, key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(scenario.Format(v))
}

// present mirrors loose truthiness: nil, false, zero, empty string and
// empty list count as absent.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	}
	if n, ok := scenario.Number(v); ok {
		return n != 0
	}
	return true
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
