// Package notify posts final negotiation verdicts to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Verdict summarizes a finished run for humans.
type Verdict struct {
	RunID              string
	Scenario           string
	Status             string
	Reason             string
	Rounds             int
	MaxRounds          int
	Unanimous          *bool
	Summary            string
	InteractionPattern string
	DominantAgent      string
}

// Notifier delivers a verdict somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, v Verdict) error
}

// Format renders a verdict as a short markdown message.
func Format(v Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Negotiation finished: %s*\n", orUnknown(v.Scenario))
	fmt.Fprintf(&b, "Outcome: %s", orUnknown(v.Status))
	if v.Reason != "" && v.Reason != v.Status {
		fmt.Fprintf(&b, " (%s)", v.Reason)
	}
	b.WriteString("\n")
	if v.MaxRounds > 0 {
		fmt.Fprintf(&b, "Rounds: %d/%d\n", v.Rounds, v.MaxRounds)
	} else {
		fmt.Fprintf(&b, "Rounds: %d\n", v.Rounds)
	}
	if v.Unanimous != nil {
		fmt.Fprintf(&b, "Unanimous: %t\n", *v.Unanimous)
	}
	if v.DominantAgent != "" {
		fmt.Fprintf(&b, "Dominant agent: %s\n", v.DominantAgent)
	}
	if v.InteractionPattern != "" {
		fmt.Fprintf(&b, "Pattern: %s\n", v.InteractionPattern)
	}
	if v.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", v.Summary)
	}
	if v.RunID != "" {
		fmt.Fprintf(&b, "\nrun `%s`", v.RunID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Multi fans a verdict out to every notifier, joining failures.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, v Verdict) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
