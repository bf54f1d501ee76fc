package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/app"
	"github.com/nidhogg/parley/internal/events"
	"github.com/nidhogg/parley/internal/judge"
	"github.com/nidhogg/parley/internal/results"
	"github.com/nidhogg/parley/internal/rules"
	"github.com/nidhogg/parley/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		maxRounds int
		mode      string
		csvPath   string
	)

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario until it terminates",
		Long: `Run plays a scenario round by round until the judge declares an
agreement or a failure, or the round limit is reached. Each round and the
final verdict are printed, and the run is appended to the results CSV.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := fromCmd(cmd)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			file, sc, err := loadScenario(cc.cfg, args[0])
			if err != nil {
				return err
			}

			active := rules.Load(cc.cfg.Negotiation.RulesPath)
			if maxRounds > 0 {
				active.MaxRounds = maxRounds
			}
			if mode != "" {
				active.Mode = rules.ParseMode(mode)
			}

			path := cc.cfg.Negotiation.ResultsCSV
			if csvPath != "" {
				path = csvPath
			}
			opts := session.Options{
				Source:       cc.source,
				Temperatures: app.Temperatures(cc.cfg),
				Results:      results.NewCSVStore(path),
				Notifier:     app.NewNotifier(cc.cfg, cc.logger),
				Logger:       cc.logger,
			}
			if url := cc.cfg.Database.Redis.URL; url != "" {
				bus, err := events.NewBus(ctx, url, cc.logger)
				if err != nil {
					cc.logger.Warn("Redis unavailable, running without run events", zap.Error(err))
				} else {
					defer bus.Close()
					opts.Events = bus
				}
			}

			s := session.New(opts)
			if err := s.Configure(file, sc, active); err != nil {
				return err
			}
			st := s.State()
			fmt.Fprintf(out, "%s | mode %s | max rounds %d | run %s\n\n",
				st.ScenarioName, st.Rules.Mode, st.MaxRounds, st.RunID)

			for {
				item, err := s.Advance(ctx)
				if err != nil {
					return err
				}
				if item == nil {
					break
				}
				printRound(out, item)
			}

			st = s.State()
			fmt.Fprintf(out, "Terminated: %s (status %s) after %d round(s)\n", st.TerminationReason, st.Status, st.Round)
			if final, _, ok := s.Final(); ok {
				printVerdict(out, final)
			}
			fmt.Fprintf(out, "\nResults appended to %s\n", path)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Override the configured round limit")
	cmd.Flags().StringVar(&mode, "mode", "", "Override the negotiation mode (cooperative, competitive, mixed)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Results CSV path (default from config)")
	return cmd
}

func printRound(w io.Writer, item *session.RoundEvaluation) {
	fmt.Fprintf(w, "── Round %d ──\n", item.Round)
	for _, t := range item.Turns {
		fmt.Fprintf(w, "[%s] %s\n", t.Agent, t.Content)
	}
	e := item.Evaluation
	if e.IsError() {
		fmt.Fprintln(w, "judge: output was not JSON")
	} else {
		status, _ := judge.ExtractStatus(e)
		fmt.Fprintf(w, "judge: status=%s", orDash(string(status)))
		if item.UtilityTotal != nil {
			fmt.Fprintf(w, " utility=%d", *item.UtilityTotal)
		}
		fmt.Fprintln(w)
		if s := e.String("summary"); s != "" {
			fmt.Fprintf(w, "       %s\n", s)
		}
	}
	fmt.Fprintln(w)
}

func printVerdict(w io.Writer, final judge.Evaluation) {
	fmt.Fprintln(w, "\nFinal verdict")
	for _, key := range []string{"persuasion", "deception", "concession", "cooperation"} {
		if v, ok := final.Int(key); ok {
			fmt.Fprintf(w, "  %-12s %d\n", key, v)
		}
	}
	for _, key := range []string{"agreement_type", "interaction_pattern", "dominant_agent"} {
		if v := final.String(key); v != "" {
			fmt.Fprintf(w, "  %-12s %s\n", key, v)
		}
	}
	if s := final.String("outcome_explanation"); s != "" {
		fmt.Fprintf(w, "\n%s\n", s)
	} else if s := final.String("summary"); s != "" {
		fmt.Fprintf(w, "\n%s\n", s)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
