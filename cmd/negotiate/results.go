package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nidhogg/parley/internal/results"
)

func newResultsCmd() *cobra.Command {
	var (
		csvPath  string
		scenario string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Summarize stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := fromCmd(cmd)
			path := cc.cfg.Negotiation.ResultsCSV
			if csvPath != "" {
				path = csvPath
			}

			records, err := results.NewCSVStore(path).List(cmd.Context())
			if err != nil {
				return err
			}
			summary := results.Summarize(records, scenario)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Results CSV path (default from config)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "Only summarize this scenario name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, s results.Summary) {
	fmt.Fprintf(w, "Runs: %d  reached: %d  failed: %d  stalled: %d\n", s.Runs, s.Reached, s.Failed, s.Stalled)
	if len(s.Scenarios) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSCENARIO\tOUTCOME\tRUNS\tAVG ROUNDS\tAVG FINAL UTILITY")
	for _, sc := range s.Scenarios {
		outcomes := make([]string, 0, len(sc.Rounds))
		for o := range sc.Rounds {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		for _, o := range outcomes {
			rounds := sc.Rounds[o]
			utility := "-"
			if u, ok := sc.FinalUtility[o]; ok {
				utility = fmt.Sprintf("%.2f", u.Value)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\n", sc.Name, o, rounds.Runs, rounds.Value, utility)
		}
	}
	tw.Flush()
}
