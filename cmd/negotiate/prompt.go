package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/prompt"
	"github.com/nidhogg/parley/internal/rules"
)

func newPromptCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "prompt <scenario-file>",
		Short: "Print an agent's system prompt under the active rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := fromCmd(cmd)
			_, sc, err := loadScenario(cc.cfg, args[0])
			if err != nil {
				return err
			}
			effective := sc.WithRules(rules.Load(cc.cfg.Negotiation.RulesPath).Map())

			for _, a := range effective.Agents {
				if a.ID == agentID {
					fmt.Fprintln(cmd.OutOrStdout(), prompt.SystemPrompt(agent.SpecFrom(a), effective))
					return nil
				}
			}
			ids := make([]string, len(effective.Agents))
			for i, a := range effective.Agents {
				ids[i] = a.ID
			}
			return fmt.Errorf("agent %q not in scenario (have %v)", agentID, ids)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
