package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
)

func newAgentsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Register the configured agents and show what they offer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, nil)
			if err != nil {
				return err
			}
			defer a.close()

			if len(a.cfg.Agents) == 0 {
				return fmt.Errorf("no agents configured, use --agent or the agents list of the config file")
			}

			failed := 0
			for _, address := range a.cfg.Agents {
				if m := a.relay.Register(cmd.Context(), address); m != nil {
					printAgent(cmd.OutOrStdout(), *m)
					continue
				}
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("unreachable"), address)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d agents unreachable", failed, len(a.cfg.Agents))
			}
			return nil
		},
	}
}

func printAgent(w io.Writer, m core.ManagedAgent) {
	fmt.Fprintf(w, "%s %s %s\n", green(string(m.Status)), bold(m.Name), gray(m.Address))
	if m.Description != "" {
		fmt.Fprintf(w, "   %s\n", m.Description)
	}
	for _, s := range m.Skills {
		fmt.Fprintf(w, "   - %s %s\n", s.Name, gray(strings.Join(s.Tags, ", ")))
	}
}
