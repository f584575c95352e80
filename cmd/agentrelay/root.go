package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type rootFlags struct {
	configPath string
	agents     []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Delegate requests to remote agents and relay their answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: ./agentrelay.yaml or ./configs/agentrelay.yaml)")
	cmd.PersistentFlags().StringSliceVarP(&flags.agents, "agent", "a", nil, "agent address to register, repeatable (added to the configured agents)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logger.level")

	cmd.AddCommand(
		newServeCmd(flags),
		newChatCmd(flags),
		newAgentsCmd(flags),
	)

	return cmd
}
