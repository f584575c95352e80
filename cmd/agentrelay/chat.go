package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/runner"
)

// sender starts turns.
type sender interface {
	Send(ctx context.Context, conversationID, text string) (*runner.Turn, error)
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var (
		conversationID string
		quiet          bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the configured agents in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, nil)
			if err != nil {
				return err
			}
			defer a.close()

			if n := a.registerAgents(cmd.Context()); n == 0 {
				return errors.New("no agent could be registered, use --agent or the agents list of the config file")
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			fmt.Fprintln(cmd.OutOrStdout(), gray("conversation "+conversationID+", end with /quit or Ctrl-D"))
			return chat(cmd.Context(), a.relay, conversationID, cmd.InOrStdin(), cmd.OutOrStdout(), !quiet)
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: random)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print replies only, not agent events")

	return cmd
}

// chat reads one message per line and prints the agent events and the reply
// of each turn.
func chat(ctx context.Context, s sender, conversationID string, in io.Reader, out io.Writer, showEvents bool) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, cyan("> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}

		text := strings.TrimSpace(sc.Text())
		switch text {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		turn, err := s.Send(ctx, conversationID, text)
		if err != nil {
			return err
		}
		for ev := range turn.Events() {
			if showEvents {
				printEvent(out, ev)
			}
		}
		printReply(out, turn.Wait())

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func printEvent(w io.Writer, ev core.AgentEvent) {
	fmt.Fprintf(w, "%s %s %s\n", yellow("["+ev.AgentName+"]"), gray(string(ev.State())), ev.Text())
}

func printReply(w io.Writer, res runner.TurnResult) {
	switch {
	case res.Canceled:
		fmt.Fprintln(w, red("(canceled)"))
	case res.Suspended:
		fmt.Fprintf(w, "%s %s\n", yellow(res.Suspension.AgentName+" asks:"), res.Reply)
	default:
		fmt.Fprintln(w, green(res.Reply))
	}
	if len(res.Failed) > 0 {
		fmt.Fprintln(w, red("failed: "+strings.Join(res.Failed, ", ")))
	}
}
