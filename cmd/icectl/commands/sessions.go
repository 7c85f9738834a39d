package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions tracked by a freshly-harvested acceptor",
	}
	cmd.AddCommand(sessionsListCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var transportFlag string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Harvest host candidates, optionally wait for traffic, and list their sessions",
		Long: "Since icectl is a one-shot process rather than a client of a long-running " +
			"iced, a freshly harvested socket starts with no sessions at all. --wait keeps " +
			"the harvested sockets alive for the given duration so any inbound traffic " +
			"that arrives during the window shows up before the candidates are torn down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transports, err := transportsFor(transportFlag)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			session, err := runGather(cmd.Context(), transports, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			if wait > 0 {
				select {
				case <-cmd.Context().Done():
				case <-time.After(wait):
				}
			}

			all := append(session.udpAcc.Sockets(), session.tcpAcc.Sockets()...)
			out, err := formatSessions(all, outputFormat)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&transportFlag, "transport", "both", "transport to harvest: udp, tcp, both")
	cmd.Flags().DurationVar(&wait, "wait", 0, "keep harvested sockets alive this long before listing sessions")
	return cmd
}
