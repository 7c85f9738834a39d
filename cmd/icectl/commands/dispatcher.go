package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func dispatcherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Inspect an EventDispatcher's registered-listener tree",
	}
	cmd.AddCommand(dispatcherTreeCmd())
	return cmd
}

func dispatcherTreeCmd() *cobra.Command {
	var transportFlag string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Harvest host candidates and print the resulting dispatcher tree",
		Args:  cobra.NoArgs,
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

			out, err := formatDispatcherTree(session.dispatcher.Snapshot(), outputFormat)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&transportFlag, "transport", "both", "transport to harvest: udp, tcp, both")
	return cmd
}
