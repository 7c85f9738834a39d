package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func harvestCmd() *cobra.Command {
	var transportFlag string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest host candidates and print per-transport statistics",
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

			out, err := formatHarvestStats(session.stats, outputFormat)
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
