package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Inspect harvested host candidates",
	}
	cmd.AddCommand(candidatesListCmd())
	return cmd
}

func candidatesListCmd() *cobra.Command {
	var transportFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Harvest host candidates and list the ones that bound",
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

			out, err := formatCandidates(session.component.Candidates(), outputFormat)
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
