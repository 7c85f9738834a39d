package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/netice/goice/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print icectl build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := appversion.Get("icectl")
			if outputFormat == formatJSON {
				out, err := info.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("icectl"))
			return nil
		},
	}
}
