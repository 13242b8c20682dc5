package cli

import (
	"github.com/spf13/cobra"

	"farm-exporter/internal/app"
)

var collectCmd = &cobra.Command{
	Use:       "collect [source...]",
	Short:     "Poll enabled sources once and print their metrics",
	ValidArgs: []string{"chia_node", "openchia", "truepool"},
	Args:      cobra.OnlyValidArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Collect(cmd.Context(), app.CollectOptions{
			Sources: args,
			Out:     cmd.OutOrStdout(),
		})
	},
}
