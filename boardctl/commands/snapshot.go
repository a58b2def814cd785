package commands

import (
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <boardId>",
	Short: "Print a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().Snapshot(cmd.Context(), args[0])
		if err != nil {
			return failure(cmd.ErrOrStderr(), "failed to load board", err)
		}
		render(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
