package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prism-board/domain"
	"prism-board/reconcile"
)

var watchClear bool

var watchCmd = &cobra.Command{
	Use:   "watch <boardId>",
	Short: "Follow a board live",
	Long: `Stream a board and reprint it whenever someone changes it.

The view starts from the snapshot the server sends on connect and merges
every event after that. Press Ctrl-C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchClear, "clear", true, "Clear the terminal before each reprint")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	client := newClient()
	rec := reconcile.New(client.SessionID, domain.BoardSnapshot{})
	out := cmd.OutOrStdout()

	err := client.Watch(cmd.Context(), args[0], rec, func(snap domain.BoardSnapshot) {
		if watchClear {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		faint.Fprintf(out, "updated %s\n", time.Now().Format(time.TimeOnly))
		render(out, snap)
		fmt.Fprintln(out)
	})
	if err != nil {
		return failure(cmd.ErrOrStderr(), "stream ended", err)
	}
	return nil
}
