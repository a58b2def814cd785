package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"prism-board/reconcile"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "Inspect and rearrange boards from the terminal",
	Long: `boardctl talks to the board API. It can print a board, move cards and
columns, follow a board live, and check a board's ordering keys.

The server and token default to BOARD_API_URL and BOARD_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	server := os.Getenv("BOARD_API_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "Board API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BOARD_TOKEN"), "Bearer token")
}

func newClient() *reconcile.Client {
	return reconcile.NewClient(serverURL, token)
}
