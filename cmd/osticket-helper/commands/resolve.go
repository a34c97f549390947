package commands

import (
	"context"

	"osticket-helper/internal/app"

	"github.com/spf13/cobra"
)

var resolveMessage string

func init() {
	resolveCmd.Flags().StringVarP(&resolveMessage, "message", "m", "", "The reply sent along with the resolution.")
	resolveCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>... --message <text>",
	Short: "Replies to tickets and marks them resolved.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.Resolve(ctx, args, resolveMessage)
			return err
		})
	},
}
