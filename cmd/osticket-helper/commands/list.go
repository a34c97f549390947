package commands

import (
	"context"

	"osticket-helper/internal/app"
	"osticket-helper/internal/osticket"

	"github.com/spf13/cobra"
)

var (
	listStatus string
	listUser   string
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "open", "Which tickets to list, open or closed.")
	listCmd.Flags().StringVar(&listUser, "user", "", "Only show requesters whose name contains this text.")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [--status open|closed] [--user <name>]",
	Short: "Lists tickets grouped by requester.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := osticket.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.List(ctx, app.ListOptions{Status: status, User: listUser})
			return err
		})
	},
}
