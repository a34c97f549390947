package commands

import (
	"context"

	"osticket-helper/internal/app"

	"github.com/spf13/cobra"
)

var readOpts app.ReadOptions

func init() {
	readCmd.Flags().BoolVar(&readOpts.NoDownload, "no-download", false, "Do not download attachments, implies --no-pdf.")
	readCmd.Flags().BoolVar(&readOpts.NoPDF, "no-pdf", false, "Do not build receipts.")
	readCmd.Flags().BoolVar(&readOpts.Force, "force", false, "Download attachments and build receipts again even if they exist.")
	rootCmd.AddCommand(readCmd)
}

var readCmd = &cobra.Command{
	Use:   "read <id>... [--no-download] [--no-pdf] [--force]",
	Short: "Shows tickets, downloads their attachments and builds their receipts.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.Read(ctx, args, readOpts)
			return err
		})
	},
}
