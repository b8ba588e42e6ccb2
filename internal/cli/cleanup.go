package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired download requests, analytics and rate limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.maintenanceService.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d download requests, %d analytics records, %d rate limit windows, %d temp dirs\n",
			report.Requests, report.Analytics, report.Windows, report.TempDirs)
		return nil
	},
}
