package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bbr/multisavex/internal/services"
)

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print download statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		since := time.Now().AddDate(0, 0, -statsDays)
		overview, err := a.analyticsService.Overview(ctx, since)
		if err != nil {
			return err
		}
		platforms, err := a.analyticsService.PlatformBreakdown(ctx, since)
		if err != nil {
			return err
		}
		daily, err := a.analyticsService.Daily(ctx, statsDays)
		if err != nil {
			return err
		}
		top, err := a.analyticsService.TopUsers(ctx, since, 10)
		if err != nil {
			return err
		}
		return printStats(cmd.OutOrStdout(), statsDays, overview, platforms, daily, top)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "number of days to report")
}

func printStats(out io.Writer, days int, o services.Overview, platforms []services.PlatformStat, daily []services.DailyStat, top []services.UserActivity) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Last %d days\n", days)
	fmt.Fprintf(w, "requests\t%d\n", o.Total)
	fmt.Fprintf(w, "succeeded\t%d\n", o.Succeeded)
	fmt.Fprintf(w, "failed\t%d\n", o.Failed)
	fmt.Fprintf(w, "success rate\t%.1f%%\n", o.SuccessRate)
	fmt.Fprintf(w, "avg processing\t%s\n", o.AvgProcessing)
	fmt.Fprintf(w, "bytes\t%d\n", o.Bytes)

	fmt.Fprintln(w, "\nPLATFORM\tSUCCEEDED\tFAILED\tBYTES")
	for _, p := range platforms {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", p.Platform, p.Succeeded, p.Failed, p.Bytes)
	}

	fmt.Fprintln(w, "\nDATE\tSUCCEEDED\tFAILED\tBYTES")
	for _, d := range daily {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", d.Date, d.Succeeded, d.Failed, d.Bytes)
	}

	if len(top) > 0 {
		fmt.Fprintln(w, "\nUSER\tDOWNLOADS")
		for _, u := range top {
			fmt.Fprintf(w, "%d\t%d\n", u.UserID, u.Downloads)
		}
	}
	return w.Flush()
}
