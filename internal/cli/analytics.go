package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pledgeloop/pledge/internal/daemon"
)

func init() {
	analyticsCmd.Flags().StringVar(&analyticsHabit, "habit", "", "Habit ID (required)")
	_ = analyticsCmd.MarkFlagRequired("habit")
	rootCmd.AddCommand(analyticsCmd)
}

var analyticsHabit string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show what each recipient of a habit has earned",
	RunE:  runAnalytics,
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	rows, err := d.Analytics.ForHabit(cmd.Context(), analyticsHabit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("No recipient analytics for %s.\n", analyticsHabit)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECIPIENT\tEARNED\tPENDING\tDONE\tMISSED\tSUCCESS")
	for _, a := range rows {
		fmt.Fprintf(w, "%s\t$%s\t$%s\t%d\t%d\t%.0f%%\n",
			a.RecipientID,
			a.TotalEarned.StringFixed(2),
			a.PendingEarnings.StringFixed(2),
			a.TotalCompletions,
			a.TotalFailures,
			a.SuccessRate,
		)
	}
	return w.Flush()
}
