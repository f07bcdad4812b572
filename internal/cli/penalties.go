package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pledgeloop/pledge/internal/daemon"
)

func init() {
	penaltiesCmd.Flags().StringVar(&penaltiesUser, "user", "", "User ID (required)")
	penaltiesCmd.Flags().IntVar(&penaltiesLimit, "limit", 50, "Maximum rows")
	_ = penaltiesCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(penaltiesCmd)
}

var (
	penaltiesUser  string
	penaltiesLimit int
)

var penaltiesCmd = &cobra.Command{
	Use:   "penalties",
	Short: "List a user's penalties and their settlement state",
	RunE:  runPenalties,
}

func runPenalties(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pens, err := d.DB.ListPenaltiesByUser(cmd.Context(), penaltiesUser, penaltiesLimit)
	if err != nil {
		return err
	}

	if len(pens) == 0 {
		fmt.Printf("No penalties for %s.\n", penaltiesUser)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tHABIT\tAMOUNT\tREASON\tSTATE\tCHARGE")
	for _, p := range pens {
		fmt.Fprintf(w, "%s\t%s\t$%s\t%s\t%s\t%s\n",
			p.PenaltyDate,
			p.HabitID,
			p.Amount.StringFixed(2),
			p.ReasonClass,
			p.SettlementState(),
			p.PaymentIntentID,
		)
	}
	return w.Flush()
}
