package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/simpsons/internal/utils"
	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("no database configured (use --db or POSTGRES_HOST)")

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	if DB == nil {
		utils.ShowError("Cannot list runs", errNoDatabase)
		return errNoDatabase
	}
	runs, err := DB.ListRuns(ctx)
	if err != nil {
		utils.ShowError("Failed to list runs", err)
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No training runs found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTEPS\tLEARN RATE\tTRAIN ACC\tTEST ACC\tPREDICTIONS\tSTARTED")
	fmt.Fprintln(w, "--\t-----\t----------\t---------\t--------\t-----------\t-------")

	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%d\t%g\t%s\t%s\t%d\t%s\n", r.ID, r.MaxSteps, r.LearnRate,
			fmtAccuracy(r.TrainAccuracy), fmtAccuracy(r.TestAccuracy), r.Predictions,
			r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// fmtAccuracy renders an unfinished run's missing accuracy as "-".
func fmtAccuracy(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

