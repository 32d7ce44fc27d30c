package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rmexp/rmexp/internal/store"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [experiment]",
	Short: "List experiments with their recorded row counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		exp := ""
		if len(args) == 1 {
			exp = args[0]
		}
		return runList(cmd.Context(), os.Stdout, exp)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, out io.Writer, exp string) error {
	sums, err := DB.Summaries(ctx, exp)
	if err != nil {
		utils.ShowError("Failed to list experiments", err, nil)
		return err
	}

	if len(sums) == 0 {
		fmt.Fprintln(out, "No experiments found in database.")
		return nil
	}
	printSummaries(out, sums)
	return nil
}

func printSummaries(out io.Writer, sums []store.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EXPERIMENT\tRESULTS\tLATENCIES\tPROFILES\tAVG LATENCY (ms)")
	fmt.Fprintln(w, "----------\t-------\t---------\t--------\t----------------")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", s.Experiment, s.Results, s.Latencies, s.Profiles, s.AvgLatencyMs)
	}
	w.Flush()
}
