package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rmexp/rmexp/internal/store"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/spf13/cobra"
)

var statTrace string

var statCmd = &cobra.Command{
	Use:   "stat <name> <value>",
	Short: "Record a named statistic for the current experiment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := requireExperiment(); err != nil {
			return err
		}
		return runStat(cmd.Context(), os.Stdout, Cfg.Experiment, statTrace, args[0], args[1])
	},
}

func init() {
	statCmd.Flags().StringVarP(&statTrace, "trace", "t", "", "Trace label")
	rootCmd.AddCommand(statCmd)
}

func runStat(ctx context.Context, out io.Writer, app, trace, name, value string) error {
	_, created, err := store.Upsert(ctx, DB, store.DataStats,
		store.Fields{"app": app, "trace": trace, "name": name},
		store.Fields{"value": value},
	)
	if err != nil {
		utils.ShowError("Failed to record statistic", err, nil)
		return err
	}

	verb := "updated"
	if created {
		verb = "recorded"
	}
	fmt.Fprintf(out, "✅ %s/%s %s\n", app, name, verb)
	return nil
}
