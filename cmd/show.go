package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rmexp/rmexp/internal/store"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <experiment> <frame_index>",
	Short: "Show every row recorded for one frame of an experiment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		index, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || index < 1 {
			return fmt.Errorf("invalid frame index %q: must be a positive integer", args[1])
		}
		return runShow(cmd.Context(), os.Stdout, args[0], index)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(ctx context.Context, out io.Writer, exp string, index int64) error {
	rows, err := DB.FrameRows(ctx, exp, index)
	if err != nil {
		utils.ShowError("Failed to load frame", err, nil)
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "Nothing recorded for frame %d of %q.\n", index, exp)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tKEY\tVALUES")
	fmt.Fprintln(w, "----\t--\t---\t------")
	for _, rec := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", rec.Kind, rec.ID, formatFields(rec.Key), formatFields(rec.Values))
	}
	return w.Flush()
}

// formatFields renders fields as sorted name=value pairs.
func formatFields(f store.Fields) string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := f[name]
		switch t := v.(type) {
		case time.Time:
			v = t.Local().Format("2006-01-02 15:04:05.000")
		case float64:
			v = strconv.FormatFloat(t, 'f', -1, 64)
		case string:
			if len(t) > 60 {
				v = t[:57] + "..."
			}
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, v))
	}
	return strings.Join(parts, " ")
}
