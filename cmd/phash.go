package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rmexp/rmexp/internal/pipeline"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var phashOpts Options

var phashCmd = &cobra.Command{
	Use:   "phash",
	Short: "Record perceptual hashes and write frames annotated with the diff to the previous frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyOptions(cmd, &phashOpts)
		return runPhash(cmd.Context(), phashOpts)
	},
}

func init() {
	phashCmd.Flags().StringVarP(&phashOpts.InputPath, "input", "i", "", "Path to video")
	phashCmd.Flags().StringVarP(&phashOpts.Trace, "trace", "t", "", "Trace label (default: name of the video's directory)")
	phashCmd.Flags().StringVarP(&phashOpts.OutputDir, "output", "o", "", "Directory receiving one sub-directory of annotated frames per run")
	phashCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(phashCmd)
}

func runPhash(ctx context.Context, opts Options) error {
	if err := requireExperiment(); err != nil {
		return err
	}
	if opts.Trace == "" {
		opts.Trace = utils.TraceName(opts.InputPath)
	}
	runID, err := utils.GenerateRunID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to generate run ID", err, nil)
		return err
	}
	dir := pipeline.RunDir(opts.OutputDir, opts.Trace, runID)

	src, err := pipeline.OpenSource(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}

	log := Log.WithFields(logrus.Fields{"experiment": Cfg.Experiment, "trace": opts.Trace, "dir": dir})
	log.Info("Hashing frames")

	bar := newBar(ctx, opts.InputPath, "Hashing")
	var maxDiff int
	stats, runErr := pipeline.HashDiff(ctx, src, DB, pipeline.HashDiffOptions{
		App:   Cfg.Experiment,
		Trace: opts.Trace,
		Dir:   dir,
		OnAnnotate: func(a pipeline.Annotation) {
			maxDiff = max(maxDiff, a.Diff)
		},
		Progress: func() { bar.Add(1) },
		Log:      Log,
	})
	bar.Finish()
	closeErr := src.Close()

	if runErr != nil {
		utils.ShowError("Hash run failed", runErr, src.Command())
		return runErr
	}
	if closeErr != nil {
		utils.ShowError("FFmpeg execution failed", closeErr, src.Command())
		return closeErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Hashed %d frames (largest adjacent diff %d). Annotated frames in %s\n", stats.Frames, maxDiff, dir)
	return nil
}
