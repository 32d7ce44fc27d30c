package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rmexp/rmexp/internal/handler"
	"github.com/rmexp/rmexp/internal/pipeline"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds flags shared by the frame-processing commands
type Options struct {
	InputPath      string
	App            string
	Engine         []string
	Trace          string
	CPU            string
	Memory         string
	StoreResult    bool
	StoreLatency   bool
	StoreProfile   bool
	IntegerLatency bool
	OutputDir      string
}

var batchOpts Options

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process every frame of a video and record results and latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyOptions(cmd, &batchOpts)
		return runBatch(cmd.Context(), batchOpts)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOpts.InputPath, "input", "i", "", "Path to video")
	addHandlerFlags(batchCmd, &batchOpts)
	batchCmd.Flags().StringVarP(&batchOpts.Trace, "trace", "t", "", "Trace label (default: name of the video's directory)")
	batchCmd.Flags().StringVar(&batchOpts.CPU, "cpu", "", "CPU tag for resource latencies (default: host logical CPUs)")
	batchCmd.Flags().StringVar(&batchOpts.Memory, "memory", "", "Memory tag for resource latencies (default: host memory)")
	batchCmd.Flags().BoolVar(&batchOpts.StoreResult, "store-result", false, "Record handler output per frame (default off)")
	batchCmd.Flags().BoolVar(&batchOpts.StoreLatency, "store-latency", false, "Record processing latency per frame (default off)")
	batchCmd.Flags().BoolVar(&batchOpts.StoreProfile, "store-profile", false, "Record latency tagged with trace, cpu and memory")
	batchCmd.Flags().BoolVar(&batchOpts.IntegerLatency, "integer-latency", false, "Round latencies to whole milliseconds (default off)")

	batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

func addHandlerFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.App, "app", "a", "", fmt.Sprintf("Application handler %v", handler.Apps()))
	cmd.Flags().StringSliceVar(&opts.Engine, "engine", nil, "External analysis process (command,arg,...) used instead of the built-in handler")
}

// applyOptions fills opts from the configuration for every flag the user did
// not set, so flags win over file and environment.
func applyOptions(cmd *cobra.Command, opts *Options) {
	f := cmd.Flags()
	pick := func(name string, dst *string, fallback string) {
		if f.Lookup(name) != nil && !f.Changed(name) {
			*dst = fallback
		}
	}
	pickBool := func(name string, dst *bool, fallback bool) {
		if f.Lookup(name) != nil && !f.Changed(name) {
			*dst = fallback
		}
	}
	pick("app", &opts.App, Cfg.App)
	pick("trace", &opts.Trace, Cfg.Trace)
	pick("cpu", &opts.CPU, Cfg.CPU)
	pick("memory", &opts.Memory, Cfg.Memory)
	pick("output", &opts.OutputDir, Cfg.OutputDir)
	pickBool("store-result", &opts.StoreResult, Cfg.Storage.StoreResult)
	pickBool("store-latency", &opts.StoreLatency, Cfg.Storage.StoreLatency)
	pickBool("store-profile", &opts.StoreProfile, Cfg.Storage.StoreProfile)
	pickBool("integer-latency", &opts.IntegerLatency, Cfg.Storage.IntegerLatency)
	if f.Lookup("engine") != nil && !f.Changed("engine") {
		opts.Engine = Cfg.Engine
	}
}

func runBatch(ctx context.Context, opts Options) error {
	if err := requireExperiment(); err != nil {
		return err
	}
	if opts.Trace == "" {
		opts.Trace = utils.TraceName(opts.InputPath)
	}

	// Resource tags come from the host unless given.
	Cfg.CPU, Cfg.Memory, Cfg.Storage.StoreProfile = opts.CPU, opts.Memory, opts.StoreProfile
	if err := Cfg.FillResources(Log); err != nil {
		return err
	}
	opts.CPU, opts.Memory = Cfg.CPU, Cfg.Memory

	h, err := handler.New(ctx, opts.App, handler.Options{Engine: opts.Engine})
	if err != nil {
		utils.ShowError("Failed to start handler", err, nil)
		return err
	}
	defer h.Close()

	src, err := pipeline.OpenSource(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}

	log := Log.WithFields(logrus.Fields{"experiment": Cfg.Experiment, "trace": opts.Trace, "app": opts.App})
	log.Info("Starting batch run")

	bar := newBar(ctx, opts.InputPath, "Processing")
	stats, runErr := pipeline.Batch(ctx, src, h, DB, pipeline.BatchOptions{
		Experiment:     Cfg.Experiment,
		Trace:          opts.Trace,
		StoreResult:    opts.StoreResult,
		StoreLatency:   opts.StoreLatency,
		StoreProfile:   opts.StoreProfile,
		IntegerLatency: opts.IntegerLatency,
		CPU:            opts.CPU,
		Memory:         opts.Memory,
		Progress:       func() { bar.Add(1) },
		Log:            Log,
	})
	bar.Finish()
	closeErr := src.Close()

	if runErr != nil {
		if engine, ok := h.(*handler.Engine); ok {
			utils.ShowError("Batch run failed", runErr, engine.Cmd)
		} else {
			utils.ShowError("Batch run failed", runErr, src.Command())
		}
		return runErr
	}
	if closeErr != nil {
		utils.ShowError("FFmpeg execution failed", closeErr, src.Command())
		return closeErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Batch complete. %d frames processed, %d unreadable reads skipped.\n", stats.Frames, stats.Skipped)
	return nil
}

func newBar(ctx context.Context, input, desc string) *progressbar.ProgressBar {
	total := utils.GetTotalFrames(ctx, input)
	if total <= 0 {
		// Fallback to a spinner if ffprobe fails
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
}
