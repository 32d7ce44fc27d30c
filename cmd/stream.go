package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rmexp/rmexp/internal/handler"
	"github.com/rmexp/rmexp/internal/pipeline"
	"github.com/rmexp/rmexp/internal/queue"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	streamOpts     Options
	streamConsumer string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Consume frames from the job stream and record per-frame latency",
	Long:  "Runs until interrupted. Each frame is acknowledged once its latency row has been committed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyOptions(cmd, &streamOpts)
		return runStream(cmd.Context(), streamOpts)
	},
}

func init() {
	addHandlerFlags(streamCmd, &streamOpts)
	streamCmd.Flags().StringVar(&streamConsumer, "consumer", "", "Consumer name within the group (default: random)")
	rootCmd.AddCommand(streamCmd)
}

func openQueue(ctx context.Context, consumer string) (*queue.Queue, error) {
	q := queue.New(queue.Config{
		Stream:   Cfg.Redis.Stream,
		Group:    Cfg.Redis.Group,
		Block:    Cfg.Redis.Block,
		Consumer: consumer,
	})
	if err := q.Connect(ctx, Cfg.Redis.URL); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func runStream(ctx context.Context, opts Options) error {
	if err := requireExperiment(); err != nil {
		return err
	}

	h, err := handler.New(ctx, opts.App, handler.Options{Engine: opts.Engine})
	if err != nil {
		utils.ShowError("Failed to start handler", err, nil)
		return err
	}
	defer h.Close()

	q, err := openQueue(ctx, streamConsumer)
	if err != nil {
		utils.ShowError("Failed to connect to Redis", err, nil)
		return err
	}
	defer q.Close()
	if err := q.EnsureGroup(ctx); err != nil {
		utils.ShowError("Failed to create consumer group", err, nil)
		return err
	}

	Log.WithFields(logrus.Fields{
		"experiment": Cfg.Experiment,
		"app":        opts.App,
		"stream":     q.Stream(),
		"consumer":   q.Consumer(),
	}).Info("Waiting for frames")

	stats, err := pipeline.Stream(ctx, q, h, DB, pipeline.StreamOptions{
		Experiment: Cfg.Experiment,
		Log:        Log,
	})
	if err != nil {
		var proc *utils.SafeCommand
		if engine, ok := h.(*handler.Engine); ok {
			proc = engine.Cmd
		}
		utils.ShowError("Stream stopped", err, proc)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Stream stopped. %d frames processed.\n", stats.Frames)
	return nil
}
