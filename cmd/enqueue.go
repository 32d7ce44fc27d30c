package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rmexp/rmexp/internal/codec"
	"github.com/rmexp/rmexp/internal/pipeline"
	"github.com/rmexp/rmexp/internal/utils"
	"github.com/spf13/cobra"
)

var (
	enqueueInput string
	enqueueTag   string
	enqueueFPS   float64
)

var enqueueCmd = &cobra.Command{
	Use:         "enqueue",
	Short:       "Push the frames of a video onto the job stream",
	Long:        "Acts as a camera for the stream command: every frame is sent with its index and send time.",
	Annotations: map[string]string{noStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnqueue(cmd.Context())
	},
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueInput, "input", "i", "", "Path to video")
	enqueueCmd.Flags().StringVar(&enqueueTag, "tag", "", "Tag sent with each frame (default: trace name)")
	enqueueCmd.Flags().Float64Var(&enqueueFPS, "fps", 0, "Send at most this many frames per second (0 = as fast as possible)")
	enqueueCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(ctx context.Context) error {
	if enqueueFPS < 0 {
		return fmt.Errorf("--fps must be >= 0, got %v", enqueueFPS)
	}
	if enqueueTag == "" {
		enqueueTag = utils.TraceName(enqueueInput)
	}

	q, err := openQueue(ctx, "")
	if err != nil {
		utils.ShowError("Failed to connect to Redis", err, nil)
		return err
	}
	defer q.Close()

	src, err := pipeline.OpenSource(ctx, enqueueInput)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}

	var tick <-chan time.Time
	if enqueueFPS > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / enqueueFPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	bar := newBar(ctx, enqueueInput, "Enqueueing")
	var sent int64
	for {
		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			src.Close()
			utils.ShowError("Frame scanner failed", err, src.Command())
			return err
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				src.Close()
				return ctx.Err()
			}
		}

		sent++
		msg, err := codec.EncodeEnvelope(codec.Envelope{Data: raw, Timestamp: codec.Seconds(time.Now()), Index: sent})
		if err != nil {
			src.Close()
			return err
		}
		if _, err := q.Enqueue(ctx, enqueueTag, msg); err != nil {
			src.Close()
			utils.ShowError("Failed to enqueue frame", err, nil)
			return err
		}
		bar.Add(1)
	}
	bar.Finish()

	if err := src.Close(); err != nil {
		utils.ShowError("FFmpeg execution failed", err, src.Command())
		return err
	}
	fmt.Fprintf(os.Stderr, "\n📤 Enqueued %d frames on %s.\n", sent, q.Stream())
	return nil
}
