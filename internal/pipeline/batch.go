package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rmexp/rmexp/internal/codec"
	"github.com/rmexp/rmexp/internal/frame"
	"github.com/rmexp/rmexp/internal/handler"
	"github.com/rmexp/rmexp/internal/source"
	"github.com/rmexp/rmexp/internal/store"
	"github.com/sirupsen/logrus"
)

// BatchOptions select what a batch run records and under which identity.
type BatchOptions struct {
	Experiment string
	Trace      string

	StoreResult  bool
	StoreLatency bool
	StoreProfile bool
	// IntegerLatency rounds latencies to whole milliseconds.
	IntegerLatency bool

	// CPU and Memory tag resource-latency rows.
	CPU    string
	Memory string

	// Progress, when set, is called once per raw read.
	Progress func()
	Log      logrus.FieldLogger
}

// Batch runs every frame of src through h and records the enabled outputs.
// Frame indices start at 1 and advance only on a successful decode, so a
// re-run over the same source overwrites the same rows.
func Batch(ctx context.Context, src source.Source, h handler.Handler, st store.Backend, opts BatchOptions) (Stats, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "batch")

	var stats Stats
	index := int64(1)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			log.WithFields(logrus.Fields{"frames": stats.Frames, "skipped": stats.Skipped}).Info("source drained")
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		stats.Reads++
		if opts.Progress != nil {
			opts.Progress()
		}

		img, err := frame.Decode(raw)
		if err != nil {
			stats.Skipped++
			framesTotal.WithLabelValues("batch", "skipped").Inc()
			log.WithError(fmt.Errorf("%w: %w", ErrDecode, err)).WithField("read", stats.Reads).Debug("skipping read")
			continue
		}

		start := time.Now()
		result, err := h.Process(ctx, img)
		elapsed := time.Since(start)
		handlerSeconds.WithLabelValues("batch").Observe(elapsed.Seconds())
		if err != nil {
			return stats, fmt.Errorf("%w at frame %d: %w", ErrHandler, index, err)
		}

		latency := float64(elapsed) / float64(time.Millisecond)
		if opts.IntegerLatency {
			latency = math.Round(latency)
		}
		if err := persistBatchFrame(ctx, st, opts, index, result, latency, time.Now()); err != nil {
			return stats, fmt.Errorf("frame %d: %w", index, err)
		}

		log.WithFields(logrus.Fields{"frame": index, "latency_ms": latency}).Debug("processed frame")
		framesTotal.WithLabelValues("batch", "processed").Inc()
		stats.Frames++
		index++
	}
}

// persistBatchFrame writes one frame's outputs as a single unit of work.
func persistBatchFrame(ctx context.Context, st store.Backend, opts BatchOptions, index int64, result any, latency float64, finished time.Time) error {
	if !opts.StoreResult && !opts.StoreLatency && !opts.StoreProfile {
		return nil
	}
	var value string
	if opts.StoreResult {
		var err error
		if value, err = codec.EncodeResult(result); err != nil {
			return err
		}
	}

	return st.Do(ctx, func(w store.Writer) error {
		if opts.StoreResult {
			rec, _, err := w.GetOrCreate(ctx, store.Results, store.Fields{
				"experiment": opts.Experiment, "frame_index": index, "trace": opts.Trace,
			})
			if err != nil {
				return err
			}
			if _, err := w.Update(ctx, rec, store.Fields{"value": value}); err != nil {
				return err
			}
		}
		if opts.StoreLatency {
			rec, _, err := w.GetOrCreate(ctx, store.Latencies, store.Fields{
				"experiment": opts.Experiment, "frame_index": index,
			})
			if err != nil {
				return err
			}
			if _, err := w.Update(ctx, rec, store.Fields{"latency_ms": latency, "finished_at": finished}); err != nil {
				return err
			}
		}
		if opts.StoreProfile {
			_, _, err := w.Upsert(ctx, store.ResourceLatencies, store.Fields{
				"experiment": opts.Experiment, "trace": opts.Trace, "frame_index": index,
				"cpu": opts.CPU, "memory": opts.Memory,
			}, store.Fields{"latency_ms": latency, "finished_at": finished})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
