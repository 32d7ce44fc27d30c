package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rmexp/rmexp/internal/codec"
	"github.com/rmexp/rmexp/internal/frame"
	"github.com/rmexp/rmexp/internal/handler"
	"github.com/rmexp/rmexp/internal/queue"
	"github.com/rmexp/rmexp/internal/store"
	"github.com/sirupsen/logrus"
)

// JobSource delivers frame jobs. Next blocks until a job arrives.
type JobSource interface {
	Next(ctx context.Context) (queue.Job, error)
	Ack(ctx context.Context, job queue.Job) error
}

// StreamOptions configure a stream run.
type StreamOptions struct {
	Experiment string
	Log        logrus.FieldLogger
	// Now is the clock used for finished_at; defaults to time.Now.
	Now func() time.Time
}

// Stream consumes jobs until ctx is cancelled, which ends the run cleanly,
// or until a job fails. A job is acknowledged only after its latency row
// has committed. Only the wait for the next job observes cancellation; a
// frame already taken off the queue is processed, recorded and acked.
func Stream(ctx context.Context, jobs JobSource, h handler.Handler, st store.Backend, opts StreamOptions) (Stats, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "stream")
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var stats Stats
	for {
		job, err := jobs.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.WithField("frames", stats.Frames).Info("stream stopped")
				return stats, nil
			}
			return stats, fmt.Errorf("waiting for job: %w", err)
		}
		stats.Reads++
		work := context.WithoutCancel(ctx)

		env, err := codec.DecodeEnvelope(job.Msg)
		if err != nil {
			return stats, fmt.Errorf("%w: message %s: %w", ErrEnvelopeDecode, job.MessageID, err)
		}
		img, err := frame.Decode(env.Data)
		if err != nil {
			return stats, fmt.Errorf("%w: frame %d: %w", ErrEnvelopeDecode, env.Index, err)
		}

		start := time.Now()
		result, err := h.Process(work, img)
		handlerSeconds.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		if err != nil {
			return stats, fmt.Errorf("%w at frame %d: %w", ErrHandler, env.Index, err)
		}
		value, err := codec.EncodeResult(result)
		if err != nil {
			return stats, err
		}

		finished := now()
		latency := (codec.Seconds(finished) - env.Timestamp) * 1000
		_, _, err = store.Upsert(work, st, store.Latencies,
			store.Fields{"experiment": opts.Experiment, "frame_index": env.Index},
			store.Fields{"value": value, "finished_at": finished, "latency_ms": latency},
		)
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", env.Index, err)
		}
		if err := jobs.Ack(work, job); err != nil {
			return stats, fmt.Errorf("ack %s: %w", job.MessageID, err)
		}

		frameLatency.Observe(latency / 1000)
		framesTotal.WithLabelValues("stream", "processed").Inc()
		stats.Frames++
		log.WithFields(logrus.Fields{"frame": env.Index, "tag": job.Tag, "latency_ms": latency}).Debug("processed frame")
	}
}
