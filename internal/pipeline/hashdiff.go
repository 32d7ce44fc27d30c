package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rmexp/rmexp/internal/frame"
	"github.com/rmexp/rmexp/internal/source"
	"github.com/rmexp/rmexp/internal/store"
	"github.com/sirupsen/logrus"
)

// Annotation describes one annotated image written by HashDiff.
type Annotation struct {
	Index int64
	Diff  int
	Path  string
}

// HashDiffOptions configure a hash-diff run.
type HashDiffOptions struct {
	// App and Trace key the persisted hash records.
	App   string
	Trace string
	// Dir receives the annotated images. It is created if missing.
	Dir        string
	OnAnnotate func(Annotation)
	Progress   func()
	Log        logrus.FieldLogger
}

// RunDir is the per-run output directory under root.
func RunDir(root, trace, runID string) string {
	if len(runID) > 12 {
		runID = runID[:12]
	}
	return filepath.Join(root, trace+"-"+runID)
}

// HashName is the datastat name holding the hash of a frame.
func HashName(index int64) string {
	return fmt.Sprintf("f%d-phash", index)
}

// HashDiff hashes every frame of src and records the hash. From the second
// frame on, the Hamming distance to the previous frame is then drawn onto
// the frame and the result written to opts.Dir.
func HashDiff(ctx context.Context, src source.Source, st store.Backend, opts HashDiffOptions) (Stats, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "hashdiff")

	if opts.Dir == "" {
		return Stats{}, errors.New("hash diff needs an output directory")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return Stats{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		stats Stats
		prev  frame.Hash
		first = true
	)
	index := int64(1)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			log.WithFields(logrus.Fields{"frames": stats.Frames, "dir": opts.Dir}).Info("source drained")
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
			framesTotal.WithLabelValues("hashdiff", "skipped").Inc()
			log.WithError(fmt.Errorf("%w: %w", ErrDecode, err)).WithField("read", stats.Reads).Debug("skipping read")
			continue
		}

		cur, err := frame.PerceptualHash(img)
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", index, err)
		}

		// An annotated image is only written once its frame hash is recorded.
		_, _, err = store.Upsert(ctx, st, store.DataStats,
			store.Fields{"app": opts.App, "trace": opts.Trace, "name": HashName(index)},
			store.Fields{"value": cur.String()},
		)
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", index, err)
		}

		if !first {
			diff, err := frame.Diff(cur, prev)
			if err != nil {
				return stats, fmt.Errorf("frame %d: %w", index, err)
			}
			path, err := frame.WriteJPEG(opts.Dir, index, frame.Annotate(img, fmt.Sprintf("diff=%d", diff)))
			if err != nil {
				return stats, err
			}
			log.WithFields(logrus.Fields{"frame": index, "diff": diff}).Debug("annotated frame")
			if opts.OnAnnotate != nil {
				opts.OnAnnotate(Annotation{Index: index, Diff: diff, Path: path})
			}
		}

		prev, first = cur, false
		framesTotal.WithLabelValues("hashdiff", "processed").Inc()
		stats.Frames++
		index++
	}
}
