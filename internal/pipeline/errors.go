// Package pipeline drives frames from a source through a handler into the
// metric store. Batch and HashDiff exhaust a finite source; Stream consumes
// the job queue until shut down.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmexp/rmexp/internal/source"
)

var (
	// ErrSourceOpen means the frame source could not be opened. Nothing was processed.
	ErrSourceOpen = errors.New("cannot open frame source")
	// ErrDecode marks a read that produced no usable image. Batch runs skip it.
	ErrDecode = errors.New("frame decode failed")
	// ErrEnvelopeDecode marks a streamed job whose envelope or image is malformed.
	ErrEnvelopeDecode = errors.New("frame envelope decode failed")
	// ErrHandler wraps a failure of the analysis handler.
	ErrHandler = errors.New("frame handler failed")
)

// OpenSource starts decoding the video at path.
func OpenSource(ctx context.Context, path string) (*source.FFmpeg, error) {
	src, err := source.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSourceOpen, path, err)
	}
	return src, nil
}

// Stats counts what a run saw.
type Stats struct {
	// Reads is the number of raw frames pulled from the source.
	Reads int64
	// Frames is the number of frames decoded and processed.
	Frames int64
	// Skipped is the number of reads that did not decode.
	Skipped int64
}
