// Package source provides finite frame sources: sequential readers of
// encoded images that report io.EOF once exhausted.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rmexp/rmexp/internal/utils"
)

const megabyte = 1024 * 1024

// Source yields encoded frames in order.
type Source interface {
	// Next returns the next raw frame, or io.EOF when the source is exhausted.
	Next() ([]byte, error)
	Close() error
}

// Reader splits an MJPEG byte stream into frames.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. Each token is one SOI..EOI span; the bytes are not
// validated here, so a corrupt span surfaces as a decode failure later.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &Reader{scanner: scanner}
}

func (r *Reader) Next() ([]byte, error) {
	if r.scanner.Scan() {
		b := r.scanner.Bytes()
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil, io.EOF
}

func (r *Reader) Close() error { return nil }

// FFmpeg decodes a video file through an ffmpeg subprocess.
type FFmpeg struct {
	*Reader
	cmd    *utils.SafeCommand
	stdout io.ReadCloser
}

// Open starts ffmpeg on path.
func Open(ctx context.Context, path string) (*FFmpeg, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a video file", path)
	}

	cmd := utils.NewFFmpegCmd(ctx, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	return &FFmpeg{Reader: NewReader(stdout), cmd: cmd, stdout: stdout}, nil
}

// Close stops reading and reports ffmpeg's exit status with its log tail.
func (f *FFmpeg) Close() error {
	// Draining is unnecessary; closing stdout lets an early exit finish.
	f.stdout.Close()
	if err := f.cmd.Wait(); err != nil {
		if f.cmd.Stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(f.cmd.Stderr.Bytes()))
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// Command exposes the ffmpeg process for error reporting.
func (f *FFmpeg) Command() *utils.SafeCommand {
	return f.cmd
}
