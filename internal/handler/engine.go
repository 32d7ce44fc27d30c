package handler

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"sync"

	"github.com/rmexp/rmexp/internal/utils"
)

// maxResponse bounds a single engine reply.
const maxResponse = 64 << 20

// engineError is the object an engine returns when analysis fails.
type engineError struct {
	Error string `json:"error"`
}

// Engine delegates analysis to an external process. Frames go to its stdin
// and results come back on a side-channel pipe (fd 3), both framed as
// [u32 big-endian length][payload]. Results are JSON.
type Engine struct {
	App      string
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// StartEngine launches command with the application name appended.
func StartEngine(ctx context.Context, app string, command []string) (*Engine, error) {
	args := append(append([]string{}, command[1:]...), app)
	proc := utils.NewSafeCommand(ctx, command[0], args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine %s failed to start: %w", command[0], err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	return &Engine{App: app, Cmd: proc, Stdin: stdin, DataPipe: r}, nil
}

func (e *Engine) Process(ctx context.Context, img image.Image) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	resp, err := e.Communicate(buf.Bytes())
	if err != nil {
		return nil, err
	}

	var failed engineError
	if json.Unmarshal(resp, &failed) == nil && failed.Error != "" {
		return nil, fmt.Errorf("%s engine error: %s", e.App, failed.Error)
	}
	if !json.Valid(resp) {
		return nil, fmt.Errorf("%s engine returned invalid JSON", e.App)
	}
	return json.RawMessage(resp), nil
}

// Communicate sends one frame and waits for its reply.
func (e *Engine) Communicate(data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(e.DataPipe, header); err != nil {
		// A crashed engine surfaces here; its stderr is in Cmd.Stderr.
		return nil, fmt.Errorf("read engine reply: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxResponse {
		return nil, fmt.Errorf("engine reply of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(e.DataPipe, body); err != nil {
		return nil, fmt.Errorf("read engine reply: %w", err)
	}
	return body, nil
}

func (e *Engine) Close() error {
	e.Stdin.Close()
	e.DataPipe.Close()
	if e.Cmd == nil {
		return nil
	}
	return e.Cmd.Wait()
}
