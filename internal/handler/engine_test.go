package handler

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCloser lets in-memory buffers stand in for the engine pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func reply(t *testing.T, pipe *MockCloser, payload string) {
	t.Helper()
	require.NoError(t, binary.Write(pipe, binary.BigEndian, uint32(len(payload))))
	pipe.WriteString(payload)
}

func TestEngineProcess(t *testing.T) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	reply(t, data, `{"grid":[[1,2]]}`)

	e := &Engine{App: "lego", Stdin: stdin, DataPipe: data}
	out, err := e.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)

	raw, ok := out.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"grid":[[1,2]]}`, string(raw))

	sent := stdin.Bytes()
	require.Greater(t, len(sent), 4)
	n := binary.BigEndian.Uint32(sent[:4])
	assert.Equal(t, int(n), len(sent)-4)
	assert.Equal(t, []byte{0xFF, 0xD8}, sent[4:6], "frame is sent as JPEG")
}

func TestEngineProcess_Error(t *testing.T) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	reply(t, data, `{"error":"model not loaded"}`)

	e := &Engine{App: "pool", Stdin: stdin, DataPipe: data}
	_, err := e.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	assert.Equal(t, "pool engine error: model not loaded", err.Error())
}

func TestEngineProcess_Truncated(t *testing.T) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	require.NoError(t, binary.Write(data, binary.BigEndian, uint32(10)))
	data.WriteString("{}")

	e := &Engine{App: "pingpong", Stdin: stdin, DataPipe: data}
	_, err := e.Process(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.Error(t, err)
}
