package utils

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestGenerateRunID(t *testing.T) {
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateRunID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateRunID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateRunID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateRunID("/nonexistent/file.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestTraceName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/data/traces/lego-1/video.mp4", "lego-1"},
		{"video.mp4", "."},
		{"clips/pool/a.mkv", "pool"},
	}
	for _, tt := range tests {
		if got := TraceName(tt.path); got != tt.want {
			t.Errorf("TraceName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNewFFmpegCmdCapturesStderr(t *testing.T) {
	cmd := NewFFmpegCmd(context.Background(), "in.mp4")
	if cmd.Cmd.Stderr != cmd.Stderr {
		t.Fatal("ffmpeg stderr is not routed to the capture buffer")
	}
	args := strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "-i in.mp4 -f image2pipe -vcodec mjpeg -") {
		t.Errorf("unexpected ffmpeg arguments: %s", args)
	}
}
