package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// JPEG markers delimiting one frame in an image2pipe stream.
var (
	JpegSOI = []byte{0xFF, 0xD8}
	JpegEOI = []byte{0xFF, 0xD9}
)

// probeStreams is the part of ffprobe's JSON output we read.
type probeStreams struct {
	Streams []map[string]string `json:"streams"`
}

// probeCount runs ffprobe for one integer field of the first video stream.
func probeCount(ctx context.Context, path, field string, extra ...string) (int, error) {
	args := append([]string{"-v", "error", "-select_streams", "v:0"}, extra...)
	args = append(args, "-show_entries", "stream="+field, "-of", "json", path)
	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return 0, err
	}
	var res probeStreams
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, err
	}
	if len(res.Streams) == 0 {
		return 0, fmt.Errorf("%s has no video stream", path)
	}
	return strconv.Atoi(res.Streams[0][field])
}

// GetTotalFrames asks ffprobe for the frame count of path, for progress
// bars. The container's nb_frames is tried first, then a packet count.
// Zero means unknown.
func GetTotalFrames(ctx context.Context, path string) int {
	log := logrus.WithFields(logrus.Fields{"component": "ffprobe", "path": path})
	if _, err := exec.LookPath("ffprobe"); err != nil {
		log.Warn("ffprobe not found, progress will not show a total")
		return 0
	}

	if n, err := probeCount(ctx, path, "nb_frames"); err == nil && n > 0 {
		return n
	}
	log.Info("Container has no frame count, counting packets")
	n, err := probeCount(ctx, path, "nb_read_packets", "-count_packets")
	if err != nil {
		log.WithError(err).Warn("ffprobe failed")
		return 0
	}
	return n
}

// SplitJpeg is a bufio.SplitFunc yielding one SOI..EOI span per token.
// Bytes before the first SOI are skipped.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd decodes inputPath into MJPEG frames on stdout. ffmpeg only
// logs errors, which land in the command's Stderr buffer.
func NewFFmpegCmd(ctx context.Context, inputPath string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// GenerateRunID fingerprints an input by path, size and modification time.
// Re-running on an unchanged file yields the same id.
func GenerateRunID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:]), nil
}

// TraceName is the trace label of an input: its parent directory's name.
func TraceName(path string) string {
	return filepath.Base(filepath.Dir(path))
}
