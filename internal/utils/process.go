// Package utils holds the subprocess and video plumbing shared by commands:
// the ffmpeg/ffprobe wrappers, the MJPEG frame splitter and error reporting.
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// SafeCommand is an exec.Cmd whose stderr is kept in memory, so a crashed
// ffmpeg or analysis engine can be reported with its own logs.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares name with its stderr captured. It is not started.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

const rule = "---------------------------------------------------------"

// ShowError prints the framed error box on stderr.
func ShowError(context string, err error, s *SafeCommand) {
	FprintError(os.Stderr, context, err, s)
}

// FprintError writes the error box to w, followed by the captured stderr of
// s when there is any.
func FprintError(w io.Writer, context string, err error, s *SafeCommand) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n🚨 RMEXP ERROR: %s\n", rule, context)
	if err != nil {
		fmt.Fprintf(&b, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(&b, "\nENGINE LOGS:\n%s\n", bytes.TrimRight(s.Stderr.Bytes(), "\n"))
	}
	fmt.Fprintln(&b, rule)
	io.WriteString(w, b.String())
}
