package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFprintError(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "true")
	cmd.Stderr.WriteString("decoder exploded\n")

	var out strings.Builder
	FprintError(&out, "Batch run failed", errors.New("exit status 1"), cmd)

	for _, want := range []string{"RMEXP ERROR: Batch run failed", "DETAILS: exit status 1", "ENGINE LOGS:\ndecoder exploded\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestFprintErrorWithoutLogs(t *testing.T) {
	var out strings.Builder
	FprintError(&out, "Failed to list experiments", nil, nil)

	if strings.Contains(out.String(), "ENGINE LOGS") || strings.Contains(out.String(), "DETAILS") {
		t.Errorf("unexpected sections:\n%s", out.String())
	}
}
