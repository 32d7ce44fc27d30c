// Package handler holds the per-frame analysis capability. Each experiment
// application is one variant of Handler, chosen once at startup.
package handler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
)

// ErrUnknownApp is returned by New for a name outside the supported set.
var ErrUnknownApp = errors.New("unknown application")

// Handler analyses one decoded frame. The result must be JSON-serializable.
type Handler interface {
	Process(ctx context.Context, img image.Image) (any, error)
	Close() error
}

// Options configure handler selection.
type Options struct {
	// Engine, when non-empty, is the command line of an external analysis
	// process used instead of the built-in analyzer.
	Engine []string
}

var builtins = map[string]func() Handler{
	"lego":     func() Handler { return NewLego() },
	"pingpong": func() Handler { return NewPingpong() },
	"pool":     func() Handler { return NewPool() },
}

// Apps lists the supported application names.
func Apps() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the handler for app.
func New(ctx context.Context, app string, opts Options) (Handler, error) {
	build, ok := builtins[app]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownApp, app, Apps())
	}
	if len(opts.Engine) > 0 {
		return StartEngine(ctx, app, opts.Engine)
	}
	return build(), nil
}

// sampleStep keeps pixel scans to roughly 320 columns wide.
func sampleStep(b image.Rectangle) int {
	if step := b.Dx() / 320; step > 1 {
		return step
	}
	return 1
}

func rgb8(img image.Image, x, y int) (r, g, b int) {
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return int(cr >> 8), int(cg >> 8), int(cb >> 8)
}
