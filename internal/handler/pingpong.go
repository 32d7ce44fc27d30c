package handler

import (
	"context"
	"image"
)

// PingpongState locates the ball.
type PingpongState struct {
	Found  bool `json:"found"`
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Pixels int  `json:"pixels"`
}

// Pingpong finds the ball as the centroid of near-white pixels.
type Pingpong struct {
	Threshold int
	MinPixels int
}

func NewPingpong() *Pingpong { return &Pingpong{Threshold: 225, MinPixels: 4} }

func (p *Pingpong) Process(_ context.Context, img image.Image) (any, error) {
	b := img.Bounds()
	step := sampleStep(b)
	var sx, sy, n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl := rgb8(img, x, y)
			if r >= p.Threshold && g >= p.Threshold && bl >= p.Threshold {
				sx += x
				sy += y
				n++
			}
		}
	}
	if n < p.MinPixels {
		return PingpongState{Pixels: n}, nil
	}
	return PingpongState{Found: true, X: sx / n, Y: sy / n, Pixels: n}, nil
}

func (p *Pingpong) Close() error { return nil }
