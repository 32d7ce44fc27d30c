package handler

import (
	"context"
	"image"
)

// PoolState describes how much of the frame is table felt and where.
type PoolState struct {
	Felt float64 `json:"felt"`
	// Table is [x0, y0, x1, y1] of the felt, empty when none is visible.
	Table []int `json:"table,omitempty"`
}

// Pool measures felt coverage of a pool table.
type Pool struct {
	Margin int
}

func NewPool() *Pool { return &Pool{Margin: 20} }

func (p *Pool) Process(_ context.Context, img image.Image) (any, error) {
	b := img.Bounds()
	step := sampleStep(b)
	x0, y0, x1, y1 := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	var felt, total int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			total++
			r, g, bl := rgb8(img, x, y)
			if g <= r+p.Margin || g <= bl+p.Margin {
				continue
			}
			felt++
			x0, y0 = min(x0, x), min(y0, y)
			x1, y1 = max(x1, x), max(y1, y)
		}
	}
	if total == 0 || felt == 0 {
		return PoolState{}, nil
	}
	return PoolState{
		Felt:  float64(felt) / float64(total),
		Table: []int{x0, y0, x1, y1},
	}, nil
}

func (p *Pool) Close() error { return nil }
