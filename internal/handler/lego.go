package handler

import (
	"context"
	"image"
)

// Lego colour codes, in palette order.
const (
	LegoWhite = iota
	LegoGreen
	LegoYellow
	LegoRed
	LegoBlue
	LegoBlack
)

var legoPalette = [][3]int{
	LegoWhite:  {235, 235, 235},
	LegoGreen:  {40, 150, 60},
	LegoYellow: {230, 200, 40},
	LegoRed:    {200, 40, 40},
	LegoBlue:   {40, 70, 190},
	LegoBlack:  {25, 25, 25},
}

// LegoState is the board read as a grid of palette codes.
type LegoState struct {
	Grid [][]int `json:"grid"`
}

// Lego reads the assembly board as a coarse colour grid.
type Lego struct {
	Rows, Cols int
}

func NewLego() *Lego { return &Lego{Rows: 6, Cols: 8} }

func (l *Lego) Process(_ context.Context, img image.Image) (any, error) {
	b := img.Bounds()
	step := sampleStep(b)
	grid := make([][]int, l.Rows)
	for r := 0; r < l.Rows; r++ {
		grid[r] = make([]int, l.Cols)
		for c := 0; c < l.Cols; c++ {
			cell := image.Rect(
				b.Min.X+c*b.Dx()/l.Cols, b.Min.Y+r*b.Dy()/l.Rows,
				b.Min.X+(c+1)*b.Dx()/l.Cols, b.Min.Y+(r+1)*b.Dy()/l.Rows,
			)
			grid[r][c] = nearestLego(meanColor(img, cell, step))
		}
	}
	return LegoState{Grid: grid}, nil
}

func (l *Lego) Close() error { return nil }

func meanColor(img image.Image, cell image.Rectangle, step int) [3]int {
	var sum [3]int
	n := 0
	for y := cell.Min.Y; y < cell.Max.Y; y += step {
		for x := cell.Min.X; x < cell.Max.X; x += step {
			r, g, b := rgb8(img, x, y)
			sum[0] += r
			sum[1] += g
			sum[2] += b
			n++
		}
	}
	if n == 0 {
		return sum
	}
	return [3]int{sum[0] / n, sum[1] / n, sum[2] / n}
}

func nearestLego(c [3]int) int {
	best, bestDist := 0, -1
	for code, p := range legoPalette {
		d := 0
		for i := range p {
			diff := c[i] - p[i]
			d += diff * diff
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = code, d
		}
	}
	return best
}
