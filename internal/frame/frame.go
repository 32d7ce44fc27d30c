// Package frame decodes frames and computes the perceptual-hash utilities
// used to compare consecutive frames.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrUndecodable is returned when raw bytes hold no usable image.
var ErrUndecodable = errors.New("undecodable frame")

// OverlayColor is the colour of the diff annotation.
var OverlayColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}

// Decode turns encoded bytes into an image.
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrUndecodable)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrUndecodable)
	}
	return img, nil
}

// Hash is a 64-bit perceptual (DCT) hash.
type Hash struct {
	h *goimagehash.ImageHash
}

// PerceptualHash fingerprints the visual content of img.
func PerceptualHash(img image.Image) (Hash, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Hash{}, fmt.Errorf("perceptual hash: %w", err)
	}
	return Hash{h: h}, nil
}

// ParseHash reads a hash produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	h, err := goimagehash.ImageHashFromString(s)
	if err != nil {
		return Hash{}, err
	}
	return Hash{h: h}, nil
}

// Bits returns the raw hash value.
func (h Hash) Bits() uint64 {
	if h.h == nil {
		return 0
	}
	return h.h.GetHash()
}

func (h Hash) String() string {
	if h.h == nil {
		return ""
	}
	return h.h.ToString()
}

// Diff is the Hamming distance between two hashes: the number of differing bits.
func Diff(cur, prev Hash) (int, error) {
	if cur.h == nil || prev.h == nil {
		return 0, errors.New("diff of empty hash")
	}
	return cur.h.Distance(prev.h)
}

// Annotate returns a copy of img with text drawn a third of the way across
// and 50 pixels above the bottom edge.
func Annotate(img image.Image, text string) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(OverlayColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(b.Min.X+b.Dx()/3, b.Max.Y-50),
	}
	if b.Dy() < 50+basicfont.Face7x13.Ascent {
		d.Dot = fixed.P(b.Min.X+b.Dx()/3, b.Min.Y+basicfont.Face7x13.Ascent)
	}
	d.DrawString(text)
	return out
}

// FileName is the zero-padded name of the annotated image for a frame index.
func FileName(index int64) string {
	return fmt.Sprintf("%010d.jpg", index)
}

// WriteJPEG encodes img into dir under FileName(index) and returns the path.
func WriteJPEG(dir string, index int64, img image.Image) (string, error) {
	path := filepath.Join(dir, FileName(index))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return path, f.Close()
}
