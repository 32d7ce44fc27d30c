package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func checker(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(32, 24), nil))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	for _, raw := range [][]byte{nil, {0xFF, 0xD8, 0x00, 0xFF, 0xD9}, []byte("nope")} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrUndecodable)
	}
}

func TestPerceptualHashDiff(t *testing.T) {
	a, err := PerceptualHash(gradient(64, 64))
	require.NoError(t, err)
	a2, err := PerceptualHash(gradient(64, 64))
	require.NoError(t, err)
	b, err := PerceptualHash(checker(64, 64, 8))
	require.NoError(t, err)

	d, err := Diff(a, a2)
	require.NoError(t, err)
	assert.Equal(t, 0, d)

	d, err = Diff(b, a)
	require.NoError(t, err)
	assert.Greater(t, d, 0)
	assert.LessOrEqual(t, d, 64)

	// Diff is the popcount of the xor of the raw bits.
	x := a.Bits() ^ b.Bits()
	bits := 0
	for ; x != 0; x &= x - 1 {
		bits++
	}
	assert.Equal(t, bits, d)

	_, err = Diff(Hash{}, a)
	assert.Error(t, err)
}

func TestHashStringRoundTrip(t *testing.T) {
	h, err := PerceptualHash(checker(64, 64, 4))
	require.NoError(t, err)

	back, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h.Bits(), back.Bits())
	assert.Equal(t, "", Hash{}.String())
}

func TestAnnotateDrawsText(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 120, 100))
	out := Annotate(src, "diff=12")

	assert.Equal(t, src.Bounds(), out.Bounds())
	changed := 0
	for y := 0; y < 100; y++ {
		for x := 0; x < 120; x++ {
			if out.RGBAAt(x, y) != src.RGBAAt(x, y) {
				changed++
			}
		}
	}
	assert.Greater(t, changed, 0)
	// The source is untouched.
	assert.Equal(t, color.RGBA{}, src.RGBAAt(50, 50))
}

func TestWriteJPEG(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteJPEG(dir, 42, gradient(16, 16))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "0000000042.jpg"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.NoError(t, err)

	_, err = WriteJPEG(filepath.Join(dir, "missing"), 1, gradient(4, 4))
	assert.Error(t, err)
}
