// SPDX-License-Identifier: GPL-3.0-or-later
package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReducedSize(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		limit   int
		reduced bool
		w2, h2  int
	}{
		{"fits", 500, 500, 600, false, 0, 0},
		{"fitsexactly", 400, 400, 400, false, 0, 0},
		{"square", 500, 500, 400, true, 400, 400},
		{"landscape", 600, 500, 400, true, 400, 333},
		{"portrait", 600, 800, 400, true, 300, 400},
		{"onlywidthover", 600, 300, 400, true, 400, 200},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reduced, w2, h2 := ReducedSize(tc.w, tc.h, tc.limit)
			assert.Equal(t, tc.reduced, reduced)
			assert.Equal(t, tc.w2, w2)
			assert.Equal(t, tc.h2, h2)
		})
	}
}

func TestReducedSizeAspectRatio(t *testing.T) {
	// The larger dimension must land exactly on the limit, the other one
	// within a rounding unit of the exact ratio.
	for _, size := range [][2]int{{1500, 1100}, {2048, 333}, {1025, 1024}, {700, 2100}} {
		reduced, w2, h2 := ReducedSize(size[0], size[1], 1024)
		assert.True(t, reduced)
		if size[0] >= size[1] {
			assert.Equal(t, 1024, w2)
			exact := float64(size[1]) / float64(size[0]) * 1024
			assert.InDelta(t, exact, float64(h2), 0.5)
		} else {
			assert.Equal(t, 1024, h2)
			exact := float64(size[0]) / float64(size[1]) * 1024
			assert.InDelta(t, exact, float64(w2), 0.5)
		}
	}
}

func testJpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 95})
	assert.NoError(t, err)
	return buf.Bytes()
}

func TestReencodeScalesDown(t *testing.T) {
	content := testJpeg(t, 1600, 1200)

	out, err := Reencode(content, 1024, 75)
	assert.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1024, img.Bounds().Dx())
	assert.Equal(t, 768, img.Bounds().Dy())
}

func TestReencodeKeepsSmallDimensions(t *testing.T) {
	content := testJpeg(t, 200, 100)

	out, err := Reencode(content, 1024, 75)
	assert.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestReencodeRejectsGarbage(t *testing.T) {
	_, err := Reencode([]byte("not an image"), 1024, 75)
	assert.Error(t, err)
}
