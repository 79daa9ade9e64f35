// SPDX-License-Identifier: GPL-3.0-or-later
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	_ "image/gif"

	"golang.org/x/image/draw"
)

// ReducedSize decides whether an image of w x h pixels needs to be scaled
// down to fit a limit x limit square. When both dimensions already fit, no
// reduction happens. Otherwise the larger dimension is scaled to exactly
// limit, the other one follows the aspect ratio rounded to the nearest
// integer.
func ReducedSize(w, h, limit int) (bool, int, int) {
	if w <= limit && h <= limit {
		return false, 0, 0
	}

	if w >= h {
		return true, limit, roundRatio(h, w, limit)
	}
	return true, roundRatio(w, h, limit), limit
}

func roundRatio(smaller, larger, limit int) int {
	return int(math.Round(float64(smaller) / float64(larger) * float64(limit)))
}

// Reencode decodes content, scales it down to fit within limit x limit when
// necessary and encodes it again. JPEG output uses the given quality, PNG is
// re-encoded as PNG. The returned bytes may well be larger than the input;
// the caller decides whether the new encoding is worth keeping.
func Reencode(content []byte, limit, quality int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}

	bounds := img.Bounds()
	reduced, w, h := ReducedSize(bounds.Dx(), bounds.Dy(), limit)
	if reduced {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	buf := &bytes.Buffer{}
	switch format {
	case "png":
		err = png.Encode(buf, img)
	default:
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, fmt.Errorf("could not encode image: %w", err)
	}

	return buf.Bytes(), nil
}
