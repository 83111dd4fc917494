// Package testimg builds synthetic grayscale scenes for tests: textured
// templates, blank frames with a template pasted at an offset, and shifted
// copies for optical flow.
package testimg

import (
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"
)

// Texture returns a w×h image of random gray blocks. The same seed always
// yields the same image.
func Texture(w, h int, block int, seed int64) *image.Gray {
	if block <= 0 {
		block = 1
	}
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < by+block && y < h; y++ {
				for x := bx; x < bx+block && x < w; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return img
}

// Blank returns a uniform w×h frame.
func Blank(w, h int, level uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// Paste copies src into dst with its top-left corner at at. Pixels falling
// outside dst are dropped.
func Paste(dst *image.Gray, src *image.Gray, at image.Point) {
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := image.Pt(x-b.Min.X, y-b.Min.Y).Add(at)
			if p.In(dst.Bounds()) {
				dst.SetGray(p.X, p.Y, src.GrayAt(x, y))
			}
		}
	}
}

// Scene returns a blank w×h frame with tmpl pasted at at.
func Scene(w, h int, tmpl *image.Gray, at image.Point) *image.Gray {
	frame := Blank(w, h, 0)
	Paste(frame, tmpl, at)
	return frame
}

// Mat converts img to a CV_8UC1 Mat. The caller owns the result.
func Mat(img *image.Gray) gocv.Mat {
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		panic(err)
	}
	return m
}
