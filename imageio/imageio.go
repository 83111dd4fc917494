// Package imageio loads, prepares and writes the 8-bit grayscale frames the
// engine works on.
package imageio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/gift"
	"gocv.io/x/gocv"
)

// Decode reads a PNG or JPEG image.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// LoadGray reads an image file as a CV_8UC1 Mat at its original size.
func LoadGray(path string) (gocv.Mat, error) {
	img, err := Decode(path)
	if err != nil {
		return gocv.NewMat(), err
	}
	return GrayToMat(toGray(img, gift.New(gift.Grayscale())))
}

// PrepareFrame converts a camera image to grayscale and, if its size differs,
// resizes it to w×h with cubic resampling.
func PrepareFrame(img image.Image, w, h int) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("nil image")
	}
	g := gift.New(gift.Grayscale())
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		g.Add(gift.Resize(w, h, gift.CubicResampling))
	}
	return GrayToMat(toGray(img, g))
}

func toGray(img image.Image, g *gift.GIFT) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && len(g.Filters) == 1 {
		return gray
	}
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// GrayToMat copies img into a new CV_8UC1 Mat.
func GrayToMat(img *image.Gray) (gocv.Mat, error) {
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	return m, nil
}

// ResizeGray returns src resized to w×h with cubic interpolation. The caller
// owns the result.
func ResizeGray(src gocv.Mat, w, h int) gocv.Mat {
	if src.Cols() == w && src.Rows() == h {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationCubic)
	return dst
}

// SaveGray writes m to path; the format follows the extension.
func SaveGray(path string, m gocv.Mat) error {
	if m.Empty() {
		return fmt.Errorf("nothing to save to %s: empty image", path)
	}
	if !gocv.IMWrite(path, m) {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}

// ListFrames returns the PNG and JPEG files in dir in name order.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
