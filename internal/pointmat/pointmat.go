// Package pointmat converts between point slices and the N×2 float32 Mats
// that OpenCV's geometry and optical flow functions take.
package pointmat

import (
	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

// FromPoints returns an N×2 CV_32F Mat. The caller must Close it.
func FromPoints(pts []r2.Point) gocv.Mat {
	if len(pts) == 0 {
		return gocv.NewMat()
	}
	m := gocv.NewMatWithSize(len(pts), 2, gocv.MatTypeCV32F)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

// ToPoints reads points from either an N×1 two-channel Mat or an N×2
// single-channel Mat.
func ToPoints(m gocv.Mat) []r2.Point {
	if m.Empty() {
		return nil
	}
	pts := make([]r2.Point, m.Rows())
	for i := range pts {
		if m.Channels() == 2 {
			v := m.GetVecfAt(i, 0)
			pts[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
		} else {
			pts[i] = r2.Point{X: float64(m.GetFloatAt(i, 0)), Y: float64(m.GetFloatAt(i, 1))}
		}
	}
	return pts
}

// Status reads a CV_8U status column as booleans. Missing rows read as false.
func Status(m gocv.Mat, n int) []bool {
	out := make([]bool, n)
	if m.Empty() {
		return out
	}
	for i := 0; i < n && i < m.Rows(); i++ {
		out[i] = m.GetUCharAt(i, 0) != 0
	}
	return out
}
