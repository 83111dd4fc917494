// Package homography fits and applies planar projective transforms between a
// template's coordinate space and a live frame.
package homography

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// determinants smaller than this are treated as singular
const singularEpsilon = 1e-10

// Matrix is a 3×3 homography in row-major order.
type Matrix [9]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// FromMat reads a 3×3 CV_64F or CV_32F Mat. It reports false for an empty or
// wrongly shaped Mat.
func FromMat(m gocv.Mat) (Matrix, bool) {
	if m.Empty() || m.Rows() != 3 || m.Cols() != 3 {
		return Matrix{}, false
	}
	var h Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			switch m.Type() {
			case gocv.MatTypeCV64F:
				h[r*3+c] = m.GetDoubleAt(r, c)
			case gocv.MatTypeCV32F:
				h[r*3+c] = float64(m.GetFloatAt(r, c))
			default:
				return Matrix{}, false
			}
		}
	}
	return h, true
}

func (h Matrix) dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, h[:])
	return mat.NewDense(3, 3, data)
}

// Det returns the determinant.
func (h Matrix) Det() float64 {
	return mat.Det(h.dense())
}

// Valid reports whether every entry is finite and the matrix is invertible.
func (h Matrix) Valid() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(h.Det()) > singularEpsilon
}

// Inverse returns the inverse transform.
func (h Matrix) Inverse() (Matrix, error) {
	if !h.Valid() {
		return Matrix{}, ErrDegenerateHomography
	}
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return Matrix{}, ErrDegenerateHomography
	}
	var out Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	return out, nil
}

// Project applies h to p with perspective division. Points mapped to
// infinity come back with infinite coordinates.
func (h Matrix) Project(p r2.Point) r2.Point {
	z := h[6]*p.X + h[7]*p.Y + h[8]
	if z == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / z,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / z,
	}
}

// Transform projects p and rounds to the nearest pixel.
func (h Matrix) Transform(p r2.Point) image.Point {
	q := h.Project(p)
	return image.Pt(roundToInt(q.X), roundToInt(q.Y))
}

func roundToInt(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int(math.Round(v))
}

// Corners returns a w×h template's corners in the order top-left,
// bottom-left, bottom-right, top-right.
func Corners(w, h int) [4]r2.Point {
	fw, fh := float64(w), float64(h)
	return [4]r2.Point{{X: 0, Y: 0}, {X: 0, Y: fh}, {X: fw, Y: fh}, {X: fw, Y: 0}}
}

// Outline maps a w×h template's corners into the live frame.
func (h Matrix) Outline(w, ht int) [4]image.Point {
	var out [4]image.Point
	for i, c := range Corners(w, ht) {
		out[i] = h.Transform(c)
	}
	return out
}

// IsConvexQuad reports whether the closed polygon q is convex, counting sign
// changes of successive edge directions on each axis.
func IsConvexQuad(q []image.Point) bool {
	if len(q) < 3 {
		return false
	}
	sign := func(v int) int {
		if v < 0 {
			return -1
		}
		return 1
	}

	xChanges, yChanges := 0, 0
	a := q[0].Sub(q[1])
	for i := 1; i < len(q); i++ {
		b := q[i].Sub(q[(i+1)%len(q)])
		if sign(a.X) != sign(b.X) {
			xChanges++
		}
		if sign(a.Y) != sign(b.Y) {
			yChanges++
		}
		a = b
	}
	return xChanges <= 2 && yChanges <= 2
}
