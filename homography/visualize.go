package homography

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// DrawOutline draws the closed quadrilateral q on img.
func DrawOutline(img *gocv.Mat, q [4]image.Point, c color.RGBA, thickness int) {
	for i := range q {
		gocv.Line(img, q[i], q[(i+1)%len(q)], c, thickness)
	}
}
