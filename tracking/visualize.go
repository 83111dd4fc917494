package tracking

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	trackedColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	lostColor    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Draw marks the committed points on img: filled green for points still
// used in fitting, hollow red for points lost this session.
func (t *Tracker) Draw(img *gocv.Mat) {
	pts, ok := t.Points()
	for i, p := range pts {
		pt := image.Pt(int(p.X+0.5), int(p.Y+0.5))
		if ok[i] {
			gocv.Circle(img, pt, 2, trackedColor, -1)
		} else {
			gocv.Circle(img, pt, 3, lostColor, 1)
		}
	}
}
