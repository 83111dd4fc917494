package recognition

import (
	"image/color"

	"gocv.io/x/gocv"

	"example/planartrack/homography"
)

var outlineColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}

// DrawOverlay draws the located outline and, while tracking, the tracked
// points onto img, which should be a BGR copy of the last frame.
func (e *Engine) DrawOverlay(img *gocv.Mat) {
	q, ok := e.Outline()

	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		homography.DrawOutline(img, q, outlineColor, 2)
	}
	if e.state == StateTracking {
		e.tracker.Draw(img)
	}
}
