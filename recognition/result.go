package recognition

import (
	"image"

	"example/planartrack/homography"
)

// Result is the outcome of one frame, read under a single lock so that its
// fields always describe the same frame.
type Result struct {
	Located      bool
	State        State // mode for the next frame
	Homography   homography.Matrix
	Template     int // -1 unless located
	TemplateName string
	Outline      [4]image.Point
	Convex       bool // Outline is a convex quadrilateral
	Err          error
}
