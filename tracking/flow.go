package tracking

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"example/planartrack/internal/pointmat"
)

// Flow propagates points from one frame to the next. The returned slices are
// parallel to pts; a false status marks a point the flow could not follow.
type Flow interface {
	Track(prev, next gocv.Mat, pts []r2.Point) ([]r2.Point, []bool, error)
}

// PyrLK is pyramidal Lucas-Kanade optical flow.
type PyrLK struct {
	window   image.Point
	levels   int
	criteria gocv.TermCriteria
}

// NewPyrLK returns a Flow using cfg's window, pyramid depth and termination
// criteria.
func NewPyrLK(cfg Config) *PyrLK {
	return &PyrLK{
		window:   image.Pt(cfg.WindowSize, cfg.WindowSize),
		levels:   cfg.PyramidLevels,
		criteria: cfg.termCriteria(),
	}
}

// Track runs CalcOpticalFlowPyrLK from prev to next.
func (f *PyrLK) Track(prev, next gocv.Mat, pts []r2.Point) ([]r2.Point, []bool, error) {
	if prev.Empty() || next.Empty() {
		return nil, nil, fmt.Errorf("optical flow needs two frames")
	}
	if len(pts) == 0 {
		return nil, nil, nil
	}
	prevPts := pointmat.FromPoints(pts)
	defer prevPts.Close()
	nextPts := gocv.NewMat()
	defer nextPts.Close()
	statusMat := gocv.NewMat()
	defer statusMat.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	if err := gocv.CalcOpticalFlowPyrLKWithParams(prev, next, prevPts, nextPts, &statusMat, &errMat,
		f.window, f.levels, f.criteria, 0, 1e-4); err != nil {
		return nil, nil, fmt.Errorf("optical flow: %w", err)
	}

	out := pointmat.ToPoints(nextPts)
	if len(out) != len(pts) {
		return nil, nil, fmt.Errorf("optical flow returned %d points for %d", len(out), len(pts))
	}
	return out, pointmat.Status(statusMat, len(pts)), nil
}
