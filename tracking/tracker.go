// Package tracking follows corner points of a located template from frame to
// frame with pyramidal optical flow, so the homography can be refined without
// repeating feature matching.
package tracking

import (
	"fmt"
	"image"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"example/planartrack/homography"
	"example/planartrack/internal/pointmat"
)

// Config holds the corner detection and optical flow settings.
type Config struct {
	MaxPoints     int     `yaml:"max_points" mapstructure:"max_points"`         // cap on tracked points
	LostRatio     float64 `yaml:"lost_ratio" mapstructure:"lost_ratio"`         // fallback once more than this share is ever lost
	WindowSize    int     `yaml:"window_size" mapstructure:"window_size"`       // flow and sub-pixel window
	PyramidLevels int     `yaml:"pyramid_levels" mapstructure:"pyramid_levels"` // maximum pyramid level
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Epsilon       float64 `yaml:"epsilon" mapstructure:"epsilon"`
	CornerQuality float64 `yaml:"corner_quality" mapstructure:"corner_quality"`
	MinDistance   float64 `yaml:"min_distance" mapstructure:"min_distance"` // zero means 1.5 × WindowSize
}

// DefaultConfig returns the settings tuned for 320×240 frames.
func DefaultConfig() Config {
	return Config{
		MaxPoints:     40,
		LostRatio:     0.2,
		WindowSize:    7,
		PyramidLevels: 3,
		MaxIterations: 20,
		Epsilon:       0.03,
		CornerQuality: 0.01,
	}
}

func (c Config) minDistance() float64 {
	if c.MinDistance > 0 {
		return c.MinDistance
	}
	return 1.5 * float64(c.WindowSize)
}

func (c Config) termCriteria() gocv.TermCriteria {
	return gocv.NewTermCriteria(gocv.Count|gocv.EPS, c.MaxIterations, c.Epsilon)
}

// Tracker holds the points of one tracking session. Frames and live point
// positions are double buffered: Update writes the current buffers and Commit
// swaps them with the previous ones.
type Tracker struct {
	cfg  Config
	flow Flow

	prevFrame gocv.Mat
	currFrame gocv.Mat
	prevPts   []r2.Point
	currPts   []r2.Point
	template  []r2.Point

	// indices ever reported lost this session; never shrinks until Reset
	lost *roaring.Bitmap
}

// New returns an idle tracker. A nil flow uses PyrLK.
func New(cfg Config, flow Flow) *Tracker {
	if flow == nil {
		flow = NewPyrLK(cfg)
	}
	return &Tracker{
		cfg:       cfg,
		flow:      flow,
		prevFrame: gocv.NewMat(),
		currFrame: gocv.NewMat(),
		lost:      roaring.New(),
	}
}

// Close releases the frame buffers.
func (t *Tracker) Close() {
	t.prevFrame.Close()
	t.currFrame.Close()
}

// Len returns the number of points in the session.
func (t *Tracker) Len() int { return len(t.template) }

// Active reports whether a session is seeded.
func (t *Tracker) Active() bool { return len(t.template) > 0 }

// LostCount returns how many points have been lost since seeding.
func (t *Tracker) LostCount() int { return int(t.lost.GetCardinality()) }

// Points returns the live positions as of the last committed frame and
// whether each is still used for fitting.
func (t *Tracker) Points() ([]r2.Point, []bool) {
	pts := make([]r2.Point, len(t.prevPts))
	copy(pts, t.prevPts)
	ok := make([]bool, len(pts))
	for i := range ok {
		ok[i] = !t.lost.Contains(uint32(i))
	}
	return pts, ok
}

// Reset ends the session.
func (t *Tracker) Reset() {
	t.template = t.template[:0]
	t.prevPts = t.prevPts[:0]
	t.currPts = t.currPts[:0]
	t.lost.Clear()
}

// Seed starts a session on frame. It detects up to MaxPoints corners inside
// the frame-clipped bounding box of the w×ht template's outline under h, and
// keeps those whose back-projection lands inside the template. Seed returns
// the number of points kept. Call Commit once the frame is accepted.
func (t *Tracker) Seed(frame gocv.Mat, h homography.Matrix, w, ht int) (int, error) {
	t.Reset()
	if frame.Empty() {
		return 0, fmt.Errorf("%w: empty frame", ErrNoTrackablePoints)
	}
	inv, err := h.Inverse()
	if err != nil {
		return 0, err
	}

	box := searchBox(h, w, ht, frame.Cols(), frame.Rows())
	if box.Empty() {
		return 0, fmt.Errorf("%w: template outline is outside the frame", ErrNoTrackablePoints)
	}

	corners, err := t.detectCorners(frame, box)
	if err != nil {
		return 0, err
	}

	maxX, maxY := float64(w-1), float64(ht-1)
	for _, p := range corners {
		tp := inv.Project(p)
		if tp.X < 0 || tp.X > maxX || tp.Y < 0 || tp.Y > maxY {
			continue
		}
		t.template = append(t.template, tp)
		t.currPts = append(t.currPts, p)
	}
	if len(t.template) == 0 {
		return 0, fmt.Errorf("%w: no corners inside the template", ErrNoTrackablePoints)
	}

	frame.CopyTo(&t.currFrame)
	return len(t.template), nil
}

// searchBox returns the bounding box of the projected template corners clipped
// to a frameW×frameH frame.
func searchBox(h homography.Matrix, w, ht, frameW, frameH int) image.Rectangle {
	corners := homography.Corners(w, ht)
	var projected []r2.Point
	for _, c := range corners {
		p := h.Project(c)
		if math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		projected = append(projected, p)
	}
	if len(projected) == 0 {
		return image.Rectangle{}
	}

	frameRect := r2.Rect{X: r1.Interval{Lo: 0, Hi: float64(frameW)}, Y: r1.Interval{Lo: 0, Hi: float64(frameH)}}
	clipped := r2.RectFromPoints(projected...).Intersection(frameRect)
	if clipped.IsEmpty() {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(clipped.X.Lo)), int(math.Floor(clipped.Y.Lo)),
		int(math.Ceil(clipped.X.Hi)), int(math.Ceil(clipped.Y.Hi)),
	).Intersect(image.Rect(0, 0, frameW, frameH))
}

// detectCorners finds strong corners in box and refines them to sub-pixel
// accuracy. Results are in frame coordinates.
func (t *Tracker) detectCorners(frame gocv.Mat, box image.Rectangle) ([]r2.Point, error) {
	roi := frame.Region(box)
	defer roi.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	if err := gocv.GoodFeaturesToTrack(roi, &corners, t.cfg.MaxPoints, t.cfg.CornerQuality, t.cfg.minDistance()); err != nil {
		return nil, fmt.Errorf("%w: corner detection: %v", ErrNoTrackablePoints, err)
	}
	if corners.Empty() || corners.Rows() == 0 {
		return nil, fmt.Errorf("%w: no corners in %v", ErrNoTrackablePoints, box)
	}

	win := image.Pt(t.cfg.WindowSize, t.cfg.WindowSize)
	if err := gocv.CornerSubPix(roi, &corners, win, image.Pt(-1, -1), t.cfg.termCriteria()); err != nil {
		return nil, fmt.Errorf("%w: sub-pixel refinement: %v", ErrNoTrackablePoints, err)
	}

	pts := pointmat.ToPoints(corners)
	offset := r2.Point{X: float64(box.Min.X), Y: float64(box.Min.Y)}
	for i := range pts {
		pts[i] = pts[i].Add(offset)
	}
	if len(pts) > t.cfg.MaxPoints {
		pts = pts[:t.cfg.MaxPoints]
	}
	return pts, nil
}

// Update propagates the committed points onto frame and returns the template
// to live pairs of every point never lost this session. It returns
// ErrTrackingLost once more than LostRatio of the points have been lost.
func (t *Tracker) Update(frame gocv.Mat) ([]homography.Pair, error) {
	if !t.Active() {
		return nil, ErrNoTrackablePoints
	}
	frame.CopyTo(&t.currFrame)

	next, status, err := t.flow.Track(t.prevFrame, t.currFrame, t.prevPts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackingLost, err)
	}
	if len(next) != len(t.prevPts) || len(status) != len(t.prevPts) {
		return nil, fmt.Errorf("%w: flow returned %d points for %d", ErrTrackingLost, len(next), len(t.prevPts))
	}
	t.currPts = append(t.currPts[:0], next...)

	for i, ok := range status {
		if !ok {
			t.lost.Add(uint32(i))
		}
	}
	if float64(t.lost.GetCardinality()) > t.cfg.LostRatio*float64(len(t.template)) {
		return nil, fmt.Errorf("%w: %d of %d points lost", ErrTrackingLost, t.lost.GetCardinality(), len(t.template))
	}

	pairs := make([]homography.Pair, 0, len(t.template))
	for i, tp := range t.template {
		if t.lost.Contains(uint32(i)) {
			continue
		}
		pairs = append(pairs, homography.Pair{Template: tp, Live: t.currPts[i]})
	}
	return pairs, nil
}

// Commit makes the current frame and points the previous ones for the next
// Update.
func (t *Tracker) Commit() {
	t.prevFrame, t.currFrame = t.currFrame, t.prevFrame
	t.prevPts, t.currPts = t.currPts, t.prevPts
}
