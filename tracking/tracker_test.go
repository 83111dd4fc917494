package tracking

import (
	"errors"
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"example/planartrack/homography"
	"example/planartrack/internal/testimg"
)

const tmplW, tmplH = 120, 90

// scriptedFlow moves every point by shift and reports the indices in the
// current step's lose list as lost.
type scriptedFlow struct {
	shift r2.Point
	lose  [][]int
	calls int
	err   error
}

func (f *scriptedFlow) Track(_, _ gocv.Mat, pts []r2.Point) ([]r2.Point, []bool, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make([]r2.Point, len(pts))
	status := make([]bool, len(pts))
	for i, p := range pts {
		out[i] = p.Add(f.shift)
		status[i] = true
	}
	if f.calls < len(f.lose) {
		for _, i := range f.lose[f.calls] {
			status[i] = false
		}
	}
	f.calls++
	return out, status, nil
}

func sceneAt(t *testing.T, at image.Point) gocv.Mat {
	t.Helper()
	m := testimg.Mat(testimg.Scene(320, 240, testimg.Texture(tmplW, tmplH, 6, 21), at))
	t.Cleanup(func() { m.Close() })
	return m
}

func translation(at image.Point) homography.Matrix {
	return homography.Matrix{1, 0, float64(at.X), 0, 1, float64(at.Y), 0, 0, 1}
}

func seeded(t *testing.T, flow Flow) (*Tracker, int) {
	t.Helper()
	at := image.Pt(100, 70)
	tr := New(DefaultConfig(), flow)
	t.Cleanup(tr.Close)
	n, err := tr.Seed(sceneAt(t, at), translation(at), tmplW, tmplH)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 10, "textured template should give plenty of corners")
	tr.Commit()
	return tr, n
}

func TestSeedKeepsPointsInsideTemplate(t *testing.T) {
	at := image.Pt(100, 70)
	tr := New(DefaultConfig(), nil)
	defer tr.Close()

	n, err := tr.Seed(sceneAt(t, at), translation(at), tmplW, tmplH)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, DefaultConfig().MaxPoints)
	assert.Equal(t, n, tr.Len())
	assert.Zero(t, tr.LostCount())

	tr.Commit()
	pts, ok := tr.Points()
	require.Len(t, pts, n)
	for i, p := range pts {
		assert.True(t, ok[i])
		tp := r2.Point{X: p.X - float64(at.X), Y: p.Y - float64(at.Y)}
		assert.True(t, tp.X >= 0 && tp.X <= tmplW-1 && tp.Y >= 0 && tp.Y <= tmplH-1, "point %v outside template", tp)
		assert.InDelta(t, tr.template[i].X, tp.X, 1e-6)
		assert.InDelta(t, tr.template[i].Y, tp.Y, 1e-6)
	}
}

func TestSeedFailures(t *testing.T) {
	tr := New(DefaultConfig(), nil)
	defer tr.Close()
	frame := sceneAt(t, image.Pt(100, 70))

	_, err := tr.Seed(frame, translation(image.Pt(1000, 1000)), tmplW, tmplH)
	assert.ErrorIs(t, err, ErrNoTrackablePoints, "outline outside the frame")

	blank := testimg.Mat(testimg.Blank(320, 240, 0))
	defer blank.Close()
	_, err = tr.Seed(blank, translation(image.Pt(100, 70)), tmplW, tmplH)
	assert.ErrorIs(t, err, ErrNoTrackablePoints, "nothing to track")

	_, err = tr.Seed(frame, homography.Matrix{}, tmplW, tmplH)
	assert.ErrorIs(t, err, homography.ErrDegenerateHomography)
	assert.False(t, tr.Active())
}

func TestUpdateFollowsShiftedTemplate(t *testing.T) {
	tr, n := seeded(t, nil)

	pairs, err := tr.Update(sceneAt(t, image.Pt(103, 72)))
	require.NoError(t, err)

	near := 0
	for _, p := range pairs {
		d := p.Live.Sub(p.Template)
		if d.Sub(r2.Point{X: 103, Y: 72}).Norm() < 0.5 {
			near++
		}
	}
	assert.GreaterOrEqual(t, near, (n*8)/10, "most points should follow the 3,2 pixel shift")

	h, err := homography.NewEstimator(homography.DefaultConfig()).EstimateRefinement(pairs)
	require.NoError(t, err)
	assert.InDelta(t, 103, h[2], 0.5)
	assert.InDelta(t, 72, h[5], 0.5)
}

func TestLostPointsAreNeverReinstated(t *testing.T) {
	flow := &scriptedFlow{lose: [][]int{{0}, {}}}
	tr, n := seeded(t, flow)
	frame := sceneAt(t, image.Pt(100, 70))

	for step := 0; step < 2; step++ {
		pairs, err := tr.Update(frame)
		require.NoError(t, err, "step %d", step)
		assert.Len(t, pairs, n-1, "step %d", step)
		assert.Equal(t, 1, tr.LostCount())
		tr.Commit()
	}

	_, ok := tr.Points()
	assert.False(t, ok[0])
}

func TestLossBeyondRatio(t *testing.T) {
	tr, n := seeded(t, nil)
	limit := int(DefaultConfig().LostRatio * float64(n))

	// lose exactly the allowed number first, then one more on the next frame
	allowed := make([]int, limit)
	for i := range allowed {
		allowed[i] = i
	}
	tr.flow = &scriptedFlow{lose: [][]int{allowed, {limit}}}
	frame := sceneAt(t, image.Pt(100, 70))

	_, err := tr.Update(frame)
	require.NoError(t, err)
	tr.Commit()

	_, err = tr.Update(frame)
	assert.ErrorIs(t, err, ErrTrackingLost)
	assert.Equal(t, limit+1, tr.LostCount())

	tr.Reset()
	assert.Zero(t, tr.LostCount())
	assert.False(t, tr.Active())
	_, err = tr.Update(frame)
	assert.ErrorIs(t, err, ErrNoTrackablePoints)
}

func TestCommitRotatesBuffers(t *testing.T) {
	flow := &scriptedFlow{shift: r2.Point{X: 1, Y: 0}}
	tr, _ := seeded(t, flow)
	before, _ := tr.Points()

	frame := sceneAt(t, image.Pt(101, 70))
	_, err := tr.Update(frame)
	require.NoError(t, err)

	uncommitted, _ := tr.Points()
	assert.Equal(t, before, uncommitted, "points move only on commit")

	tr.Commit()
	after, _ := tr.Points()
	for i := range after {
		assert.InDelta(t, before[i].X+1, after[i].X, 1e-9)
	}

	_, err = tr.Update(frame)
	require.NoError(t, err)
	tr.Commit()
	again, _ := tr.Points()
	assert.InDelta(t, before[0].X+2, again[0].X, 1e-9, "each update starts from the committed points")
}

func TestFlowErrorIsTrackingLoss(t *testing.T) {
	tr, _ := seeded(t, &scriptedFlow{err: errors.New("boom")})
	_, err := tr.Update(sceneAt(t, image.Pt(100, 70)))
	assert.ErrorIs(t, err, ErrTrackingLost)
}

func TestSeedReportsOpenCVErrors(t *testing.T) {
	tr := New(DefaultConfig(), nil)
	defer tr.Close()

	// corner detection only accepts 8-bit or 32-bit float images
	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV64F)
	defer frame.Close()
	_, err := tr.Seed(frame, translation(image.Pt(100, 70)), tmplW, tmplH)
	require.ErrorIs(t, err, ErrNoTrackablePoints)
	assert.Contains(t, err.Error(), "corner detection")
	assert.False(t, tr.Active())
}

func TestPyrLKReportsOpenCVErrors(t *testing.T) {
	small := testimg.Mat(testimg.Blank(160, 120, 0))
	defer small.Close()

	_, _, err := NewPyrLK(DefaultConfig()).Track(sceneAt(t, image.Pt(100, 70)), small, []r2.Point{{X: 50, Y: 50}})
	assert.Error(t, err, "frames of different sizes")

	// the real flow failing mid-session ends tracking
	tr, _ := seeded(t, nil)
	_, err = tr.Update(small)
	assert.ErrorIs(t, err, ErrTrackingLost)
}
