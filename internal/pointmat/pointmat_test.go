package pointmat

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestPointsRoundTrip(t *testing.T) {
	pts := []r2.Point{{X: 1.5, Y: 2}, {X: 300, Y: 0.25}}
	m := FromPoints(pts)
	defer m.Close()
	require.Equal(t, 2, m.Rows())
	assert.Equal(t, pts, ToPoints(m))

	empty := FromPoints(nil)
	defer empty.Close()
	assert.True(t, empty.Empty())
	assert.Nil(t, ToPoints(empty))
}

func TestToPointsTwoChannel(t *testing.T) {
	m := gocv.NewMatWithSize(2, 1, gocv.MatTypeCV32FC2)
	defer m.Close()
	m.SetFloatAt(0, 0, 3)
	m.SetFloatAt(0, 1, 4)
	m.SetFloatAt(1, 0, 5)
	m.SetFloatAt(1, 1, 6)
	assert.Equal(t, []r2.Point{{X: 3, Y: 4}, {X: 5, Y: 6}}, ToPoints(m))
}

func TestStatus(t *testing.T) {
	m := gocv.NewMatWithSize(2, 1, gocv.MatTypeCV8U)
	defer m.Close()
	m.SetUCharAt(0, 0, 1)
	m.SetUCharAt(1, 0, 0)
	assert.Equal(t, []bool{true, false, false}, Status(m, 3))

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Equal(t, []bool{false}, Status(empty, 1))
}
