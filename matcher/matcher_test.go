package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example/planartrack/features"
	"example/planartrack/templatedb"
)

func set(name string, desc ...[]float32) features.FeatureSet {
	kps := make([]features.Keypoint, len(desc))
	return features.FeatureSet{Name: name, Width: 10, Height: 10, Keypoints: kps, Descriptors: desc}
}

func TestRatioTest(t *testing.T) {
	db := templatedb.New()
	require.NoError(t, db.Add(set("a",
		[]float32{0, 0},
		[]float32{10, 0},
		[]float32{0, 10},
	)))
	require.NoError(t, db.Add(set("b",
		[]float32{10, 10},
		[]float32{5.2, 5},
	)))

	m := New(db, DefaultRatio)
	live := set("live",
		[]float32{0.1, 0},  // close to a[0], far from everything else
		[]float32{5.1, 5},  // close to b[1]
		[]float32{5, 0.05}, // b[1], a[0] and a[1] are all about equally far: rejected
		[]float32{10, 9.9}, // close to b[0]
	)
	corrs, err := m.Match(live)
	require.NoError(t, err)

	assert.Equal(t, []Correspondence{
		{Live: 0, Global: 0},
		{Live: 1, Global: 4},
		{Live: 3, Global: 3},
	}, corrs)
}

func TestMatchEmptyInputs(t *testing.T) {
	db := templatedb.New()
	m := New(db, 0)

	corrs, err := m.Match(features.FeatureSet{})
	assert.NoError(t, err)
	assert.Empty(t, corrs)

	_, err = m.Match(set("live", []float32{1, 2}))
	assert.ErrorIs(t, err, templatedb.ErrIndexNotBuilt)
}

func TestMatchBuildsIndexLazily(t *testing.T) {
	db := templatedb.New()
	require.NoError(t, db.Add(set("a", []float32{0, 0}, []float32{9, 9})))
	require.False(t, db.Indexed())

	corrs, err := New(db, DefaultRatio).Match(set("live", []float32{9, 9}))
	require.NoError(t, err)
	assert.True(t, db.Indexed())
	assert.Equal(t, []Correspondence{{Live: 0, Global: 1}}, corrs)
}
