package templatedb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example/planartrack/features"
)

func makeTemplate(name string, n, dim int, seed int64) features.FeatureSet {
	desc := randomData(n, dim, seed)
	kps := make([]features.Keypoint, n)
	for i := range kps {
		kps[i] = features.Keypoint{X: float64(i), Y: float64(2 * i), Scale: 3.5, Orientation: 90}
	}
	return features.FeatureSet{Name: name, Width: 100, Height: 80, Keypoints: kps, Descriptors: desc}
}

func TestAddAndResolve(t *testing.T) {
	db := New()
	require.NoError(t, db.Add(makeTemplate("a", 10, 8, 1)))
	require.NoError(t, db.Add(makeTemplate("b", 15, 8, 2)))
	assert.Equal(t, 2, db.Len())
	assert.Equal(t, 25, db.DescriptorCount())
	assert.Equal(t, 8, db.Dimension())

	cases := []struct {
		global, template, local int
	}{
		{0, 0, 0},
		{9, 0, 9},
		{10, 1, 0},
		{24, 1, 14},
	}
	for _, c := range cases {
		tmpl, local, ok := db.Resolve(c.global)
		require.True(t, ok)
		assert.Equal(t, c.template, tmpl, "global %d", c.global)
		assert.Equal(t, c.local, local, "global %d", c.global)
	}

	_, _, ok := db.Resolve(25)
	assert.False(t, ok)
	_, _, ok = db.Resolve(-1)
	assert.False(t, ok)
}

func TestAddRejectsMismatchedDescriptorLength(t *testing.T) {
	db := New()
	require.NoError(t, db.Add(makeTemplate("a", 5, 8, 1)))
	err := db.Add(makeTemplate("b", 5, 16, 2))
	assert.ErrorIs(t, err, ErrDescriptorLength)
	assert.Equal(t, 1, db.Len())
}

func TestIndexInvalidatedOnMutation(t *testing.T) {
	db := New()
	require.NoError(t, db.Add(makeTemplate("a", 20, 8, 1)))
	assert.False(t, db.Indexed())

	db.BuildIndex()
	assert.True(t, db.Indexed())

	require.NoError(t, db.Add(makeTemplate("b", 20, 8, 2)))
	assert.False(t, db.Indexed())

	b := db.Template(1)
	res, err := db.Search([][]float32{b.Descriptors[3]}, 2)
	require.NoError(t, err)
	assert.True(t, db.Indexed(), "search builds the index lazily")
	tmpl, local, ok := db.Resolve(res[0][0].Index)
	require.True(t, ok)
	assert.Equal(t, 1, tmpl)
	assert.Equal(t, 3, local)
}

func TestSearchEmptyAndReset(t *testing.T) {
	db := New()
	_, err := db.Search([][]float32{{1, 2}}, 2)
	assert.ErrorIs(t, err, ErrIndexNotBuilt)

	db.BuildIndex()
	assert.False(t, db.Indexed(), "building an empty database is a no-op")

	require.NoError(t, db.Add(makeTemplate("a", 20, 8, 1)))
	db.BuildIndex()
	db.Reset()
	assert.Zero(t, db.Len())
	assert.Zero(t, db.Dimension())
	assert.False(t, db.Indexed())
	_, err = db.Search([][]float32{{1, 2}}, 2)
	assert.ErrorIs(t, err, ErrIndexNotBuilt)

	require.NoError(t, db.Add(makeTemplate("c", 5, 4, 3)), "dimension is free again after reset")
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := makeTemplate("poster.png", 12, 64, 7)

	for _, ext := range []string{RecordExt, RecordExtZstd, RecordExtLZ4} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "poster"+ext)
			require.NoError(t, SaveRecord(path, want))

			got, err := LoadRecord(path)
			require.NoError(t, err)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Width, got.Width)
			assert.Equal(t, want.Height, got.Height)
			assert.Equal(t, want.Keypoints, got.Keypoints)
			assert.Equal(t, want.Descriptors, got.Descriptors)
		})
	}
}

func TestLoadRecordRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nkeypoints:\n  - {x: 1, y: 2}\ndescriptors: []\n"), 0o644))

	_, err := LoadRecord(path)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, path, recErr.Path)

	_, err = LoadRecord(filepath.Join(dir, "missing.yaml"))
	assert.ErrorAs(t, err, &recErr)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveRecord(filepath.Join(dir, "b"+RecordExtZstd), makeTemplate("b", 10, 8, 2)))
	require.NoError(t, SaveRecord(filepath.Join(dir, "a"+RecordExt), makeTemplate("a", 10, 8, 1)))
	require.NoError(t, SaveRecord(filepath.Join(dir, "c"+RecordExt), makeTemplate("c", 10, 16, 3)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d"+RecordExt), []byte("::not yaml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	db := New()
	n, err := db.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "mismatched and malformed records are skipped")
	require.Equal(t, 2, db.Len())
	assert.Equal(t, "a", db.Template(0).Name)
	assert.Equal(t, "b", db.Template(1).Name)
	assert.True(t, db.Indexed())

	_, err = New().LoadDir(context.Background(), filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
