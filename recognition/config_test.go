package recognition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"example/planartrack/features"
	"example/planartrack/templatedb"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Homography.MinMatches)
	assert.Equal(t, 40, cfg.Tracking.MaxPoints)
	assert.Equal(t, 0.2, cfg.Tracking.LostRatio)
	assert.Equal(t, 0.6, cfg.Matching.Ratio)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
homography:
  min_matches: 12
tracking:
  max_points: "60"
  lost_ratio: 0.3
index:
  trees: 4
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Homography.MinMatches)
	assert.Equal(t, 60, cfg.Tracking.MaxPoints, "weakly typed input")
	assert.Equal(t, 0.3, cfg.Tracking.LostRatio)
	assert.Equal(t, 4, cfg.Index.Trees)

	def := DefaultConfig()
	assert.Equal(t, def.Homography.RansacThreshold, cfg.Homography.RansacThreshold)
	assert.Equal(t, def.Tracking.WindowSize, cfg.Tracking.WindowSize)
	assert.Equal(t, def.Frame, cfg.Frame)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown key", "tracking:\n  max_pointz: 3\n"},
		{"invalid ratio", "matching:\n  ratio: 1.5\n"},
		{"negative cap", "tracking:\n  max_points: -1\n"},
		{"not yaml", "tracking: [\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, c.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracking.LostRatio = 0
	_, err := New(templatedb.New(), nopExtractor{}, WithConfig(cfg))
	assert.ErrorContains(t, err, "tracking.lost_ratio")

	_, err = New(nil, nopExtractor{})
	assert.Error(t, err)
}

type nopExtractor struct{}

func (nopExtractor) Extract(gocv.Mat, features.Profile) features.FeatureSet { return features.FeatureSet{} }
