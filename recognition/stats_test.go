package recognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsAverageOnlyLocatedDetections(t *testing.T) {
	var s Stats
	s.addRecognition(10*time.Millisecond, 40, true)
	s.addRecognition(500*time.Millisecond, 3, false)
	s.addRecognition(30*time.Millisecond, 60, true)

	assert.Equal(t, 3, s.Recognitions)
	assert.Equal(t, 2, s.Located)
	assert.Equal(t, 20*time.Millisecond, s.AverageLatency)
	assert.InDelta(t, 50, s.AverageMatches, 1e-9)
}
