package recognition

import "time"

// Stats are running diagnostics. They have no effect on recognition.
type Stats struct {
	Recognitions   int           `json:"recognitions"`    // detection attempts that reached matching
	Located        int           `json:"located"`         // detections that produced a homography
	AverageLatency time.Duration `json:"average_latency"` // mean time of located detections
	AverageMatches float64       `json:"average_matches"` // mean correspondences of located detections
	TrackedFrames  int           `json:"tracked_frames"`
	Fallbacks      int           `json:"fallbacks"` // tracking sessions that ended in a return to searching
}

func (s *Stats) addRecognition(latency time.Duration, matches int, located bool) {
	s.Recognitions++
	if !located {
		return
	}
	s.Located++
	n := float64(s.Located)
	s.AverageLatency += time.Duration((float64(latency) - float64(s.AverageLatency)) / n)
	s.AverageMatches += (float64(matches) - s.AverageMatches) / n
}

// Observer receives per-frame events, for example to export metrics. Calls
// are made with the engine lock held and must not call back into the engine.
type Observer interface {
	ObserveRecognition(latency time.Duration, matches int, located bool)
	ObserveTrackingFrame(points, lost int)
	ObserveFallback(reason error)
}

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) ObserveRecognition(time.Duration, int, bool) {}
func (NoopObserver) ObserveTrackingFrame(int, int)               {}
func (NoopObserver) ObserveFallback(error)                       {}
