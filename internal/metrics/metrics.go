// Package metrics exports engine events to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example/planartrack/homography"
	"example/planartrack/tracking"
)

// PrometheusObserver implements recognition.Observer.
type PrometheusObserver struct {
	recognitionLatency *prometheus.HistogramVec
	matches            prometheus.Histogram
	trackedFrames      prometheus.Counter
	trackedPoints      prometheus.Gauge
	lostPoints         prometheus.Gauge
	fallbacks          *prometheus.CounterVec
}

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		recognitionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planartrack_recognition_latency_seconds",
			Help:    "Latency of full feature matching on one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"result"}),
		matches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planartrack_recognition_matches",
			Help:    "Correspondences surviving the ratio test per detection",
			Buckets: prometheus.LinearBuckets(0, 20, 10),
		}),
		trackedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planartrack_tracked_frames_total",
			Help: "Frames located by optical flow tracking",
		}),
		trackedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planartrack_tracked_points",
			Help: "Points used in the last refinement fit",
		}),
		lostPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planartrack_lost_points",
			Help: "Points lost so far in the current tracking session",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planartrack_fallbacks_total",
			Help: "Tracking sessions that ended in a return to searching",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		o.recognitionLatency,
		o.matches,
		o.trackedFrames,
		o.trackedPoints,
		o.lostPoints,
		o.fallbacks,
	)
	return o
}

func (o *PrometheusObserver) ObserveRecognition(d time.Duration, matches int, located bool) {
	result := "located"
	if !located {
		result = "missed"
	}
	o.recognitionLatency.WithLabelValues(result).Observe(d.Seconds())
	o.matches.Observe(float64(matches))
}

func (o *PrometheusObserver) ObserveTrackingFrame(points, lost int) {
	o.trackedFrames.Inc()
	o.trackedPoints.Set(float64(points))
	o.lostPoints.Set(float64(lost))
}

func (o *PrometheusObserver) ObserveFallback(reason error) {
	o.fallbacks.WithLabelValues(fallbackReason(reason)).Inc()
	o.trackedPoints.Set(0)
	o.lostPoints.Set(0)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, tracking.ErrTrackingLost):
		return "lost"
	case errors.Is(err, homography.ErrDegenerateHomography):
		return "degenerate"
	default:
		return "other"
	}
}
