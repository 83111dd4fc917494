package tracking

import "errors"

var (
	// ErrTrackingLost is returned when too many points have been lost since
	// seeding, or the flow step itself failed.
	ErrTrackingLost = errors.New("tracking lost")

	// ErrNoTrackablePoints is returned when seeding finds no corners inside
	// the template's outline, or Update is called on an unseeded tracker.
	ErrNoTrackablePoints = errors.New("no trackable points")
)
