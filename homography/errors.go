package homography

import "errors"

var (
	// ErrInsufficientMatches is returned when the best template has fewer
	// correspondences than the configured minimum.
	ErrInsufficientMatches = errors.New("insufficient matches")

	// ErrDegenerateHomography is returned when a fit fails to converge or
	// yields a singular matrix.
	ErrDegenerateHomography = errors.New("degenerate homography")
)
