package recognition

import "errors"

var (
	// ErrEmptyDatabase is returned when no templates are loaded. Extraction
	// is never attempted in that case.
	ErrEmptyDatabase = errors.New("template database is empty")

	// ErrExtractionFailure is returned when a frame yields no usable features.
	ErrExtractionFailure = errors.New("no features extracted")

	// ErrInvalidFrame is returned for empty frames and frames that are not
	// single-channel 8-bit.
	ErrInvalidFrame = errors.New("frame must be a non-empty 8-bit grayscale image")

	ErrNotDirectory = errors.New("not a directory")
)
