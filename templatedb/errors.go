package templatedb

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptorLength is returned when a template's descriptor length differs from the database's.
	ErrDescriptorLength = errors.New("descriptor length differs from database")

	// ErrInvalidRecord is returned when a persisted template record is malformed.
	ErrInvalidRecord = errors.New("invalid template record")

	// ErrIndexNotBuilt is returned when a search is attempted on an empty database.
	ErrIndexNotBuilt = errors.New("nearest neighbor index not built")
)

// RecordError reports a template record that could not be read or written.
//
// The underlying error can be accessed via errors.Unwrap.
type RecordError struct {
	Path  string
	cause error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("template record %s: %v", e.Path, e.cause)
}

func (e *RecordError) Unwrap() error { return e.cause }
