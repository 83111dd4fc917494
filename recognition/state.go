package recognition

import "fmt"

// State is the engine's mode for the next frame.
type State int

const (
	// StateSearching runs full feature matching on the next frame.
	StateSearching State = iota
	// StateTracking propagates the tracked points with optical flow.
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateTracking:
		return "tracking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets State appear by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "searching":
		*s = StateSearching
	case "tracking":
		*s = StateTracking
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}
