// Package features turns grayscale images into local keypoints and fixed-length
// float descriptors.
//
// Two parameter profiles exist: ProfileTraining favours recall and is used when
// templates are added to the database, ProfileRecognition is cheaper and is used
// on live frames. Extraction never fails loudly: a degenerate image or an OpenCV
// failure yields an empty FeatureSet.
package features

import (
	"fmt"
)

// Keypoint is a detected local image feature.
type Keypoint struct {
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
	Scale       float64 `yaml:"scale"`
	Orientation float64 `yaml:"orientation"`
}

// FeatureSet holds keypoints and their parallel descriptors for one image.
// A template's FeatureSet is immutable once added to a database.
type FeatureSet struct {
	Name        string
	Width       int
	Height      int
	Keypoints   []Keypoint
	Descriptors [][]float32
}

// Len returns the number of features.
func (fs FeatureSet) Len() int { return len(fs.Keypoints) }

// Empty reports whether the set carries no usable features.
func (fs FeatureSet) Empty() bool { return len(fs.Keypoints) == 0 || len(fs.Descriptors) == 0 }

// DescriptorLength returns the length of the first descriptor, or 0 if there is none.
func (fs FeatureSet) DescriptorLength() int {
	if len(fs.Descriptors) == 0 {
		return 0
	}
	return len(fs.Descriptors[0])
}

// Validate checks that keypoints and descriptors are parallel and that every
// descriptor has the same length.
func (fs FeatureSet) Validate() error {
	if len(fs.Keypoints) != len(fs.Descriptors) {
		return fmt.Errorf("feature set %q: %d keypoints but %d descriptors", fs.Name, len(fs.Keypoints), len(fs.Descriptors))
	}
	length := fs.DescriptorLength()
	for i, d := range fs.Descriptors {
		if len(d) != length {
			return fmt.Errorf("feature set %q: descriptor %d has length %d, expected %d", fs.Name, i, len(d), length)
		}
	}
	if fs.Width < 0 || fs.Height < 0 {
		return fmt.Errorf("feature set %q: negative size %dx%d", fs.Name, fs.Width, fs.Height)
	}
	return nil
}

// Profile selects a parameter set for extraction.
type Profile int

const (
	// ProfileTraining is the higher-recall profile used to build templates.
	ProfileTraining Profile = iota
	// ProfileRecognition is the faster profile used on live frames.
	ProfileRecognition
)

func (p Profile) String() string {
	switch p {
	case ProfileTraining:
		return "training"
	case ProfileRecognition:
		return "recognition"
	default:
		return fmt.Sprintf("Profile(%d)", int(p))
	}
}

// ProfileParams configures the SIFT detector for one profile.
type ProfileParams struct {
	MaxFeatures       int     `yaml:"max_features" mapstructure:"max_features"`             // 0 keeps every keypoint
	OctaveLayers      int     `yaml:"octave_layers" mapstructure:"octave_layers"`           // layers per octave
	ContrastThreshold float64 `yaml:"contrast_threshold" mapstructure:"contrast_threshold"` // higher rejects weak blobs
	EdgeThreshold     float64 `yaml:"edge_threshold" mapstructure:"edge_threshold"`         // higher keeps more edge-like features
	Sigma             float64 `yaml:"sigma" mapstructure:"sigma"`                           // gaussian at octave 0
}

// DefaultTrainingParams favours recall over speed.
func DefaultTrainingParams() ProfileParams {
	return ProfileParams{
		MaxFeatures:       0,
		OctaveLayers:      3,
		ContrastThreshold: 0.03,
		EdgeThreshold:     10,
		Sigma:             1.6,
	}
}

// DefaultRecognitionParams trades recall for a bounded per-frame cost.
func DefaultRecognitionParams() ProfileParams {
	return ProfileParams{
		MaxFeatures:       400,
		OctaveLayers:      2,
		ContrastThreshold: 0.04,
		EdgeThreshold:     10,
		Sigma:             1.6,
	}
}
