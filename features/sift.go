package features

import (
	"log/slog"

	"gocv.io/x/gocv"
)

// Extractor converts a single-channel image into a FeatureSet.
type Extractor interface {
	Extract(img gocv.Mat, p Profile) FeatureSet
}

// SIFTExtractor extracts SIFT keypoints with 128-float descriptors.
// It is not safe for concurrent use; the recognition engine serializes calls.
type SIFTExtractor struct {
	training    gocv.SIFT
	recognition gocv.SIFT
	logger      *slog.Logger
}

// NewSIFTExtractor creates detectors for both profiles.
func NewSIFTExtractor(training, recognition ProfileParams, logger *slog.Logger) *SIFTExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SIFTExtractor{
		training:    newSIFT(training),
		recognition: newSIFT(recognition),
		logger:      logger,
	}
}

func newSIFT(p ProfileParams) gocv.SIFT {
	nFeatures := p.MaxFeatures
	layers := p.OctaveLayers
	contrast := p.ContrastThreshold
	edge := p.EdgeThreshold
	sigma := p.Sigma
	return gocv.NewSIFTWithParams(&nFeatures, &layers, &contrast, &edge, &sigma)
}

// Close releases the detectors.
func (e *SIFTExtractor) Close() {
	e.training.Close()
	e.recognition.Close()
}

// Extract runs the detector for profile p on img. Any failure, including an
// exception raised inside OpenCV, results in an empty FeatureSet.
func (e *SIFTExtractor) Extract(img gocv.Mat, p Profile) FeatureSet {
	if img.Empty() || img.Channels() != 1 {
		return FeatureSet{}
	}
	fs := FeatureSet{Width: img.Cols(), Height: img.Rows()}

	detector := e.recognition
	if p == ProfileTraining {
		detector = e.training
	}

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := detector.DetectAndCompute(img, mask)
	defer desc.Close()
	if err := gocv.LastExceptionError(); err != nil {
		e.logger.Warn("feature extraction failed", "profile", p, "error", err)
		return fs
	}

	keypoints, descriptors, err := fromMats(kps, desc)
	if err != nil {
		e.logger.Warn("feature extraction produced unusable descriptors", "profile", p, "error", err)
		return FeatureSet{Width: fs.Width, Height: fs.Height}
	}
	fs.Keypoints = keypoints
	fs.Descriptors = descriptors
	return fs
}

// FromImage extracts a template FeatureSet from img with the training profile.
func FromImage(e Extractor, img gocv.Mat, name string) FeatureSet {
	fs := e.Extract(img, ProfileTraining)
	fs.Name = name
	fs.Width, fs.Height = img.Cols(), img.Rows()
	return fs
}
