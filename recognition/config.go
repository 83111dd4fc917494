package recognition

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"example/planartrack/features"
	"example/planartrack/homography"
	"example/planartrack/matcher"
	"example/planartrack/templatedb"
	"example/planartrack/tracking"
)

// Config holds every tunable of the engine.
type Config struct {
	Extraction ExtractionConfig       `yaml:"extraction" mapstructure:"extraction"`
	Index      templatedb.IndexParams `yaml:"index" mapstructure:"index"`
	Matching   MatchingConfig         `yaml:"matching" mapstructure:"matching"`
	Homography homography.Config      `yaml:"homography" mapstructure:"homography"`
	Tracking   tracking.Config        `yaml:"tracking" mapstructure:"tracking"`
	Frame      FrameConfig            `yaml:"frame" mapstructure:"frame"`
}

// ExtractionConfig holds the two detector profiles.
type ExtractionConfig struct {
	Training    features.ProfileParams `yaml:"training" mapstructure:"training"`       // building template records
	Recognition features.ProfileParams `yaml:"recognition" mapstructure:"recognition"` // live frames
}

// MatchingConfig configures the ratio test.
type MatchingConfig struct {
	Ratio float64 `yaml:"ratio" mapstructure:"ratio"` // nearest / second nearest, squared distances
}

// FrameConfig is the working resolution frames are reduced to.
type FrameConfig struct {
	Width  int `yaml:"width" mapstructure:"width"`
	Height int `yaml:"height" mapstructure:"height"`
}

// DefaultConfig returns the settings for 320×240 working frames.
func DefaultConfig() Config {
	return Config{
		Extraction: ExtractionConfig{
			Training:    features.DefaultTrainingParams(),
			Recognition: features.DefaultRecognitionParams(),
		},
		Index:      templatedb.DefaultIndexParams(),
		Matching:   MatchingConfig{Ratio: matcher.DefaultRatio},
		Homography: homography.DefaultConfig(),
		Tracking:   tracking.DefaultConfig(),
		Frame:      FrameConfig{Width: 320, Height: 240},
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	unit := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %g", name, v))
		}
	}

	positive("index.trees", c.Index.Trees)
	positive("index.checks", c.Index.Checks)
	positive("index.leaf_size", c.Index.LeafSize)
	unit("matching.ratio", c.Matching.Ratio)
	positive("homography.min_matches", c.Homography.MinMatches)
	positive("homography.max_iterations", c.Homography.MaxIterations)
	unit("homography.confidence", c.Homography.Confidence)
	if c.Homography.RansacThreshold <= 0 {
		errs = append(errs, fmt.Errorf("homography.ransac_threshold must be positive, got %g", c.Homography.RansacThreshold))
	}
	positive("tracking.max_points", c.Tracking.MaxPoints)
	unit("tracking.lost_ratio", c.Tracking.LostRatio)
	positive("tracking.window_size", c.Tracking.WindowSize)
	positive("tracking.max_iterations", c.Tracking.MaxIterations)
	if c.Tracking.PyramidLevels < 0 {
		errs = append(errs, fmt.Errorf("tracking.pyramid_levels must not be negative, got %d", c.Tracking.PyramidLevels))
	}
	unit("tracking.corner_quality", c.Tracking.CornerQuality)
	positive("frame.width", c.Frame.Width)
	positive("frame.height", c.Frame.Height)

	return errors.Join(errs...)
}

// LoadConfig reads a YAML file and applies it over DefaultConfig. Keys absent
// from the file keep their defaults; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// NewDatabase returns an empty template database using c's index settings.
func (c Config) NewDatabase(logger *slog.Logger) *templatedb.Database {
	return templatedb.New(templatedb.WithIndexParams(c.Index), templatedb.WithLogger(logger))
}

// NewExtractor returns a SIFT extractor with c's two profiles. The caller
// must Close it.
func (c Config) NewExtractor(logger *slog.Logger) *features.SIFTExtractor {
	return features.NewSIFTExtractor(c.Extraction.Training, c.Extraction.Recognition, logger)
}
