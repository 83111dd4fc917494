package templatedb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"

	"example/planartrack/features"
)

// Record file suffixes recognised by LoadDir. Compression is chosen by suffix.
const (
	RecordExt     = ".yaml"
	RecordExtZstd = ".yaml.zst"
	RecordExtLZ4  = ".yaml.lz4"
)

// record is the persisted form of one template.
type record struct {
	Name        string              `yaml:"name"`
	Width       int                 `yaml:"width"`
	Height      int                 `yaml:"height"`
	Keypoints   []features.Keypoint `yaml:"keypoints"`
	Descriptors [][]float32         `yaml:"descriptors"`
}

// IsRecordPath reports whether path has a template record suffix.
func IsRecordPath(path string) bool {
	return strings.HasSuffix(path, RecordExt) ||
		strings.HasSuffix(path, RecordExtZstd) ||
		strings.HasSuffix(path, RecordExtLZ4)
}

// SaveRecord writes fs to path, compressing it when the suffix asks for it.
func SaveRecord(path string, fs features.FeatureSet) (err error) {
	if err := fs.Validate(); err != nil {
		return &RecordError{Path: path, cause: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return &RecordError{Path: path, cause: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &RecordError{Path: path, cause: cerr}
		}
	}()

	w, closeWriter, err := compressor(path, f)
	if err != nil {
		return &RecordError{Path: path, cause: err}
	}

	enc := yaml.NewEncoder(w)
	if err := enc.Encode(record{
		Name:        fs.Name,
		Width:       fs.Width,
		Height:      fs.Height,
		Keypoints:   fs.Keypoints,
		Descriptors: fs.Descriptors,
	}); err != nil {
		return &RecordError{Path: path, cause: fmt.Errorf("failed to encode: %w", err)}
	}
	if err := enc.Close(); err != nil {
		return &RecordError{Path: path, cause: err}
	}
	if err := closeWriter(); err != nil {
		return &RecordError{Path: path, cause: err}
	}
	return nil
}

// LoadRecord reads one template record from path.
func LoadRecord(path string) (features.FeatureSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return features.FeatureSet{}, &RecordError{Path: path, cause: err}
	}
	defer f.Close()

	r, closeReader, err := decompressor(path, bufio.NewReader(f))
	if err != nil {
		return features.FeatureSet{}, &RecordError{Path: path, cause: err}
	}
	defer closeReader()

	var rec record
	if err := yaml.NewDecoder(r).Decode(&rec); err != nil {
		return features.FeatureSet{}, &RecordError{Path: path, cause: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
	}

	fs := features.FeatureSet{
		Name:        rec.Name,
		Width:       rec.Width,
		Height:      rec.Height,
		Keypoints:   rec.Keypoints,
		Descriptors: rec.Descriptors,
	}
	if err := fs.Validate(); err != nil {
		return features.FeatureSet{}, &RecordError{Path: path, cause: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
	}
	return fs, nil
}

func compressor(path string, w io.Writer) (io.Writer, func() error, error) {
	switch {
	case strings.HasSuffix(path, RecordExtZstd):
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	case strings.HasSuffix(path, RecordExtLZ4):
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}

func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, RecordExtZstd):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(path, RecordExtLZ4):
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}
