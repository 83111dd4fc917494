// Package matcher pairs live descriptors with template descriptors through the
// template database's nearest neighbor index.
package matcher

import (
	"example/planartrack/features"
	"example/planartrack/templatedb"
)

const (
	// DefaultRatio is the nearest/second-nearest distance ratio below which a
	// match is accepted. Distances are squared L2.
	DefaultRatio = 0.6

	neighbors = 2
)

// Correspondence pairs a live feature with a template descriptor by its
// global index in the database.
type Correspondence struct {
	Live   int
	Global int
}

// Matcher applies the ratio test to k=2 nearest neighbor results.
type Matcher struct {
	db    *templatedb.Database
	ratio float64
}

// New returns a Matcher over db. A ratio outside (0, 1] falls back to DefaultRatio.
func New(db *templatedb.Database, ratio float64) *Matcher {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultRatio
	}
	return &Matcher{db: db, ratio: ratio}
}

// Match returns the unambiguous correspondences for live. The index is built
// first if the template set changed since the last build.
func (m *Matcher) Match(live features.FeatureSet) ([]Correspondence, error) {
	if live.Empty() {
		return nil, nil
	}
	results, err := m.db.Search(live.Descriptors, neighbors)
	if err != nil {
		return nil, err
	}

	var out []Correspondence
	for i, nn := range results {
		if len(nn) < neighbors {
			continue
		}
		if float64(nn[0].Distance) < m.ratio*float64(nn[1].Distance) {
			out = append(out, Correspondence{Live: i, Global: nn[0].Index})
		}
	}
	return out, nil
}
