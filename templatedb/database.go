// Package templatedb owns the known templates' feature sets and the
// approximate nearest neighbor index built over all of their descriptors.
//
// Descriptors of every template are concatenated in insertion order into one
// matrix; a descriptor's position in that matrix is its global index, which
// Resolve maps back to (template, local keypoint) by range membership.
//
// A Database is not safe for concurrent use. The recognition engine guards it
// with its own lock.
package templatedb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"example/planartrack/features"
)

// Database holds templates and their shared index.
type Database struct {
	templates []features.FeatureSet
	offsets   []int // offsets[i] is the global index of template i's first descriptor
	dim       int
	index     *Index
	params    IndexParams
	logger    *slog.Logger
}

// Option configures a Database.
type Option func(*Database)

// WithIndexParams sets the kd-tree forest parameters.
func WithIndexParams(p IndexParams) Option {
	return func(db *Database) { db.params = p }
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.logger = l
		}
	}
}

// New creates an empty database.
func New(opts ...Option) *Database {
	db := &Database{
		offsets: []int{0},
		params:  DefaultIndexParams(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Len returns the number of templates.
func (db *Database) Len() int { return len(db.templates) }

// Dimension returns the uniform descriptor length, or 0 when empty.
func (db *Database) Dimension() int { return db.dim }

// DescriptorCount returns the number of descriptors across all templates.
func (db *Database) DescriptorCount() int { return db.offsets[len(db.offsets)-1] }

// Template returns template i.
func (db *Database) Template(i int) *features.FeatureSet {
	if i < 0 || i >= len(db.templates) {
		return nil
	}
	return &db.templates[i]
}

// Templates returns the templates in insertion order. The slice must not be modified.
func (db *Database) Templates() []features.FeatureSet { return db.templates }

// Add appends a template and invalidates the index.
func (db *Database) Add(fs features.FeatureSet) error {
	if err := fs.Validate(); err != nil {
		return err
	}
	if fs.Empty() {
		return fmt.Errorf("template %q has no features", fs.Name)
	}
	if db.dim != 0 && fs.DescriptorLength() != db.dim {
		return fmt.Errorf("template %q: %w: got %d, want %d", fs.Name, ErrDescriptorLength, fs.DescriptorLength(), db.dim)
	}
	if db.dim == 0 {
		db.dim = fs.DescriptorLength()
	}

	db.templates = append(db.templates, fs)
	db.offsets = append(db.offsets, db.DescriptorCount()+len(fs.Descriptors))
	db.index = nil
	return nil
}

// Load parses one persisted record and appends it. The index is invalidated
// and rebuilt lazily.
func (db *Database) Load(path string) error {
	fs, err := LoadRecord(path)
	if err != nil {
		return err
	}
	return db.Add(fs)
}

// LoadDir loads every template record in dir in lexical order and rebuilds the
// index once. Unreadable or inconsistent records are skipped and logged. It
// returns the number of templates added.
func (db *Database) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read template directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsRecordPath(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	sets := make([]features.FeatureSet, len(paths))
	errs := make([]error, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sets[i], errs[i] = LoadRecord(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	added := 0
	for i, fs := range sets {
		if errs[i] != nil {
			db.logger.Warn("skipping template record", "path", paths[i], "error", errs[i])
			continue
		}
		if err := db.Add(fs); err != nil {
			db.logger.Warn("skipping template record", "path", paths[i], "error", err)
			continue
		}
		added++
	}

	db.BuildIndex()
	return added, nil
}

// BuildIndex concatenates all descriptors and builds a fresh index, replacing
// the previous one whole. It is a no-op on an empty database.
func (db *Database) BuildIndex() {
	if len(db.templates) == 0 {
		db.index = nil
		return
	}

	start := time.Now()
	data := make([][]float32, 0, db.DescriptorCount())
	for _, t := range db.templates {
		data = append(data, t.Descriptors...)
	}
	next := NewIndex(data, db.params)
	db.index = next

	db.logger.Info("built template index",
		"templates", len(db.templates),
		"descriptors", len(data),
		"trees", db.params.Trees,
		"elapsed", time.Since(start))
}

// EnsureIndex builds the index if a mutation invalidated it.
func (db *Database) EnsureIndex() {
	if db.index == nil && len(db.templates) > 0 {
		db.BuildIndex()
	}
}

// Indexed reports whether a valid index is present.
func (db *Database) Indexed() bool { return db.index != nil }

// Search finds up to k neighbors for each query descriptor, building the
// index first if needed.
func (db *Database) Search(queries [][]float32, k int) ([][]Neighbor, error) {
	db.EnsureIndex()
	if db.index == nil {
		return nil, ErrIndexNotBuilt
	}
	out := make([][]Neighbor, len(queries))
	for i, q := range queries {
		if len(q) != db.dim {
			return nil, fmt.Errorf("query %d: %w: got %d, want %d", i, ErrDescriptorLength, len(q), db.dim)
		}
		out[i] = db.index.Search(q, k)
	}
	return out, nil
}

// Resolve maps a global descriptor index to its template and the keypoint
// index within that template.
func (db *Database) Resolve(global int) (template, local int, ok bool) {
	if global < 0 || global >= db.DescriptorCount() {
		return 0, 0, false
	}
	// first offset strictly greater than global marks the end of its template
	t := sort.SearchInts(db.offsets, global+1) - 1
	return t, global - db.offsets[t], true
}

// Reset removes every template and drops the index.
func (db *Database) Reset() {
	db.templates = nil
	db.offsets = []int{0}
	db.dim = 0
	db.index = nil
}
