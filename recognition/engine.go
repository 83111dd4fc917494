// Package recognition is the locate-then-track facade. Each frame is either
// matched against the template database (searching) or followed with optical
// flow from the previous frame (tracking); a failed tracking frame sends the
// next call back to full matching.
//
// Every method takes the same lock, so frame processing, database reloads and
// reads of the latest homography from another goroutine never interleave.
package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gocv.io/x/gocv"

	"example/planartrack/features"
	"example/planartrack/homography"
	"example/planartrack/imageio"
	"example/planartrack/matcher"
	"example/planartrack/templatedb"
	"example/planartrack/tracking"
)

// Engine locates one template at a time in a stream of grayscale frames.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	db        *templatedb.Database
	extractor features.Extractor
	matcher   *matcher.Matcher
	estimator *homography.Estimator
	tracker   *tracking.Tracker

	state   State
	h       homography.Matrix
	located bool
	matched int
	lastErr error
	frame   gocv.Mat // last frame passed to Process or Recognize

	stats    Stats
	observer Observer
	logger   *slog.Logger
	failLog  rate.Sometimes
	flow     tracking.Flow
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver receives recognition, tracking and fallback events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithFlow replaces pyramidal Lucas-Kanade as the tracker's point propagation.
func WithFlow(f tracking.Flow) Option {
	return func(e *Engine) { e.flow = f }
}

// New returns an engine in the searching state over db. The engine owns db
// from here on; callers must go through the engine to change it.
func New(db *templatedb.Database, extractor features.Extractor, opts ...Option) (*Engine, error) {
	if db == nil || extractor == nil {
		return nil, fmt.Errorf("recognition: database and extractor are required")
	}
	e := &Engine{
		cfg:       DefaultConfig(),
		db:        db,
		extractor: extractor,
		matched:   -1,
		frame:     gocv.NewMat(),
		observer:  NoopObserver{},
		logger:    slog.Default(),
		failLog:   rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		e.frame.Close()
		return nil, err
	}

	e.matcher = matcher.New(db, e.cfg.Matching.Ratio)
	e.estimator = homography.NewEstimator(e.cfg.Homography)
	e.tracker = tracking.New(e.cfg.Tracking, e.flow)
	return e, nil
}

// Close releases the engine's frame buffers. It does not close the extractor.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.Close()
	e.frame.Close()
}

// Process handles one working-resolution grayscale frame and reports whether
// the template was located in it. While searching it matches features and, on
// success, starts tracking; while tracking it follows the tracked points and
// refits the homography. Failures are never returned; LastError holds the
// reason for diagnostics.
func (e *Engine) Process(frame gocv.Mat) bool {
	return e.ProcessFrame(frame).Located
}

// ProcessFrame is Process returning everything known about the frame,
// captured under the same lock as the processing itself.
func (e *Engine) ProcessFrame(frame gocv.Mat) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.process(frame)
	e.finish(err)
	return e.result()
}

// ProcessImage prepares a camera image at the configured working resolution
// and processes it.
func (e *Engine) ProcessImage(img image.Image) bool {
	frame, err := imageio.PrepareFrame(img, e.cfg.Frame.Width, e.cfg.Frame.Height)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.finish(fmt.Errorf("%w: %v", ErrInvalidFrame, err))
		return false
	}
	defer frame.Close()
	return e.Process(frame)
}

// Recognize runs a single detection on frame without starting or touching a
// tracking session. On success the homography and matched template are
// updated.
func (e *Engine) Recognize(frame gocv.Mat) bool {
	return e.RecognizeFrame(frame).Located
}

// RecognizeFrame is Recognize returning the full Result.
func (e *Engine) RecognizeFrame(frame gocv.Mat) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.checkFrame(frame)
	if err == nil {
		var init homography.Initial
		init, err = e.detect(frame)
		if err == nil {
			e.setLocated(init)
		}
	}
	if err != nil {
		e.located = false
	}
	e.finish(err)
	return e.result()
}

func (e *Engine) finish(err error) {
	e.lastErr = err
	if err != nil {
		state := e.state
		e.failLog.Do(func() {
			e.logger.Debug("no match this frame", "state", state, "err", err)
		})
	}
}

func (e *Engine) checkFrame(frame gocv.Mat) error {
	if e.db.Len() == 0 {
		e.searchAgain()
		return ErrEmptyDatabase
	}
	if frame.Empty() || frame.Type() != gocv.MatTypeCV8UC1 {
		return ErrInvalidFrame
	}
	frame.CopyTo(&e.frame)
	return nil
}

func (e *Engine) process(frame gocv.Mat) error {
	if err := e.checkFrame(frame); err != nil {
		e.located = false
		return err
	}

	switch e.state {
	case StateTracking:
		return e.track(frame)
	default:
		return e.search(frame)
	}
}

// search detects the template and seeds a tracking session on the same frame.
func (e *Engine) search(frame gocv.Mat) error {
	init, err := e.detect(frame)
	if err != nil {
		e.located = false
		return err
	}
	e.setLocated(init)

	tmpl := e.db.Template(init.Template)
	n, err := e.tracker.Seed(frame, init.H, tmpl.Width, tmpl.Height)
	if err != nil {
		// located this frame, but the next one searches again
		e.logger.Debug("could not start tracking", "template", tmpl.Name, "err", err)
		return nil
	}
	e.tracker.Commit()
	e.state = StateTracking
	e.logger.Info("template located",
		"template", tmpl.Name,
		"matches", init.Matches,
		"inliers", init.Inliers,
		"tracked_points", n,
	)
	return nil
}

func (e *Engine) detect(frame gocv.Mat) (homography.Initial, error) {
	start := time.Now()

	live := e.extractor.Extract(frame, features.ProfileRecognition)
	if live.Empty() {
		return homography.Initial{}, ErrExtractionFailure
	}
	corrs, err := e.matcher.Match(live)
	if err != nil {
		return homography.Initial{}, err
	}
	init, err := e.estimator.EstimateInitial(e.db, live, corrs)

	elapsed := time.Since(start)
	e.stats.addRecognition(elapsed, len(corrs), err == nil)
	e.observer.ObserveRecognition(elapsed, len(corrs), err == nil)
	return init, err
}

func (e *Engine) track(frame gocv.Mat) error {
	pairs, err := e.tracker.Update(frame)
	if err != nil {
		e.fallback(err)
		return err
	}
	h, err := e.estimator.EstimateRefinement(pairs)
	if err != nil {
		e.fallback(err)
		return err
	}

	e.h = h
	e.located = true
	e.tracker.Commit()
	e.stats.TrackedFrames++
	e.observer.ObserveTrackingFrame(len(pairs), e.tracker.LostCount())
	return nil
}

// fallback ends the tracking session. The last homography is kept but no
// longer reported as located.
func (e *Engine) fallback(reason error) {
	e.logger.Info("tracking ended, searching again",
		"reason", reason,
		"points", e.tracker.Len(),
		"lost", e.tracker.LostCount(),
	)
	e.stats.Fallbacks++
	e.observer.ObserveFallback(reason)
	e.located = false
	e.searchAgain()
}

func (e *Engine) searchAgain() {
	e.tracker.Reset()
	e.state = StateSearching
}

func (e *Engine) setLocated(init homography.Initial) {
	e.h = init.H
	e.matched = init.Template
	e.located = true
}

// Homography returns the latest template-to-frame transform and whether the
// last frame located the template.
func (e *Engine) Homography() (homography.Matrix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h, e.located
}

// MatchedTemplate returns the index and name of the last matched template.
func (e *Engine) MatchedTemplate() (int, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tmpl := e.matchedTemplate()
	if tmpl == nil {
		return -1, "", false
	}
	return e.matched, tmpl.Name, true
}

// Outline returns the matched template's corners in the last frame. It
// reports false when the template was not located or the outline is not a
// convex quadrilateral.
func (e *Engine) Outline() ([4]image.Point, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outline()
}

// Snapshot returns the outcome of the last frame.
func (e *Engine) Snapshot() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result()
}

func (e *Engine) matchedTemplate() *features.FeatureSet {
	if !e.located {
		return nil
	}
	return e.db.Template(e.matched)
}

func (e *Engine) outline() ([4]image.Point, bool) {
	tmpl := e.matchedTemplate()
	if tmpl == nil {
		return [4]image.Point{}, false
	}
	q := e.h.Outline(tmpl.Width, tmpl.Height)
	return q, homography.IsConvexQuad(q[:])
}

func (e *Engine) result() Result {
	r := Result{State: e.state, Template: -1, Err: e.lastErr}
	tmpl := e.matchedTemplate()
	if tmpl == nil {
		return r
	}
	r.Located = true
	r.Homography = e.h
	r.Template, r.TemplateName = e.matched, tmpl.Name
	r.Outline, r.Convex = e.outline()
	return r
}

// State returns the mode the next frame will be processed in.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the running diagnostics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LastError returns why the last frame failed, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// TemplateCount returns the number of loaded templates.
func (e *Engine) TemplateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Len()
}

// Reset drops every template and returns to searching.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clear()
}

func (e *Engine) clear() {
	e.db.Reset()
	e.searchAgain()
	e.located = false
	e.matched = -1
}

// LoadDir replaces the database with the template records in dir and
// rebuilds the index once.
// A dir that is not a readable directory leaves the database untouched.
func (e *Engine) LoadDir(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("template directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("template directory %s: %w", dir, ErrNotDirectory)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clear()
	return e.db.LoadDir(ctx, dir)
}

// AddTemplate extracts a template from img with the training profile, writes
// it to recordPath when that is not empty, adds it to the database and
// rebuilds the index.
func (e *Engine) AddTemplate(img gocv.Mat, name, recordPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fs := features.FromImage(e.extractor, img, name)
	if fs.Empty() {
		return fmt.Errorf("template %s: %w", name, ErrExtractionFailure)
	}
	if recordPath != "" {
		if err := templatedb.SaveRecord(recordPath, fs); err != nil {
			return err
		}
	}
	if err := e.db.Add(fs); err != nil {
		return fmt.Errorf("template %s: %w", name, err)
	}
	e.db.BuildIndex()
	return nil
}

// SaveCurrentFrame writes the last processed frame to path.
func (e *Engine) SaveCurrentFrame(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return imageio.SaveGray(path, e.frame)
}
