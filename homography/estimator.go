package homography

import (
	"fmt"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"example/planartrack/features"
	"example/planartrack/internal/pointmat"
	"example/planartrack/matcher"
)

// a projective transform has eight degrees of freedom
const minFitPoints = 4

// Config controls both fits.
type Config struct {
	MinMatches      int     `yaml:"min_matches" mapstructure:"min_matches"`           // correspondences needed for the best template
	RansacThreshold float64 `yaml:"ransac_threshold" mapstructure:"ransac_threshold"` // reprojection error in pixels
	MaxIterations   int     `yaml:"max_iterations" mapstructure:"max_iterations"`     // RANSAC iterations
	Confidence      float64 `yaml:"confidence" mapstructure:"confidence"`             // RANSAC confidence
}

// DefaultConfig returns the detection settings used on the working resolution.
func DefaultConfig() Config {
	return Config{
		MinMatches:      20,
		RansacThreshold: 1.0,
		MaxIterations:   2000,
		Confidence:      0.995,
	}
}

// Pair is one point correspondence between template space and the live frame.
type Pair struct {
	Template r2.Point
	Live     r2.Point
}

// Resolver maps template-global descriptor indices back to templates.
// *templatedb.Database satisfies it.
type Resolver interface {
	Resolve(global int) (template, local int, ok bool)
	Template(i int) *features.FeatureSet
}

// Initial is the outcome of a successful detection fit.
type Initial struct {
	H        Matrix
	Template int // index of the matched template
	Matches  int // correspondences that voted for it
	Inliers  int // correspondences RANSAC kept
}

// Estimator fits homographies from correspondences.
type Estimator struct {
	cfg Config
}

// NewEstimator returns an Estimator. A non-positive MinMatches is raised to
// the four points a fit needs.
func NewEstimator(cfg Config) *Estimator {
	if cfg.MinMatches < minFitPoints {
		cfg.MinMatches = minFitPoints
	}
	return &Estimator{cfg: cfg}
}

// Config returns the estimator's settings.
func (e *Estimator) Config() Config { return e.cfg }

// EstimateInitial picks the template with the most correspondences and fits a
// homography from its keypoints to the live keypoints with RANSAC. Ties go to
// the lower template index.
func (e *Estimator) EstimateInitial(r Resolver, live features.FeatureSet, corrs []matcher.Correspondence) (Initial, error) {
	if len(corrs) < e.cfg.MinMatches {
		return Initial{}, fmt.Errorf("%w: %d correspondences, need %d", ErrInsufficientMatches, len(corrs), e.cfg.MinMatches)
	}

	type resolved struct {
		template, local, live int
	}
	counts := make(map[int]int)
	all := make([]resolved, 0, len(corrs))
	for _, c := range corrs {
		tmpl, local, ok := r.Resolve(c.Global)
		if !ok || c.Live < 0 || c.Live >= len(live.Keypoints) {
			continue
		}
		counts[tmpl]++
		all = append(all, resolved{template: tmpl, local: local, live: c.Live})
	}

	best, bestCount := -1, 0
	for tmpl, n := range counts {
		if n > bestCount || (n == bestCount && tmpl < best) {
			best, bestCount = tmpl, n
		}
	}
	if best < 0 || bestCount < e.cfg.MinMatches {
		return Initial{}, fmt.Errorf("%w: best template has %d, need %d", ErrInsufficientMatches, bestCount, e.cfg.MinMatches)
	}

	tmpl := r.Template(best)
	if tmpl == nil {
		return Initial{}, fmt.Errorf("%w: template %d missing", ErrInsufficientMatches, best)
	}
	pairs := make([]Pair, 0, bestCount)
	for _, c := range all {
		if c.template != best || c.local >= len(tmpl.Keypoints) {
			continue
		}
		tk, lk := tmpl.Keypoints[c.local], live.Keypoints[c.live]
		pairs = append(pairs, Pair{
			Template: r2.Point{X: tk.X, Y: tk.Y},
			Live:     r2.Point{X: lk.X, Y: lk.Y},
		})
	}

	h, inliers, err := e.fit(pairs, gocv.HomographyMethodRANSAC)
	if err != nil {
		return Initial{}, err
	}
	return Initial{H: h, Template: best, Matches: bestCount, Inliers: inliers}, nil
}

// EstimateRefinement fits a homography to every pair by least squares with no
// outlier rejection.
func (e *Estimator) EstimateRefinement(pairs []Pair) (Matrix, error) {
	h, _, err := e.fit(pairs, gocv.HomographyMethodAllPoints)
	return h, err
}

func (e *Estimator) fit(pairs []Pair, method gocv.HomographyMethod) (Matrix, int, error) {
	if len(pairs) < minFitPoints {
		return Matrix{}, 0, fmt.Errorf("%w: %d points", ErrDegenerateHomography, len(pairs))
	}

	srcPts := make([]r2.Point, len(pairs))
	dstPts := make([]r2.Point, len(pairs))
	for i, p := range pairs {
		srcPts[i], dstPts[i] = p.Template, p.Live
	}
	src := pointmat.FromPoints(srcPts)
	defer src.Close()
	dst := pointmat.FromPoints(dstPts)
	defer dst.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	hm := gocv.FindHomography(src, dst, method, e.cfg.RansacThreshold, &mask, e.cfg.MaxIterations, e.cfg.Confidence)
	defer hm.Close()
	if err := gocv.LastExceptionError(); err != nil {
		return Matrix{}, 0, fmt.Errorf("%w: %v", ErrDegenerateHomography, err)
	}

	h, ok := FromMat(hm)
	if !ok || !h.Valid() {
		return Matrix{}, 0, ErrDegenerateHomography
	}
	inliers := len(pairs)
	if !mask.Empty() {
		inliers = gocv.CountNonZero(mask)
	}
	if inliers == 0 {
		return Matrix{}, 0, ErrDegenerateHomography
	}
	return h, inliers, nil
}
