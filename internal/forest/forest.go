// Package forest implements an isolation forest: an ensemble of randomized
// partitioning trees in which anomalies isolate after fewer splits than inliers.
//
// A trained Forest is immutable. Score, ScoreAll and IsAnomalous are safe for
// concurrent use without locking.
package forest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/spendguard/internal/domain"
)

const eulerGamma = 0.5772156649015329

// Forest is an ensemble of isolation trees plus the score cutoff derived
// from the contamination rate.
type Forest struct {
	// Configuration
	numTrees      int
	sampleSize    int
	contamination float64
	bootstrap     bool
	seed          int64
	workers       int

	// Trained model
	trees   []tree
	dim     int
	psi     int     // rows drawn per tree
	norm    float64 // c(psi)
	cutoff  float64
	trained bool
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.numTrees = n
	}
}

// WithSampleSize sets the rows drawn for each tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) {
		f.sampleSize = n
	}
}

// WithContamination sets the fraction of training rows flagged anomalous.
func WithContamination(c float64) Option {
	return func(f *Forest) {
		f.contamination = c
	}
}

// WithSeed sets the master seed. Per-tree seeds are drawn from it up front,
// so results do not depend on scheduling.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// WithBootstrap draws each tree's rows with replacement.
func WithBootstrap(b bool) Option {
	return func(f *Forest) {
		f.bootstrap = b
	}
}

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option {
	return func(f *Forest) {
		f.workers = n
	}
}

// New creates an untrained Forest.
func New(opts ...Option) *Forest {
	f := &Forest{
		numTrees:      100,
		sampleSize:    256,
		contamination: 0.015,
		seed:          42,
		workers:       runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.workers <= 0 {
		f.workers = runtime.GOMAXPROCS(0)
	}
	return f
}

// Fit builds the trees over data and sets the cutoff so that the configured
// contamination fraction of data is flagged.
func (f *Forest) Fit(ctx context.Context, data [][]float64) error {
	if f.numTrees <= 0 {
		return fmt.Errorf("%w: numTrees must be positive, got %d", domain.ErrInsufficientSample, f.numTrees)
	}
	if f.sampleSize < 2 {
		return fmt.Errorf("%w: sampleSize must be at least 2, got %d", domain.ErrInsufficientSample, f.sampleSize)
	}
	if f.sampleSize > len(data) {
		return fmt.Errorf("%w: sampleSize %d exceeds %d rows", domain.ErrInsufficientSample, f.sampleSize, len(data))
	}
	if f.contamination < 0 || f.contamination > 0.5 || math.IsNaN(f.contamination) {
		return fmt.Errorf("%w: contamination must be in [0, 0.5], got %v", domain.ErrInsufficientSample, f.contamination)
	}

	dim := len(data[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-width rows", domain.ErrDimensionMismatch)
	}
	for i, row := range data {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", domain.ErrDimensionMismatch, i, len(row), dim)
		}
	}

	master := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.numTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	maxDepth := int(math.Ceil(math.Log2(float64(f.sampleSize))))
	trees := make([]tree, f.numTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := f.drawSample(rng, len(data))
			trees[i] = buildTree(data, sample, dim, maxDepth, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.dim = dim
	f.psi = f.sampleSize
	f.norm = AveragePathLength(f.psi)
	f.trained = true

	scores, err := f.ScoreAll(ctx, data)
	if err != nil {
		f.trained = false
		return err
	}
	f.cutoff = cutoffFor(scores, f.contamination)
	return nil
}

func (f *Forest) drawSample(rng *rand.Rand, n int) []int {
	if f.bootstrap {
		idx := make([]int, f.sampleSize)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		return idx
	}
	return rng.Perm(n)[:f.sampleSize]
}

// cutoffFor returns the midpoint between the k-th and (k+1)-th highest score,
// k = round(contamination * n). Rows tied with the k-th score are flagged too.
func cutoffFor(scores []float64, contamination float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	k := int(math.Round(contamination * float64(len(sorted))))
	switch {
	case k <= 0:
		return math.Nextafter(sorted[0], math.Inf(1))
	case k >= len(sorted):
		return sorted[len(sorted)-1]
	}
	return (sorted[k-1] + sorted[k]) / 2
}

// Score returns the anomaly score of x in (0, 1]. Scores near 1 are strong
// anomalies; scores well below 0.5 are normal.
func (f *Forest) Score(x []float64) (float64, error) {
	if !f.trained {
		return 0, domain.ErrModelNotLoaded
	}
	if len(x) != f.dim {
		return 0, fmt.Errorf("%w: got %d features, forest has %d", domain.ErrDimensionMismatch, len(x), f.dim)
	}

	var total float64
	for i := range f.trees {
		total += f.trees[i].pathLength(x)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.norm), nil
}

// scoreChunk is the number of rows one ScoreAll goroutine handles.
const scoreChunk = 1024

// ScoreAll scores every row, preserving order.
func (f *Forest) ScoreAll(ctx context.Context, data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for start := 0; start < len(data); start += scoreChunk {
		end := min(start+scoreChunk, len(data))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				s, err := f.Score(data[i])
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				scores[i] = s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// IsAnomalous reports whether x scores at or above the cutoff.
func (f *Forest) IsAnomalous(x []float64) (bool, float64, error) {
	s, err := f.Score(x)
	if err != nil {
		return false, 0, err
	}
	return s >= f.cutoff, s, nil
}

// Cutoff returns the score threshold fixed at training time.
func (f *Forest) Cutoff() float64 { return f.cutoff }

// Dim returns the trained feature count.
func (f *Forest) Dim() int { return f.dim }

// NumTrees returns the ensemble size.
func (f *Forest) NumTrees() int { return len(f.trees) }

// SampleSize returns the rows drawn per tree.
func (f *Forest) SampleSize() int { return f.psi }

// Contamination returns the configured contamination rate.
func (f *Forest) Contamination() float64 { return f.contamination }

// Trained reports whether the forest can score.
func (f *Forest) Trained() bool { return f.trained }

// AveragePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n points:
// c(n) = 2(ln(n-1) + γ) - 2(n-1)/n, with c(2) = 1 and c(n<=1) = 0.
func AveragePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
