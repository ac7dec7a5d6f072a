// Package kmeans implements Lloyd's k-means over 2-D coordinate matrices
// with k-means++ or random seeding, and the distortion score used to rank
// cluster counts.
package kmeans

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/coords"
)

// Init selects the centroid seeding strategy.
type Init string

const (
	InitKMeansPlusPlus Init = "k-means++"
	InitRandom         Init = "random"
)

// Defaults mirror the conventional k-means settings.
const (
	DefaultNInit     = 10
	DefaultMaxIter   = 300
	DefaultTolerance = 1e-4
)

// Params configures a k-means run.
type Params struct {
	Init      Init
	NInit     int     // independent restarts; the lowest inertia wins
	MaxIter   int     // Lloyd iterations per restart
	Tolerance float64 // relative to the mean per-column variance of the data
	// Seed makes runs reproducible. Nil draws a fresh seed per run.
	Seed *uint64
}

// DefaultParams returns k-means++ seeding with 10 restarts.
func DefaultParams() Params {
	return Params{
		Init:      InitKMeansPlusPlus,
		NInit:     DefaultNInit,
		MaxIter:   DefaultMaxIter,
		Tolerance: DefaultTolerance,
	}
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	switch p.Init {
	case InitKMeansPlusPlus, InitRandom:
	default:
		return clustererr.Configuration("init", "unknown initialisation %q (want %q or %q)", p.Init, InitKMeansPlusPlus, InitRandom)
	}
	if p.NInit < 1 {
		return clustererr.Configuration("n_init", "must be at least 1, got %d", p.NInit)
	}
	if p.MaxIter < 1 {
		return clustererr.Configuration("max_iter", "must be at least 1, got %d", p.MaxIter)
	}
	if p.Tolerance < 0 || math.IsNaN(p.Tolerance) {
		return clustererr.Configuration("tolerance", "must be non-negative, got %v", p.Tolerance)
	}
	return nil
}

// Model is a fitted k-means partition.
type Model struct {
	K          int
	Centroids  [][]float64
	Labels     []int
	Inertia    float64 // sum of squared distances to the assigned centroids
	Iterations int     // Lloyd iterations taken by the winning restart
}

// Predict returns the index of the centroid nearest to p.
func (m *Model) Predict(p []float64) int {
	best, _ := nearest(p, m.Centroids)
	return best
}

// Fit partitions points into exactly k clusters. It restarts NInit times
// and keeps the run with the lowest inertia.
func Fit(ctx context.Context, points *coords.Matrix, k int, p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := points.Len()
	if k < 1 {
		return nil, clustererr.Configuration("k", "must be at least 1, got %d", k)
	}
	if k > n {
		return nil, clustererr.Configuration("k", "k=%d exceeds sample count %d", k, n)
	}

	rng := rand.New(newSource(p.Seed, k))
	tol := p.Tolerance * meanVariance(points)

	var best *Model
	for run := 0; run < p.NInit; run++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var centroids [][]float64
		if p.Init == InitRandom {
			centroids = seedRandom(points, k, rng)
		} else {
			centroids = seedPlusPlus(points, k, rng)
		}
		m := lloyd(points, centroids, p.MaxIter, tol)
		if best == nil || m.Inertia < best.Inertia {
			best = m
		}
	}
	if best == nil || math.IsNaN(best.Inertia) {
		return nil, fmt.Errorf("k-means failed to converge for k=%d", k)
	}
	return best, nil
}

// newSource derives the RNG stream for one Fit call. Seeded streams are
// keyed on k so that evaluations at different counts are independent of
// the order they run in.
func newSource(seed *uint64, k int) rand.Source {
	if seed == nil {
		return rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return rand.NewPCG(*seed, uint64(k))
}

func meanVariance(points *coords.Matrix) float64 {
	if points.Len() < 2 {
		return 0
	}
	var sum float64
	for j := 0; j < coords.Dims; j++ {
		sum += stat.Variance(points.Column(j), nil)
	}
	return sum / coords.Dims
}

func seedRandom(points *coords.Matrix, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(points.Len())
	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		centroids[c] = append([]float64(nil), points.Point(perm[c])...)
	}
	return centroids
}

// seedPlusPlus is greedy k-means++: each step draws 2+ln(k) candidates with
// probability proportional to D² and keeps the one that lowers the total
// potential the most.
func seedPlusPlus(points *coords.Matrix, k int, rng *rand.Rand) [][]float64 {
	n := points.Len()
	trials := 2 + int(math.Log(float64(k)))

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points.Point(rng.IntN(n))...))

	closest := make([]float64, n)
	for i := 0; i < n; i++ {
		closest[i] = sqDist(points.Point(i), centroids[0])
	}

	for len(centroids) < k {
		sampler := sampleuv.NewWeighted(closest, rng)
		bestIdx := -1
		bestPot := math.Inf(1)
		var bestClosest []float64
		for t := 0; t < trials; t++ {
			idx, ok := sampler.Take()
			if !ok {
				break
			}
			cand := points.Point(idx)
			next := make([]float64, n)
			for i := 0; i < n; i++ {
				next[i] = math.Min(closest[i], sqDist(points.Point(i), cand))
			}
			if pot := floats.Sum(next); pot < bestPot {
				bestIdx, bestPot, bestClosest = idx, pot, next
			}
		}
		if bestIdx < 0 {
			// All remaining weight is zero: every point coincides with a centroid.
			bestIdx = rng.IntN(n)
			bestClosest = closest
		}
		centroids = append(centroids, append([]float64(nil), points.Point(bestIdx)...))
		closest = bestClosest
	}
	return centroids
}

func lloyd(points *coords.Matrix, centroids [][]float64, maxIter int, tol float64) *Model {
	n := points.Len()
	k := len(centroids)
	labels := make([]int, n)
	dists := make([]float64, n)

	iter := 0
	for iter < maxIter {
		iter++
		assign(points, centroids, labels, dists)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, coords.Dims)
		}
		for i := 0; i < n; i++ {
			floats.Add(next[labels[i]], points.Point(i))
			counts[labels[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), next[c])
				continue
			}
			// Empty cluster: move it onto the point farthest from its centroid.
			far := floats.MaxIdx(dists)
			copy(next[c], points.Point(far))
			dists[far] = 0
		}

		var shift float64
		for c := 0; c < k; c++ {
			shift += sqDist(centroids[c], next[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	inertia := assign(points, centroids, labels, dists)
	return &Model{K: k, Centroids: centroids, Labels: labels, Inertia: inertia, Iterations: iter}
}

// assign labels every point with its nearest centroid and returns the inertia.
func assign(points *coords.Matrix, centroids [][]float64, labels []int, dists []float64) float64 {
	var inertia float64
	for i := range labels {
		labels[i], dists[i] = nearest(points.Point(i), centroids)
		inertia += dists[i]
	}
	return inertia
}

func nearest(p []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
