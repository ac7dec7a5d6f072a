package kmeans

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/coords"
)

// DistortionScore returns the sum of squared distances from each point to
// the mean of its labelled cluster. Centroids are recomputed from the
// labels rather than taken from a model.
func DistortionScore(points *coords.Matrix, labels []int) float64 {
	sums := map[int][]float64{}
	counts := map[int]int{}
	for i, l := range labels {
		if sums[l] == nil {
			sums[l] = make([]float64, coords.Dims)
		}
		floats.Add(sums[l], points.Point(i))
		counts[l]++
	}
	for l, s := range sums {
		floats.Scale(1/float64(counts[l]), s)
	}

	var score float64
	for i, l := range labels {
		score += sqDist(points.Point(i), sums[l])
	}
	return score
}

// Evaluator scores a candidate cluster count. Implementations must not
// share mutable state between calls.
type Evaluator interface {
	Distortion(ctx context.Context, points *coords.Matrix, k int) (float64, error)
}

// DistortionEvaluator runs k-means at each requested count.
type DistortionEvaluator struct {
	Params Params
}

// NewEvaluator returns a DistortionEvaluator using p.
func NewEvaluator(p Params) *DistortionEvaluator {
	return &DistortionEvaluator{Params: p}
}

// Distortion fits k-means with exactly k clusters and scores the final
// assignment.
func (e *DistortionEvaluator) Distortion(ctx context.Context, points *coords.Matrix, k int) (float64, error) {
	return Distortion(ctx, points, k, e.Params)
}

// Distortion is the stateless form of DistortionEvaluator.Distortion.
func Distortion(ctx context.Context, points *coords.Matrix, k int, p Params) (float64, error) {
	if k < 2 {
		return 0, clustererr.Configuration("k", "candidate count must be at least 2, got %d", k)
	}
	m, err := Fit(ctx, points, k, p)
	if err != nil {
		return 0, err
	}
	return DistortionScore(points, m.Labels), nil
}
