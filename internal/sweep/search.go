package sweep

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/kmeans"
	"github.com/banshee-data/coordcluster/internal/monitoring"
)

var logf = monitoring.Prefixed("sweep")

// Point is one evaluated candidate on the distortion curve.
type Point struct {
	K     int     `json:"k"`
	Score float64 `json:"score"`
}

// Curve is the distortion curve in candidate-range order.
type Curve []Point

// Ks returns the candidate counts as float64 for curve analysis.
func (c Curve) Ks() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = float64(p.K)
	}
	return out
}

// Scores returns the distortion scores in order.
func (c Curve) Scores() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Score
	}
	return out
}

// Score returns the score recorded for k.
func (c Curve) Score(k int) (float64, bool) {
	for _, p := range c {
		if p.K == k {
			return p.Score, true
		}
	}
	return 0, false
}

// Options tunes how the search runs. It never changes the curve produced.
type Options struct {
	// Workers bounds concurrent evaluations. Values below 2 run sequentially.
	Workers int
}

// Search evaluates every candidate count once, in order, and returns the
// distortion curve. The first failing evaluation aborts the search.
func Search(ctx context.Context, points *coords.Matrix, candidates CandidateRange, ev kmeans.Evaluator, opts Options) (Curve, error) {
	if err := candidates.Validate(); err != nil {
		return nil, err
	}
	if n := points.Len(); candidates.Max() > n {
		return nil, clustererr.Configuration("candidate_range", "largest candidate k=%d exceeds sample count %d", candidates.Max(), n)
	}

	start := time.Now()
	curve := make(Curve, len(candidates))
	evaluate := func(ctx context.Context, i int) error {
		k := candidates[i]
		score, err := ev.Distortion(ctx, points, k)
		if err != nil {
			return fmt.Errorf("evaluating k=%d: %w", k, err)
		}
		curve[i] = Point{K: k, Score: score}
		logf("k=%d distortion=%.4f", k, score)
		return nil
	}

	if opts.Workers < 2 {
		for i := range candidates {
			if err := evaluate(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range candidates {
			g.Go(func() error { return evaluate(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	logf("searched %d candidates (%s) over %d points in %s", len(candidates), candidates, points.Len(), time.Since(start).Round(time.Millisecond))
	return curve, nil
}
