// Package transformer turns 2-D coordinates into k-means cluster labels,
// choosing k automatically from the elbow of the distortion curve.
//
// A Transformer moves through three states. Fit searches the candidate
// range and picks the optimal count (Unfitted → Fitted). Transform fits
// the final model at that count and labels the points (Fitted →
// Transformed). Calling Fit again resets the instance to Fitted. Reading
// results before the phase that produces them fails with an
// InvalidStateError.
//
// A Transformer is not safe for concurrent use.
package transformer

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/kmeans"
	"github.com/banshee-data/coordcluster/internal/knee"
	"github.com/banshee-data/coordcluster/internal/monitoring"
	"github.com/banshee-data/coordcluster/internal/render"
	"github.com/banshee-data/coordcluster/internal/sweep"
)

// Kind names the transformer in lifecycle error messages.
const Kind = "CoordinateTransformer"

var logf = monitoring.Prefixed("transformer")

// State is the lifecycle position of a Transformer.
type State int

const (
	Unfitted State = iota
	Fitted
	Transformed
)

func (s State) String() string {
	switch s {
	case Unfitted:
		return "unfitted"
	case Fitted:
		return "fitted"
	case Transformed:
		return "transformed"
	default:
		return "unknown"
	}
}

// Labels is one cluster label per input row, in input order.
type Labels []int

// Column returns the labels as an n×1 matrix for pipelines that expect a
// feature column.
func (l Labels) Column() *mat.Dense {
	data := make([]float64, len(l))
	for i, v := range l {
		data[i] = float64(v)
	}
	return mat.NewDense(len(l), 1, data)
}

// FitFunc fits the final clustering model during Transform.
type FitFunc func(ctx context.Context, points *coords.Matrix, k int, p kmeans.Params) (*kmeans.Model, error)

// Option customises a Transformer.
type Option func(*Transformer)

// WithEvaluator replaces the distortion evaluator used by Fit.
func WithEvaluator(ev kmeans.Evaluator) Option {
	return func(t *Transformer) { t.evaluator = ev }
}

// WithFitter replaces the final-model fitter used by Transform.
func WithFitter(f FitFunc) Option {
	return func(t *Transformer) { t.fit = f }
}

// Transformer owns the fit/transform lifecycle. See the package docs.
type Transformer struct {
	cfg       Config
	evaluator kmeans.Evaluator
	fit       FitFunc

	state    State
	curve    sweep.Curve
	knee     knee.Result
	optimalK int
	model    *kmeans.Model
	points   *coords.Matrix
	labels   Labels
}

// New returns an unfitted Transformer. The configuration is validated by
// Fit, so a bad candidate range surfaces there as a ConfigurationError.
func New(cfg Config, opts ...Option) *Transformer {
	t := &Transformer{
		cfg:       cfg.clone(),
		evaluator: kmeans.NewEvaluator(cfg.Clustering),
		fit:       kmeans.Fit,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Params returns a copy of the construction-time configuration.
func (t *Transformer) Params() Config { return t.cfg.clone() }

// State returns the current lifecycle state.
func (t *Transformer) State() State { return t.state }

// Fit learns the optimal cluster count for src. It may be called from any
// state. On failure the previous state is left untouched.
func (t *Transformer) Fit(ctx context.Context, src coords.Source) error {
	points, err := coords.Normalize(src)
	if err != nil {
		return err
	}
	return t.fitMatrix(ctx, points)
}

func (t *Transformer) fitMatrix(ctx context.Context, points *coords.Matrix) error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}

	curve, err := sweep.Search(ctx, points, t.cfg.CandidateRange, t.evaluator, sweep.Options{Workers: t.cfg.Workers})
	if err != nil {
		return err
	}

	res := knee.NewLocator(t.cfg.Sensitivity).Analyze(curve.Ks(), curve.Scores())
	if !res.Found {
		return clustererr.Configuration("knee", "no knee found in the distortion curve over candidates %s (sensitivity %g)", t.cfg.CandidateRange, t.cfg.Sensitivity)
	}

	t.state = Fitted
	t.curve = curve
	t.knee = res
	t.optimalK = curve[res.Index].K
	t.model = nil
	t.points = nil
	t.labels = nil
	logf("selected k=%d from candidates %s over %d points", t.optimalK, t.cfg.CandidateRange, points.Len())
	return nil
}

// Transform fits the final model at the learned cluster count and returns
// the label of every row of src. src need not be the data passed to Fit.
func (t *Transformer) Transform(ctx context.Context, src coords.Source) (Labels, error) {
	if t.state == Unfitted {
		return nil, clustererr.InvalidState(Kind, "transform", "fit")
	}
	points, err := coords.Normalize(src)
	if err != nil {
		return nil, err
	}
	return t.transformMatrix(ctx, points)
}

func (t *Transformer) transformMatrix(ctx context.Context, points *coords.Matrix) (Labels, error) {
	model, err := t.fit(ctx, points, t.optimalK, t.cfg.Clustering)
	if err != nil {
		return nil, err
	}

	t.state = Transformed
	t.model = model
	t.points = points
	t.labels = append(Labels(nil), model.Labels...)
	return append(Labels(nil), t.labels...), nil
}

// FitTransform runs Fit and then Transform on the same input.
func (t *Transformer) FitTransform(ctx context.Context, src coords.Source) (Labels, error) {
	points, err := coords.Normalize(src)
	if err != nil {
		return nil, err
	}
	if err := t.fitMatrix(ctx, points); err != nil {
		return nil, err
	}
	return t.transformMatrix(ctx, points)
}

// Curve returns the distortion curve computed by Fit.
func (t *Transformer) Curve() (sweep.Curve, error) {
	if t.state == Unfitted {
		return nil, clustererr.InvalidState(Kind, "curve", "fit")
	}
	return append(sweep.Curve(nil), t.curve...), nil
}

// Knee returns the knee analysis computed by Fit.
func (t *Transformer) Knee() (knee.Result, error) {
	if t.state == Unfitted {
		return knee.Result{}, clustererr.InvalidState(Kind, "knee", "fit")
	}
	return t.knee, nil
}

// OptimalK returns the cluster count chosen by Fit.
func (t *Transformer) OptimalK() (int, error) {
	if t.state == Unfitted {
		return 0, clustererr.InvalidState(Kind, "optimal_k", "fit")
	}
	return t.optimalK, nil
}

// Model returns the final k-means model fitted by Transform.
func (t *Transformer) Model() (*kmeans.Model, error) {
	if t.state != Transformed {
		return nil, t.notTransformed("model")
	}
	return t.model, nil
}

// Labels returns the assignment produced by the last Transform.
func (t *Transformer) Labels() (Labels, error) {
	if t.state != Transformed {
		return nil, t.notTransformed("labels")
	}
	return append(Labels(nil), t.labels...), nil
}

// Coordinates returns the matrix labelled by the last Transform.
func (t *Transformer) Coordinates() (*coords.Matrix, error) {
	if t.state != Transformed {
		return nil, t.notTransformed("coordinates")
	}
	return t.points, nil
}

// Predict assigns each row of src to the nearest centroid of the model
// fitted by the last Transform. No clustering is run.
func (t *Transformer) Predict(src coords.Source) (Labels, error) {
	if t.state != Transformed {
		return nil, t.notTransformed("predict")
	}
	points, err := coords.Normalize(src)
	if err != nil {
		return nil, err
	}
	labels := make(Labels, points.Len())
	for i := range labels {
		labels[i] = t.model.Predict(points.Point(i))
	}
	return labels, nil
}

// Features returns the transformed coordinates with the label appended as
// a third column, ready to feed a downstream model.
func (t *Transformer) Features() (*mat.Dense, error) {
	if t.state != Transformed {
		return nil, t.notTransformed("features")
	}
	var out mat.Dense
	out.Augment(t.points.Dense(), t.labels.Column())
	return &out, nil
}

// Render hands the transformed coordinates and labels to sink.
func (t *Transformer) Render(sink render.Sink) error {
	if t.state != Transformed {
		return t.notTransformed("render")
	}
	return sink.Render(render.Frame{
		Points:   t.points,
		Labels:   append([]int(nil), t.labels...),
		Curve:    append(sweep.Curve(nil), t.curve...),
		OptimalK: t.optimalK,
	})
}

func (t *Transformer) notTransformed(op string) error {
	return clustererr.InvalidState(Kind, op, "transform")
}
