package transformer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/kmeans"
	"github.com/banshee-data/coordcluster/internal/monitoring"
	"github.com/banshee-data/coordcluster/internal/render"
	"github.com/banshee-data/coordcluster/internal/sweep"
	"github.com/banshee-data/coordcluster/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func seededConfig(seed uint64) Config {
	cfg := DefaultConfig()
	cfg.Clustering.Seed = testutil.Seed(seed)
	return cfg
}

// curveEvaluator scores k with a fixed function and counts calls.
type curveEvaluator struct {
	score func(k int) float64
	calls int
}

func (e *curveEvaluator) Distortion(_ context.Context, _ *coords.Matrix, k int) (float64, error) {
	e.calls++
	return e.score(k), nil
}

func elbowAt(knee int) *curveEvaluator {
	return &curveEvaluator{score: func(k int) float64 {
		if k <= knee {
			return 1000 - 200*float64(k)
		}
		return 1000 - 200*float64(knee) - float64(k-knee)
	}}
}

// countingFitter wraps kmeans.Fit and counts calls.
type countingFitter struct{ calls int }

func (c *countingFitter) fit(ctx context.Context, points *coords.Matrix, k int, p kmeans.Params) (*kmeans.Model, error) {
	c.calls++
	return kmeans.Fit(ctx, points, k, p)
}

func TestFitTransform_SixBlobs(t *testing.T) {
	pts := testutil.SixBlobs(21)
	tr := New(seededConfig(3))

	labels, err := tr.FitTransform(context.Background(), pts)
	require.NoError(t, err)

	k, err := tr.OptimalK()
	require.NoError(t, err)
	assert.InDelta(t, 6, k, 1)
	assert.Equal(t, Transformed, tr.State())

	require.Len(t, labels, len(pts))
	for i, l := range labels {
		assert.GreaterOrEqual(t, l, 0, "row %d", i)
		assert.Less(t, l, k, "row %d", i)
	}

	curve, err := tr.Curve()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6, 7, 8, 9, 10, 11, 12}, curve.Ks())
	for i := 1; i < len(curve); i++ {
		assert.LessOrEqual(t, curve[i].Score, curve[i-1].Score*1.05, "k=%d", curve[i].K)
	}
}

func TestTransform_SeededIsIdempotent(t *testing.T) {
	pts := testutil.SixBlobs(8)

	a, err := New(seededConfig(5)).FitTransform(context.Background(), pts)
	require.NoError(t, err)
	b, err := New(seededConfig(5)).FitTransform(context.Background(), pts)
	require.NoError(t, err)
	assert.True(t, testutil.SamePartition(a, b))

	tr := New(seededConfig(5))
	require.NoError(t, tr.Fit(context.Background(), pts))
	first, err := tr.Transform(context.Background(), pts)
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), pts)
	require.NoError(t, err)
	assert.True(t, testutil.SamePartition(first, second))
}

func TestFit_RejectsInvalidInputWithoutClustering(t *testing.T) {
	testCases := []struct {
		name   string
		src    coords.Source
		defect clustererr.Defect
	}{
		{"nan", coords.Rows{{0, 0}, {math.NaN(), 1}, {2, 2}, {3, 3}}, clustererr.DefectMissing},
		{"inf", coords.Rows{{0, 0}, {1, math.Inf(1)}, {2, 2}, {3, 3}}, clustererr.DefectNonFinite},
		{"three_columns", coords.Rows{{0, 0, 0}, {1, 1, 1}}, clustererr.DefectShape},
		{"empty", coords.Rows{}, clustererr.DefectShape},
		{"missing_cell", &coords.Table{Header: []string{"lon", "lat"}, Records: [][]string{{"1", "2"}, {"", "3"}}}, clustererr.DefectMissing},
		{"non_numeric", &coords.Table{Header: []string{"lon", "lat"}, Records: [][]string{{"1", "2"}, {"east", "3"}}}, clustererr.DefectNonNumeric},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev := elbowAt(6)
			tr := New(DefaultConfig(), WithEvaluator(ev))

			err := tr.Fit(context.Background(), tc.src)
			require.ErrorIs(t, err, clustererr.ErrValidation)
			var verr *clustererr.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.defect, verr.Defect)

			_, err = tr.FitTransform(context.Background(), tc.src)
			assert.ErrorIs(t, err, clustererr.ErrValidation)

			assert.Zero(t, ev.calls, "no clustering on invalid input")
			assert.Equal(t, Unfitted, tr.State())
		})
	}
}

func TestTransform_BeforeFit(t *testing.T) {
	fitter := &countingFitter{}
	tr := New(DefaultConfig(), WithFitter(fitter.fit))

	_, err := tr.Transform(context.Background(), testutil.SixBlobs(1))
	require.ErrorIs(t, err, clustererr.ErrInvalidState)
	assert.Contains(t, err.Error(), "not fitted yet")
	assert.Contains(t, err.Error(), Kind)
	assert.Zero(t, fitter.calls)

	// Lifecycle errors win over input errors.
	_, err = tr.Transform(context.Background(), coords.Rows{{math.NaN(), 0}})
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
}

func TestAccessorsRequireLifecycle(t *testing.T) {
	tr := New(DefaultConfig(), WithEvaluator(elbowAt(6)))

	_, err := tr.Curve()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	_, err = tr.OptimalK()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	_, err = tr.Knee()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	_, err = tr.Labels()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)

	require.NoError(t, tr.Fit(context.Background(), testutil.SixBlobs(2)))
	k, err := tr.OptimalK()
	require.NoError(t, err)
	assert.Equal(t, 6, k)

	res, err := tr.Knee()
	require.NoError(t, err)
	assert.True(t, res.Found)

	_, err = tr.Model()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	_, err = tr.Coordinates()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	err = tr.Render(render.SinkFunc(func(render.Frame) error { return nil }))
	require.ErrorIs(t, err, clustererr.ErrInvalidState)
	assert.Contains(t, err.Error(), "not transformed yet")
}

func TestFit_TooFewCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandidateRange = sweep.CandidateRange{4, 5}
	ev := elbowAt(6)

	tr := New(cfg, WithEvaluator(ev))
	err := tr.Fit(context.Background(), testutil.SixBlobs(1))
	assert.ErrorIs(t, err, clustererr.ErrConfiguration)
	assert.Zero(t, ev.calls)
}

func TestFit_CandidateAboveRowCount(t *testing.T) {
	ev := elbowAt(6)
	tr := New(DefaultConfig(), WithEvaluator(ev))

	rows := coords.Rows{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}
	err := tr.Fit(context.Background(), rows)
	assert.ErrorIs(t, err, clustererr.ErrConfiguration)
	assert.Zero(t, ev.calls)
}

func TestFit_NoKneeIsConfigurationError(t *testing.T) {
	linear := &curveEvaluator{score: func(k int) float64 { return 1000 - 10*float64(k) }}
	tr := New(DefaultConfig(), WithEvaluator(linear))

	err := tr.Fit(context.Background(), testutil.SixBlobs(1))
	require.ErrorIs(t, err, clustererr.ErrConfiguration)
	assert.Contains(t, err.Error(), "no knee")
	assert.Equal(t, Unfitted, tr.State())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"strategy", func(c *Config) { c.Strategy = "dbscan" }, "strategy"},
		{"sensitivity_zero", func(c *Config) { c.Sensitivity = 0 }, "sensitivity"},
		{"sensitivity_inf", func(c *Config) { c.Sensitivity = math.Inf(1) }, "sensitivity"},
		{"workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"clustering", func(c *Config) { c.Clustering.NInit = 0 }, ""},
		{"range_not_increasing", func(c *Config) { c.CandidateRange = sweep.CandidateRange{4, 3, 5} }, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, clustererr.ErrConfiguration)
			if tc.field != "" {
				var cerr *clustererr.ConfigurationError
				require.True(t, errors.As(err, &cerr))
				assert.Equal(t, tc.field, cerr.Field)
			}
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestRefitResetsToFitted(t *testing.T) {
	pts := testutil.SixBlobs(4)
	tr := New(seededConfig(1), WithEvaluator(elbowAt(6)))

	_, err := tr.FitTransform(context.Background(), pts)
	require.NoError(t, err)
	require.Equal(t, Transformed, tr.State())

	require.NoError(t, tr.Fit(context.Background(), pts))
	assert.Equal(t, Fitted, tr.State())
	_, err = tr.Labels()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)

	// A failed re-fit keeps the previous result.
	err = tr.Fit(context.Background(), coords.Rows{{math.NaN(), 0}})
	require.ErrorIs(t, err, clustererr.ErrValidation)
	assert.Equal(t, Fitted, tr.State())
	k, err := tr.OptimalK()
	require.NoError(t, err)
	assert.Equal(t, 6, k)
}

func TestTransform_OtherData(t *testing.T) {
	tr := New(seededConfig(2), WithEvaluator(elbowAt(6)))
	require.NoError(t, tr.Fit(context.Background(), testutil.SixBlobs(1)))

	other := testutil.Blobs(9, testutil.SixCenters, 10, 0.5)
	labels, err := tr.Transform(context.Background(), other)
	require.NoError(t, err)
	assert.Len(t, labels, 60)

	m, err := tr.Model()
	require.NoError(t, err)
	assert.Equal(t, 6, m.K)
}

func TestRender(t *testing.T) {
	tr := New(seededConfig(2), WithEvaluator(elbowAt(6)))
	pts := testutil.SixBlobs(3)
	labels, err := tr.FitTransform(context.Background(), pts)
	require.NoError(t, err)

	var got render.Frame
	require.NoError(t, tr.Render(render.SinkFunc(func(f render.Frame) error {
		got = f
		return nil
	})))
	assert.Equal(t, 6, got.OptimalK)
	assert.Equal(t, []int(labels), got.Labels)
	assert.Equal(t, len(pts), got.Points.Len())
	assert.Len(t, got.Curve, 9)
}

func TestParamsIsACopy(t *testing.T) {
	cfg := seededConfig(7)
	tr := New(cfg)

	cfg.CandidateRange[0] = 99
	*cfg.Clustering.Seed = 1

	p := tr.Params()
	assert.Equal(t, 4, p.CandidateRange[0])
	assert.Equal(t, uint64(7), *p.Clustering.Seed)

	p.CandidateRange[0] = 42
	assert.Equal(t, 4, tr.Params().CandidateRange[0])
}

func TestLabelsColumn(t *testing.T) {
	col := Labels{2, 0, 1}.Column()
	r, c := col.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, 2.0, col.At(0, 0))
	assert.Equal(t, 1.0, col.At(2, 0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unfitted", Unfitted.String())
	assert.Equal(t, "fitted", Fitted.String())
	assert.Equal(t, "transformed", Transformed.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestPredictAndFeatures(t *testing.T) {
	tr := New(seededConfig(5), WithEvaluator(elbowAt(6)))
	pts := testutil.SixBlobs(8)

	_, err := tr.Predict(pts)
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)
	_, err = tr.Features()
	assert.ErrorIs(t, err, clustererr.ErrInvalidState)

	labels, err := tr.FitTransform(context.Background(), pts)
	require.NoError(t, err)

	predicted, err := tr.Predict(pts)
	require.NoError(t, err)
	assert.Equal(t, labels, predicted)

	_, err = tr.Predict(coords.Rows{{1, math.NaN()}})
	assert.ErrorIs(t, err, clustererr.ErrValidation)

	features, err := tr.Features()
	require.NoError(t, err)
	r, c := features.Dims()
	assert.Equal(t, len(pts), r)
	assert.Equal(t, 3, c)
	for i, l := range labels {
		assert.Equal(t, pts[i][0], features.At(i, 0))
		assert.Equal(t, float64(l), features.At(i, 2))
	}
}
