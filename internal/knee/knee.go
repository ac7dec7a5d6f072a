// Package knee locates the elbow of a convex, decreasing curve such as
// k-means distortion against cluster count.
//
// Both axes are min-max normalised to [0, 1]. The difference curve is the
// vertical distance of each normalised point below the chord joining the
// first and last points; the knee is where that distance peaks. A peak is
// only accepted when it stands out from the curve's own point-to-point
// variation by the sensitivity factor S, so flat or noisy curves report no
// knee instead of an arbitrary point.
package knee

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSensitivity is the conventional S=1 threshold.
const DefaultSensitivity = 1.0

const (
	// minPoints is the shortest curve that can exhibit curvature.
	minPoints = 3
	// flatEpsilon absorbs rounding in the difference curve of a straight line.
	flatEpsilon = 1e-9
)

// Result carries the located knee and the intermediate curves, which are
// useful for charting.
type Result struct {
	Found     bool
	Index     int     // position of the knee in the input, -1 if none
	X         float64 // knee x-value, NaN if none
	Threshold float64 // S × mean |ΔD|

	XNormalized []float64
	YNormalized []float64
	Difference  []float64
}

// Locator finds knees with a fixed sensitivity.
type Locator struct {
	Sensitivity float64
}

// NewLocator returns a Locator with sensitivity s. Non-positive values
// fall back to DefaultSensitivity.
func NewLocator(s float64) *Locator {
	if !(s > 0) {
		s = DefaultSensitivity
	}
	return &Locator{Sensitivity: s}
}

// Locate returns the knee x-value, or ok=false when there is none.
func (l *Locator) Locate(xs, ys []float64) (x float64, ok bool) {
	r := l.Analyze(xs, ys)
	return r.X, r.Found
}

// Analyze runs the full detection and returns all intermediate curves.
// Inputs must be the same length with strictly increasing xs; anything
// else yields a Result with Found=false.
func (l *Locator) Analyze(xs, ys []float64) Result {
	none := Result{Index: -1, X: math.NaN()}
	n := len(xs)
	if n < minPoints || len(ys) != n || !strictlyIncreasing(xs) {
		return none
	}
	for _, v := range ys {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return none
		}
	}

	xn, okX := normalize(xs)
	yn, okY := normalize(ys)
	if !okX || !okY {
		return none
	}

	// Chord from (0, y0) to (1, yn-1); for a decreasing curve this runs from
	// (0, 1) to (1, 0). Positive values lie below the chord.
	y0, y1 := yn[0], yn[n-1]
	diff := make([]float64, n)
	for i := range diff {
		chord := y0 + (y1-y0)*xn[i]
		diff[i] = chord - yn[i]
	}

	steps := make([]float64, n-1)
	for i := range steps {
		steps[i] = math.Abs(diff[i+1] - diff[i])
	}
	threshold := l.Sensitivity * stat.Mean(steps, nil)

	res := Result{
		Index:       -1,
		X:           math.NaN(),
		Threshold:   threshold,
		XNormalized: xn,
		YNormalized: yn,
		Difference:  diff,
	}

	// Values within flatEpsilon of the peak tie; the smallest x wins.
	peak := floats.Max(diff)
	idx := 0
	for i, d := range diff {
		if d >= peak-flatEpsilon {
			idx = i
			break
		}
	}
	if diff[idx] > flatEpsilon && diff[idx] > threshold {
		res.Found = true
		res.Index = idx
		res.X = xs[idx]
	}
	return res
}

// Locate runs a Locator with the default sensitivity.
func Locate(xs, ys []float64) (float64, bool) {
	return NewLocator(DefaultSensitivity).Locate(xs, ys)
}

func normalize(v []float64) ([]float64, bool) {
	lo, hi := floats.Min(v), floats.Max(v)
	span := hi - lo
	if !(span > 0) {
		return nil, false
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - lo) / span
	}
	return out, true
}

func strictlyIncreasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if !(v[i] > v[i-1]) {
			return false
		}
	}
	return true
}
