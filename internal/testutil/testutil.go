// Package testutil provides shared test fixtures: synthetic coordinate
// blobs and partition comparison.
package testutil

import (
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/coordcluster/internal/coords"
)

// SixCenters are well separated blob centres on a 2-D plane.
var SixCenters = [][coords.Dims]float64{
	{0, 0}, {20, 0}, {40, 0},
	{0, 20}, {20, 20}, {40, 20},
}

// Blobs draws perBlob Gaussian points around each centre. The output is
// deterministic for a given seed.
func Blobs(seed uint64, centers [][coords.Dims]float64, perBlob int, sigma float64) coords.Points {
	pts := make(coords.Points, 0, len(centers)*perBlob)
	for c, center := range centers {
		src := rand.NewPCG(seed, uint64(c))
		x := distuv.Normal{Mu: center[0], Sigma: sigma, Src: src}
		y := distuv.Normal{Mu: center[1], Sigma: sigma, Src: src}
		for i := 0; i < perBlob; i++ {
			pts = append(pts, [coords.Dims]float64{x.Rand(), y.Rand()})
		}
	}
	return pts
}

// SixBlobs returns 300 points in six well separated blobs.
func SixBlobs(seed uint64) coords.Points {
	return Blobs(seed, SixCenters, 50, 1.0)
}

// MustMatrix normalises src or fails the test.
func MustMatrix(t testing.TB, src coords.Source) *coords.Matrix {
	t.Helper()
	m, err := coords.Normalize(src)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return m
}

// Seed returns a pointer to v for optional seed fields.
func Seed(v uint64) *uint64 {
	return &v
}

// SamePartition reports whether two labellings group the points
// identically, ignoring the integer identity of each label.
func SamePartition(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	fwd := map[int]int{}
	rev := map[int]int{}
	for i := range a {
		if m, ok := fwd[a[i]]; ok && m != b[i] {
			return false
		}
		if m, ok := rev[b[i]]; ok && m != a[i] {
			return false
		}
		fwd[a[i]] = b[i]
		rev[b[i]] = a[i]
	}
	return true
}
