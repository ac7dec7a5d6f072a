package coords

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/coordcluster/internal/clustererr"
)

func defectOf(t *testing.T, err error) clustererr.Defect {
	t.Helper()
	var ve *clustererr.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Defect
}

func TestNormalize_Sources(t *testing.T) {
	want := [][]float64{{1, 3}, {2, 4}, {5, 6}}

	testCases := []struct {
		name string
		src  Source
	}{
		{"rows", Rows{{1, 3}, {2, 4}, {5, 6}}},
		{"points", Points{{1, 3}, {2, 4}, {5, 6}}},
		{"matrix", FromMatrix(mat.NewDense(3, 2, []float64{1, 3, 2, 4, 5, 6}))},
		{"table", &Table{Header: []string{"longitude", "latitude"}, Records: [][]string{{"1", "3"}, {"2", "4"}, {" 5 ", "6.0"}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Normalize(tc.src)
			require.NoError(t, err)
			require.Equal(t, 3, m.Len())
			got := make([][]float64, m.Len())
			for i := range got {
				got[i] = append([]float64(nil), m.Point(i)...)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("points mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_Defects(t *testing.T) {
	testCases := []struct {
		name   string
		src    Source
		defect clustererr.Defect
	}{
		{"nil", nil, clustererr.DefectShape},
		{"empty", Rows{}, clustererr.DefectShape},
		{"three_columns", Rows{{1, 2, 3}}, clustererr.DefectShape},
		{"ragged", Rows{{1, 2}, {3}}, clustererr.DefectShape},
		{"nan", Rows{{1, 3}, {2, 4}, {math.NaN(), 5}}, clustererr.DefectMissing},
		{"pos_inf", Rows{{1, math.Inf(1)}}, clustererr.DefectNonFinite},
		{"neg_inf", Points{{math.Inf(-1), 0}}, clustererr.DefectNonFinite},
		{"table_missing", &Table{Header: []string{"longitude", "latitude"}, Records: [][]string{{"1", "3"}, {"", "4"}}}, clustererr.DefectMissing},
		{"table_nan_marker", &Table{Header: []string{"longitude", "latitude"}, Records: [][]string{{"NaN", "3"}}}, clustererr.DefectMissing},
		{"table_extra_cell", &Table{Header: []string{"x", "y"}, Records: [][]string{{"1", "2", "999"}, {"3", "4"}}}, clustererr.DefectShape},
		{"table_short_row", &Table{Header: []string{"x", "y"}, Records: [][]string{{"3", "4"}, {"1"}}}, clustererr.DefectShape},
		{"headerless_ragged", &Table{Records: [][]string{{"1", "2"}, {"3", "4", "5"}}}, clustererr.DefectShape},
		{"table_object", &Table{Header: []string{"longitude", "latitude"}, Records: [][]string{{"1", "3"}, {"missing", "4"}, {"missing2", "5"}}}, clustererr.DefectNonNumeric},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, clustererr.ErrValidation)
			assert.Equal(t, tc.defect, defectOf(t, err))
		})
	}
}

func TestMatrix_Accessors(t *testing.T) {
	m, err := Normalize(Rows{{-1, 10}, {3, -2}, {0, 4}})
	require.NoError(t, err)

	assert.Equal(t, []float64{-1, 3, 0}, m.Column(0))
	lo, hi := m.Bounds()
	assert.Equal(t, [Dims]float64{-1, -2}, lo)
	assert.Equal(t, [Dims]float64{3, 10}, hi)

	d := m.Dense()
	d.Set(0, 0, 99)
	assert.Equal(t, -1.0, m.Point(0)[0], "Dense must return a copy")
}

func TestReadCSVAndProject(t *testing.T) {
	doc := "id,longitude,latitude\n1,-122.4,37.7\n2,-122.5,37.8\n"
	tbl, err := ReadCSV(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "longitude", "latitude"}, tbl.Header)

	_, err = Normalize(tbl)
	assert.ErrorIs(t, err, clustererr.ErrValidation, "three columns is a shape defect")

	proj, err := tbl.Project("longitude", "latitude")
	require.NoError(t, err)
	m, err := Normalize(proj)
	require.NoError(t, err)
	assert.Equal(t, []float64{-122.5, 37.8}, m.Point(1))

	_, err = tbl.Project("altitude")
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestReadCSV_RaggedRowsAreShapeDefects(t *testing.T) {
	testCases := []struct {
		name    string
		doc     string
		project bool
		wantRow int
		wantCol int
	}{
		{"extra_cell", "x,y\n1,2,999\n3,4\n", false, 0, 2},
		{"short_row", "x,y\n3,4\n1\n", false, 1, 1},
		{"project_extra_cell", "id,longitude,latitude\n1,-122.4,37.7\n2,-122.5,37.8,5\n", true, 1, 3},
		{"project_short_row", "id,longitude,latitude\n1,-122.4\n", true, 0, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := ReadCSV(strings.NewReader(tc.doc))
			require.NoError(t, err)

			if tc.project {
				_, err = tbl.Project("longitude", "latitude")
			} else {
				_, err = Normalize(tbl)
			}
			require.ErrorIs(t, err, clustererr.ErrValidation)
			var verr *clustererr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, clustererr.DefectShape, verr.Defect)
			assert.Equal(t, tc.wantRow, verr.Row)
			assert.Equal(t, tc.wantCol, verr.Col)
		})
	}
}
