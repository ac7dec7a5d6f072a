package coords

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/coordcluster/internal/clustererr"
)

// Rows adapts a raw [][]float64 to Source. Ragged rows are a shape defect.
type Rows [][]float64

func (r Rows) Dims() (int, int) {
	if len(r) == 0 {
		return 0, Dims
	}
	return len(r), len(r[0])
}

func (r Rows) Value(i, j int) (float64, error) {
	if len(r[i]) != len(r[0]) {
		return 0, clustererr.ValidationAt(clustererr.DefectShape, i, j, "row has %d columns, expected %d", len(r[i]), len(r[0]))
	}
	return r[i][j], nil
}

// Points adapts a slice of fixed-size pairs to Source.
type Points [][Dims]float64

func (p Points) Dims() (int, int)                { return len(p), Dims }
func (p Points) Value(i, j int) (float64, error) { return p[i][j], nil }

// FromMatrix adapts a gonum matrix to Source.
func FromMatrix(m mat.Matrix) Source { return matrixSource{m} }

type matrixSource struct{ m mat.Matrix }

func (s matrixSource) Dims() (int, int)                { return s.m.Dims() }
func (s matrixSource) Value(i, j int) (float64, error) { return s.m.At(i, j), nil }

// Table is labelled tabular input with string cells, typically read from
// a CSV file. Empty cells and NA markers are missing values; anything else
// that fails to parse is a non-numeric column.
type Table struct {
	Header  []string
	Records [][]string
}

var missingMarkers = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"null": true,
	"none": true,
}

func (t *Table) Dims() (int, int) {
	if len(t.Header) > 0 {
		return len(t.Records), len(t.Header)
	}
	if len(t.Records) == 0 {
		return 0, Dims
	}
	return len(t.Records), len(t.Records[0])
}

func (t *Table) Value(i, j int) (float64, error) {
	row := t.Records[i]
	if _, cols := t.Dims(); len(row) != cols {
		return 0, clustererr.ValidationAt(clustererr.DefectShape, i, min(len(row), cols), "row has %d columns, want %d", len(row), cols)
	}
	cell := strings.TrimSpace(row[j])
	if missingMarkers[strings.ToLower(cell)] {
		return math.NaN(), clustererr.ValidationAt(clustererr.DefectMissing, i, j, "input contains missing value %q", cell)
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, clustererr.ValidationAt(clustererr.DefectNonNumeric, i, j, "column %s has non-numeric value %q", t.columnName(j), cell)
	}
	return v, nil
}

func (t *Table) columnName(j int) string {
	if j < len(t.Header) {
		return strconv.Quote(t.Header[j])
	}
	return strconv.Itoa(j)
}

// Project returns a table holding only the named columns, in the order
// given. A record whose width differs from the header fails with a shape
// ValidationError; a missing column fails with a plain error.
func (t *Table) Project(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for n, name := range names {
		idx[n] = -1
		for j, h := range t.Header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				idx[n] = j
				break
			}
		}
		if idx[n] < 0 {
			return nil, fmt.Errorf("column %q not found in header %v", name, t.Header)
		}
	}

	out := &Table{Header: append([]string(nil), names...), Records: make([][]string, len(t.Records))}
	for i, row := range t.Records {
		if len(row) != len(t.Header) {
			return nil, clustererr.ValidationAt(clustererr.DefectShape, i, min(len(row), len(t.Header)), "row has %d columns, header has %d", len(row), len(t.Header))
		}
		projected := make([]string, len(idx))
		for n, j := range idx {
			projected[n] = row[j]
		}
		out.Records[i] = projected
	}
	return out, nil
}

// ReadCSV reads a CSV document whose first record is a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}
	return &Table{Header: records[0], Records: records[1:]}, nil
}
