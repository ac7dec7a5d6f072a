// Package sweep evaluates clustering quality across a range of candidate
// cluster counts. It includes candidate-range parsing, the search itself
// and the resulting distortion curve.
package sweep

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/coordcluster/internal/clustererr"
)

// MinCandidates is the shortest range the knee locator can work with.
const MinCandidates = 3

// CandidateRange is an ordered, strictly increasing list of cluster counts.
type CandidateRange []int

// DefaultCandidateRange returns 4..12 inclusive.
func DefaultCandidateRange() CandidateRange {
	return CandidateRange(GenerateIntRange(4, 12, 1))
}

// Validate checks length, ordering and that every count is at least 2.
func (r CandidateRange) Validate() error {
	if len(r) < MinCandidates {
		return clustererr.Configuration("candidate_range", "need at least %d candidate counts, got %d", MinCandidates, len(r))
	}
	for i, k := range r {
		if k < 2 {
			return clustererr.Configuration("candidate_range", "candidate counts must be at least 2, got %d", k)
		}
		if i > 0 && k <= r[i-1] {
			return clustererr.Configuration("candidate_range", "candidate counts must be strictly increasing, got %d after %d", k, r[i-1])
		}
	}
	return nil
}

// Max returns the largest candidate count, or 0 for an empty range.
func (r CandidateRange) Max() int {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

// String renders the range as a comma-separated list.
func (r CandidateRange) String() string {
	parts := make([]string, len(r))
	for i, k := range r {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, ",")
}

// IntRangeSpec defines an integer range for sweeping.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
// Returns an error if the format is invalid or values cannot be parsed.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return IntRangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	step, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	if step <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", step)
	}

	return IntRangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateIntRange generates a slice of int values from min to max (inclusive)
// stepping by step. Returns nil if min > max or step is not positive.
// The number of generated values is capped to bound memory use.
func GenerateIntRange(min, max, step int) []int {
	if step <= 0 || min > max {
		return nil
	}

	const maxValues = 10000
	expectedCount := (max-min)/step + 1
	if expectedCount > maxValues || expectedCount < 0 {
		return nil
	}

	result := make([]int, 0, expectedCount)
	for v := min; v <= max; v += step {
		result = append(result, v)
	}
	return result
}

// ParseCSVInts parses a comma-separated list of int values.
// Returns nil, nil for empty input strings.
func ParseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseCandidateRange parses either a "min:max:step" spec or a
// comma-separated list of counts, then validates the result.
func ParseCandidateRange(s string) (CandidateRange, error) {
	var (
		ks  []int
		err error
	)
	if strings.Contains(s, ":") {
		var spec IntRangeSpec
		spec, err = ParseIntRangeSpec(s)
		if err == nil {
			ks = GenerateIntRange(spec.Min, spec.Max, spec.Step)
		}
	} else {
		ks, err = ParseCSVInts(s)
	}
	if err != nil {
		return nil, clustererr.Configuration("candidate_range", "%v", err)
	}

	r := CandidateRange(ks)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
