package transformer

import (
	"math"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/kmeans"
	"github.com/banshee-data/coordcluster/internal/knee"
	"github.com/banshee-data/coordcluster/internal/sweep"
)

// StrategyKMeans is the only supported labelling strategy.
const StrategyKMeans = "kmeans"

// Config is fixed at construction and read by every Fit.
type Config struct {
	Strategy       string               `json:"strategy"`
	CandidateRange sweep.CandidateRange `json:"candidate_range"`
	Sensitivity    float64              `json:"sensitivity"`
	Clustering     kmeans.Params        `json:"clustering"`
	// Workers bounds concurrent evaluations during the search.
	Workers int `json:"workers"`
}

// DefaultConfig returns k-means over candidates 4..12 with S=1.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyKMeans,
		CandidateRange: sweep.DefaultCandidateRange(),
		Sensitivity:    knee.DefaultSensitivity,
		Clustering:     kmeans.DefaultParams(),
		Workers:        1,
	}
}

// Validate reports the first invalid field as a ConfigurationError.
func (c Config) Validate() error {
	if c.Strategy != StrategyKMeans {
		return clustererr.Configuration("strategy", "unsupported strategy %q (want %q)", c.Strategy, StrategyKMeans)
	}
	if err := c.CandidateRange.Validate(); err != nil {
		return err
	}
	if !(c.Sensitivity > 0) || math.IsInf(c.Sensitivity, 0) {
		return clustererr.Configuration("sensitivity", "must be a positive finite number, got %v", c.Sensitivity)
	}
	if c.Workers < 0 {
		return clustererr.Configuration("workers", "must be non-negative, got %d", c.Workers)
	}
	return c.Clustering.Validate()
}

func (c Config) clone() Config {
	c.CandidateRange = append(sweep.CandidateRange(nil), c.CandidateRange...)
	if c.Clustering.Seed != nil {
		seed := *c.Clustering.Seed
		c.Clustering.Seed = &seed
	}
	return c
}
