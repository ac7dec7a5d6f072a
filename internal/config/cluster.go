package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/kmeans"
	"github.com/banshee-data/coordcluster/internal/knee"
	"github.com/banshee-data/coordcluster/internal/sweep"
	"github.com/banshee-data/coordcluster/internal/transformer"
)

// DefaultConfigPath is the path to the canonical clustering defaults file.
const DefaultConfigPath = "config/cluster.defaults.json"

// ClusterConfig is the on-disk form of a transformer configuration. The
// same JSON is accepted as the "config" member of a POST /api/cluster body.
// Omitted fields fall back to the Get* defaults.
type ClusterConfig struct {
	Strategy       *string  `json:"strategy,omitempty"`
	CandidateRange *string  `json:"candidate_range,omitempty"` // "4:12:1" or "4,5,6"
	Sensitivity    *float64 `json:"sensitivity,omitempty"`
	Workers        *int     `json:"workers,omitempty"`

	// k-means params
	Init      *string  `json:"init,omitempty"`
	NInit     *int     `json:"n_init,omitempty"`
	MaxIter   *int     `json:"max_iter,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Seed      *uint64  `json:"seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyClusterConfig returns a ClusterConfig with all fields unset.
func EmptyClusterConfig() *ClusterConfig {
	return &ClusterConfig{}
}

// DefaultClusterConfig returns a ClusterConfig with every field set to
// its default.
func DefaultClusterConfig() *ClusterConfig {
	c := EmptyClusterConfig()
	return &ClusterConfig{
		Strategy:       ptrString(c.GetStrategy()),
		CandidateRange: ptrString(c.GetCandidateRange().String()),
		Sensitivity:    ptrFloat64(c.GetSensitivity()),
		Workers:        ptrInt(c.GetWorkers()),
		Init:           ptrString(c.GetInit()),
		NInit:          ptrInt(c.GetNInit()),
		MaxIter:        ptrInt(c.GetMaxIter()),
		Tolerance:      ptrFloat64(c.GetTolerance()),
	}
}

// LoadClusterConfig loads a ClusterConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseClusterConfig(data)
}

// ParseClusterConfig decodes and validates JSON config bytes.
func ParseClusterConfig(data []byte) (*ClusterConfig, error) {
	cfg := EmptyClusterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching up from the
// working directory. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *ClusterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/coordcluster/
	}
	for _, path := range candidates {
		if cfg, err := LoadClusterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Merge returns a copy of c with every field set in o taking precedence.
func (c *ClusterConfig) Merge(o *ClusterConfig) *ClusterConfig {
	out := *c
	if o == nil {
		return &out
	}
	if o.Strategy != nil {
		out.Strategy = o.Strategy
	}
	if o.CandidateRange != nil {
		out.CandidateRange = o.CandidateRange
	}
	if o.Sensitivity != nil {
		out.Sensitivity = o.Sensitivity
	}
	if o.Workers != nil {
		out.Workers = o.Workers
	}
	if o.Init != nil {
		out.Init = o.Init
	}
	if o.NInit != nil {
		out.NInit = o.NInit
	}
	if o.MaxIter != nil {
		out.MaxIter = o.MaxIter
	}
	if o.Tolerance != nil {
		out.Tolerance = o.Tolerance
	}
	if o.Seed != nil {
		out.Seed = o.Seed
	}
	return &out
}

// Limits bounds the cost a single request override may ask for.
type Limits struct {
	MaxNInit      int
	MaxMaxIter    int
	MaxWorkers    int
	MaxCandidates int
}

// DefaultLimits returns the caps applied to HTTP request overrides.
func DefaultLimits() Limits {
	return Limits{
		MaxNInit:      100,
		MaxMaxIter:    10000,
		MaxWorkers:    64,
		MaxCandidates: 64,
	}
}

// CheckLimits rejects set fields that exceed l. Unset fields are not
// checked; they come from the operator's defaults.
func (c *ClusterConfig) CheckLimits(l Limits) error {
	if c == nil {
		return nil
	}
	if c.NInit != nil && *c.NInit > l.MaxNInit {
		return clustererr.Configuration("n_init", "%d exceeds the server limit of %d", *c.NInit, l.MaxNInit)
	}
	if c.MaxIter != nil && *c.MaxIter > l.MaxMaxIter {
		return clustererr.Configuration("max_iter", "%d exceeds the server limit of %d", *c.MaxIter, l.MaxMaxIter)
	}
	if c.Workers != nil && *c.Workers > l.MaxWorkers {
		return clustererr.Configuration("workers", "%d exceeds the server limit of %d", *c.Workers, l.MaxWorkers)
	}
	if c.CandidateRange != nil {
		r, err := sweep.ParseCandidateRange(*c.CandidateRange)
		if err != nil {
			return err
		}
		if len(r) > l.MaxCandidates {
			return clustererr.Configuration("candidate_range", "%d candidates exceeds the server limit of %d", len(r), l.MaxCandidates)
		}
	}
	return nil
}

// Validate checks every set field by building the transformer config.
func (c *ClusterConfig) Validate() error {
	tc, err := c.TransformerConfig()
	if err != nil {
		return err
	}
	return tc.Validate()
}

// TransformerConfig converts to the runtime configuration.
func (c *ClusterConfig) TransformerConfig() (transformer.Config, error) {
	tc := transformer.DefaultConfig()
	tc.Strategy = c.GetStrategy()
	tc.Sensitivity = c.GetSensitivity()
	tc.Workers = c.GetWorkers()
	tc.Clustering = kmeans.Params{
		Init:      kmeans.Init(c.GetInit()),
		NInit:     c.GetNInit(),
		MaxIter:   c.GetMaxIter(),
		Tolerance: c.GetTolerance(),
	}
	if c.Seed != nil {
		seed := *c.Seed
		tc.Clustering.Seed = &seed
	}
	if c.CandidateRange != nil {
		r, err := sweep.ParseCandidateRange(*c.CandidateRange)
		if err != nil {
			return transformer.Config{}, fmt.Errorf("candidate_range: %w", err)
		}
		tc.CandidateRange = r
	}
	return tc, nil
}

// GetStrategy returns the strategy or the default.
func (c *ClusterConfig) GetStrategy() string {
	if c.Strategy == nil || *c.Strategy == "" {
		return transformer.StrategyKMeans
	}
	return *c.Strategy
}

// GetCandidateRange returns the parsed candidate range, or the default
// when unset or unparseable.
func (c *ClusterConfig) GetCandidateRange() sweep.CandidateRange {
	if c.CandidateRange == nil {
		return sweep.DefaultCandidateRange()
	}
	r, err := sweep.ParseCandidateRange(*c.CandidateRange)
	if err != nil {
		return sweep.DefaultCandidateRange()
	}
	return r
}

// GetSensitivity returns the knee sensitivity or the default.
func (c *ClusterConfig) GetSensitivity() float64 {
	if c.Sensitivity == nil {
		return knee.DefaultSensitivity
	}
	return *c.Sensitivity
}

// GetWorkers returns the search parallelism or the default.
func (c *ClusterConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

func (c *ClusterConfig) GetInit() string {
	if c.Init == nil || *c.Init == "" {
		return string(kmeans.InitKMeansPlusPlus)
	}
	return *c.Init
}

func (c *ClusterConfig) GetNInit() int {
	if c.NInit == nil {
		return kmeans.DefaultNInit
	}
	return *c.NInit
}

func (c *ClusterConfig) GetMaxIter() int {
	if c.MaxIter == nil {
		return kmeans.DefaultMaxIter
	}
	return *c.MaxIter
}

func (c *ClusterConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return kmeans.DefaultTolerance
	}
	return *c.Tolerance
}
