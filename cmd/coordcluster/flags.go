package main

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/banshee-data/coordcluster/internal/config"
)

// clusterFlags are the tuning flags shared by label, submit and config.
// Only flags given on the command line override the config file.
type clusterFlags struct {
	configPath  string
	candidates  string
	sensitivity float64
	workers     int
	init        string
	nInit       int
	maxIter     int
	seed        uint64
}

func (c *clusterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON clustering config file")
	fs.StringVar(&c.candidates, "k", "", `candidate cluster counts, "min:max:step" or "4,5,6" (default 4:12:1)`)
	fs.Float64Var(&c.sensitivity, "sensitivity", 0, "knee sensitivity S (default 1)")
	fs.IntVar(&c.workers, "workers", 0, "parallel distortion evaluations (default 1)")
	fs.StringVar(&c.init, "init", "", "centroid seeding: k-means++ or random")
	fs.IntVar(&c.nInit, "n-init", 0, "k-means restarts per candidate (default 10)")
	fs.IntVar(&c.maxIter, "max-iter", 0, "Lloyd iterations per restart (default 300)")
	fs.Uint64Var(&c.seed, "seed", 0, "random seed for reproducible labels")
}

// override returns the config file (if any) with explicitly set flags
// applied on top. Unset fields stay nil.
func (c *clusterFlags) override(fs *flag.FlagSet) (*config.ClusterConfig, error) {
	cfg := config.EmptyClusterConfig()
	if c.configPath != "" {
		loaded, err := config.LoadClusterConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := config.EmptyClusterConfig()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "k":
			set.CandidateRange = &c.candidates
		case "sensitivity":
			set.Sensitivity = &c.sensitivity
		case "workers":
			set.Workers = &c.workers
		case "init":
			set.Init = &c.init
		case "n-init":
			set.NInit = &c.nInit
		case "max-iter":
			set.MaxIter = &c.maxIter
		case "seed":
			set.Seed = &c.seed
		}
	})

	merged := cfg.Merge(set)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return merged, nil
}

// effective merges the override onto the full defaults.
func (c *clusterFlags) effective(fs *flag.FlagSet) (*config.ClusterConfig, error) {
	o, err := c.override(fs)
	if err != nil {
		return nil, err
	}
	return config.DefaultClusterConfig().Merge(o), nil
}

func (a *app) showConfig(args []string) error {
	fs := a.newFlagSet("config")
	var cf clusterFlags
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := cf.effective(fs)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
