package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/coordcluster/internal/api"
	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/httputil"
)

func (a *app) submit(ctx context.Context, args []string) error {
	return a.submitWith(ctx, args, nil)
}

// submitWith posts the input CSV to a running server. A nil client uses
// http.DefaultClient.
func (a *app) submitWith(ctx context.Context, args []string, client httputil.HTTPClient) error {
	fs := a.newFlagSet("submit")
	var (
		serverURL string
		in        string
		source    string
		predict   string
		cf        clusterFlags
	)
	fs.StringVar(&serverURL, "server", "http://localhost:8080", "coordcluster server base URL")
	fs.StringVar(&in, "in", "", `input CSV ("-" for stdin)`)
	fs.StringVar(&source, "source", "", "label for the recorded run (default: input file name)")
	fs.StringVar(&predict, "predict", "", "CSV of further points to assign to the fitted clusters")
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if in == "" {
		fmt.Fprintln(a.stderr, "Error: -in is required")
		fs.Usage()
		return errUsage
	}

	override, err := cf.override(fs)
	if err != nil {
		return err
	}
	if *override == (config.ClusterConfig{}) {
		override = nil
	}

	if source == "" && in != "-" {
		source = filepath.Base(in)
	}

	c := api.NewClient(serverURL)
	if client != nil {
		c.HTTP = client
	}

	var resp *api.ClusterResponse
	if predict == "" {
		resp, err = a.submitCSV(ctx, c, in, source, override)
	} else {
		resp, err = a.submitJSON(ctx, c, in, predict, source, override)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// submitCSV streams the input file to the server unparsed.
func (a *app) submitCSV(ctx context.Context, c *api.Client, in, source string, override *config.ClusterConfig) (*api.ClusterResponse, error) {
	var body io.Reader = a.stdin
	if in != "-" {
		f, err := a.fs.Open(in)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		body = f
	}
	return c.ClusterCSV(ctx, body, source, override)
}

// submitJSON parses both inputs locally and sends them as one JSON request
// so the server can label the predict points against the fitted model.
func (a *app) submitJSON(ctx context.Context, c *api.Client, in, predict, source string, override *config.ClusterConfig) (*api.ClusterResponse, error) {
	rows, err := a.readRows(in)
	if err != nil {
		return nil, err
	}
	extra, err := a.readRows(predict)
	if err != nil {
		return nil, fmt.Errorf("predict input: %w", err)
	}
	req := api.NewClusterRequest(rows, override, source)
	req.SetPredict(extra)
	return c.Cluster(ctx, req)
}

// readRows reads the coordinate columns of a CSV file as raw rows.
func (a *app) readRows(path string) ([][]float64, error) {
	table, err := a.readTable(path)
	if err != nil {
		return nil, err
	}
	points, err := coordinateColumns(table)
	if err != nil {
		return nil, err
	}
	m, err := coords.Normalize(points)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, m.Len())
	for i := range rows {
		rows[i] = append([]float64(nil), m.Point(i)...)
	}
	return rows, nil
}
