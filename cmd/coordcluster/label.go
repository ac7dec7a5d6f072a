package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/db"
	"github.com/banshee-data/coordcluster/internal/render"
	"github.com/banshee-data/coordcluster/internal/security"
	"github.com/banshee-data/coordcluster/internal/transformer"
)

type labelOptions struct {
	in       string
	out      string
	features string
	pngPath  string
	elbowPNG string
	htmlPath string
	dbPath   string
	outDir   string
	source   string
	column   string
}

func (a *app) label(ctx context.Context, args []string) error {
	fs := a.newFlagSet("label")
	var (
		opts labelOptions
		cf   clusterFlags
	)
	fs.StringVar(&opts.in, "in", "", `input CSV with a header row ("-" for stdin)`)
	fs.StringVar(&opts.out, "out", "-", `labelled CSV output ("-" for stdout)`)
	fs.StringVar(&opts.features, "features", "", "write numeric coordinates plus label as CSV")
	fs.StringVar(&opts.pngPath, "png", "", "write a scatter plot PNG")
	fs.StringVar(&opts.elbowPNG, "elbow-png", "", "write the distortion curve PNG")
	fs.StringVar(&opts.htmlPath, "html", "", "write an interactive HTML chart page")
	fs.StringVar(&opts.dbPath, "db", "", "record the run in this SQLite database")
	fs.StringVar(&opts.outDir, "out-dir", ".", "all output files must resolve inside this directory")
	fs.StringVar(&opts.source, "source", "", "label for the recorded run (default: input file name)")
	fs.StringVar(&opts.column, "column", "cluster", "name of the appended label column")
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if opts.in == "" {
		fmt.Fprintln(a.stderr, "Error: -in is required")
		fs.Usage()
		return errUsage
	}
	if err := security.ValidateOutputPaths(opts.outDir, opts.out, opts.features, opts.pngPath, opts.elbowPNG, opts.htmlPath); err != nil {
		return err
	}

	cfg, err := cf.effective(fs)
	if err != nil {
		return err
	}
	tcfg, err := cfg.TransformerConfig()
	if err != nil {
		return err
	}

	table, err := a.readTable(opts.in)
	if err != nil {
		return err
	}
	points, err := coordinateColumns(table)
	if err != nil {
		return err
	}

	start := time.Now()
	tr := transformer.New(tcfg)
	labels, err := tr.FitTransform(ctx, points)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	k, _ := tr.OptimalK()
	log.Printf("selected k=%d for %d points in %s", k, len(labels), elapsed.Round(time.Millisecond))

	if err := a.writeOutput(opts.out, func(w io.Writer) error {
		return writeLabelled(w, table, opts.column, labels)
	}); err != nil {
		return fmt.Errorf("writing labels: %w", err)
	}
	if opts.features != "" {
		if err := a.writeOutput(opts.features, func(w io.Writer) error {
			return writeFeatures(w, points.Header, opts.column, tr)
		}); err != nil {
			return fmt.Errorf("writing features: %w", err)
		}
	}
	if err := a.renderOutputs(tr, opts); err != nil {
		return err
	}

	if opts.dbPath != "" {
		return recordRun(ctx, opts, cfg, tr, elapsed)
	}
	return nil
}

func (a *app) readTable(path string) (*coords.Table, error) {
	if path == "-" {
		return coords.ReadCSV(a.stdin)
	}
	f, err := a.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return coords.ReadCSV(f)
}

// coordinateColumns picks longitude and latitude when both are present and
// otherwise hands the whole table on, leaving shape checks to the
// transformer.
func coordinateColumns(t *coords.Table) (*coords.Table, error) {
	projected, err := t.Project("longitude", "latitude")
	switch {
	case err == nil:
		return projected, nil
	case errors.Is(err, clustererr.ErrValidation):
		return nil, err
	}
	if len(t.Header) != coords.Dims {
		return nil, fmt.Errorf("input needs longitude and latitude columns or exactly %d columns, got header %v", coords.Dims, t.Header)
	}
	return t, nil
}

// writeLabelled copies the input rows with the label appended.
func writeLabelled(w io.Writer, t *coords.Table, column string, labels transformer.Labels) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), t.Header...), column)); err != nil {
		return err
	}
	for i, rec := range t.Records {
		row := append(append([]string(nil), rec...), strconv.Itoa(labels[i]))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeFeatures writes the parsed coordinates and label of every row as
// plain numbers.
func writeFeatures(w io.Writer, header []string, column string, tr *transformer.Transformer) error {
	features, err := tr.Features()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), header...), column)); err != nil {
		return err
	}
	r, c := features.Dims()
	row := make([]string, c)
	for i := 0; i < r; i++ {
		for j := range row {
			row[j] = strconv.FormatFloat(features.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (a *app) writeOutput(path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(a.stdout)
	}
	f, err := a.fs.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *app) renderOutputs(tr *transformer.Transformer, opts labelOptions) error {
	outputs := []struct {
		path string
		sink func(io.Writer) render.Sink
	}{
		{opts.pngPath, func(w io.Writer) render.Sink { return render.NewPNGSink(w) }},
		{opts.elbowPNG, func(w io.Writer) render.Sink {
			s := render.NewPNGSink(w)
			s.Elbow = true
			return s
		}},
		{opts.htmlPath, func(w io.Writer) render.Sink { return &render.ChartSink{Out: w} }},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		if err := a.writeOutput(o.path, func(w io.Writer) error {
			return tr.Render(o.sink(w))
		}); err != nil {
			return fmt.Errorf("writing %s: %w", o.path, err)
		}
		log.Printf("wrote %s", o.path)
	}
	return nil
}

func recordRun(ctx context.Context, opts labelOptions, cfg *config.ClusterConfig, tr *transformer.Transformer, elapsed time.Duration) error {
	database, err := db.NewDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	k, _ := tr.OptimalK()
	curve, _ := tr.Curve()
	labels, _ := tr.Labels()

	source := opts.source
	if source == "" {
		source = "stdin"
		if opts.in != "-" {
			source = filepath.Base(opts.in)
		}
	}
	run := &db.ClusterRun{
		Source:       security.SanitizeFilename(source),
		NumPoints:    len(labels),
		OptimalK:     k,
		Config:       cfgJSON,
		Curve:        curve,
		ClusterSizes: db.ClusterSizes(labels, k),
		DurationMS:   elapsed.Milliseconds(),
	}
	if err := database.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	log.Printf("recorded run %s in %s", run.RunID, opts.dbPath)
	return nil
}
