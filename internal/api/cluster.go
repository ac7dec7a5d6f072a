package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/coords"
	"github.com/banshee-data/coordcluster/internal/db"
	"github.com/banshee-data/coordcluster/internal/httputil"
	"github.com/banshee-data/coordcluster/internal/sweep"
	"github.com/banshee-data/coordcluster/internal/transformer"
	"github.com/banshee-data/coordcluster/internal/version"
)

// ClusterRequest is the JSON body of POST /api/cluster. A null coordinate
// is treated as a missing value and rejected. Predict optionally lists
// further points to assign to the fitted clusters without refitting.
type ClusterRequest struct {
	Points  [][]json.RawMessage   `json:"points"`
	Predict [][]json.RawMessage   `json:"predict,omitempty"`
	Config  *config.ClusterConfig `json:"config,omitempty"`
	Source  string                `json:"source,omitempty"`
}

// ClusterResponse describes one completed fit/transform.
type ClusterResponse struct {
	RunID        string      `json:"run_id,omitempty"`
	OptimalK     int         `json:"optimal_k"`
	Labels       []int       `json:"labels"`
	Predicted    []int       `json:"predicted,omitempty"`
	Curve        sweep.Curve `json:"curve"`
	Threshold    float64     `json:"threshold"`
	Centroids    [][]float64 `json:"centroids"`
	ClusterSizes []int       `json:"cluster_sizes"`
	DurationMS   int64       `json:"duration_ms"`
}

// jsonPoints adapts request points to coords.Source. Cells are decoded on
// access so a bad cell is reported with its row and column.
type jsonPoints [][]json.RawMessage

func (p jsonPoints) Dims() (int, int) {
	if len(p) == 0 {
		return 0, coords.Dims
	}
	return len(p), len(p[0])
}

func (p jsonPoints) Value(i, j int) (float64, error) {
	row := p[i]
	if len(row) != len(p[0]) {
		return 0, clustererr.ValidationAt(clustererr.DefectShape, i, min(len(row), len(p[0])), "row has %d columns, expected %d", len(row), len(p[0]))
	}
	cell := bytes.TrimSpace(row[j])
	if bytes.Equal(cell, []byte("null")) {
		return math.NaN(), nil
	}
	if len(cell) == 0 || (cell[0] != '-' && (cell[0] < '0' || cell[0] > '9')) {
		return 0, clustererr.ValidationAt(clustererr.DefectNonNumeric, i, j, "%s is not a number", truncate(cell, 32))
	}
	// Out-of-range numbers come back as ±Inf and are caught as non-finite.
	v, err := strconv.ParseFloat(string(cell), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, clustererr.ValidationAt(clustererr.DefectNonNumeric, i, j, "%s is not a number", truncate(cell, 32))
	}
	return v, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// encodePoints converts rows to request cells. NaN and infinite values
// have no JSON form and are sent as null.
func encodePoints(rows [][]float64) [][]json.RawMessage {
	points := make([][]json.RawMessage, len(rows))
	for i, row := range rows {
		points[i] = make([]json.RawMessage, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				points[i][j] = json.RawMessage("null")
				continue
			}
			points[i][j] = strconv.AppendFloat(nil, v, 'g', -1, 64)
		}
	}
	return points
}

// NewClusterRequest builds a request body from raw rows.
func NewClusterRequest(rows [][]float64, cfg *config.ClusterConfig, source string) ClusterRequest {
	return ClusterRequest{Points: encodePoints(rows), Config: cfg, Source: source}
}

// SetPredict attaches rows to be assigned to the fitted clusters.
func (r *ClusterRequest) SetPredict(rows [][]float64) {
	r.Predict = encodePoints(rows)
}

// clusterInput is a decoded POST /api/cluster request.
type clusterInput struct {
	points   coords.Source
	predict  coords.Source
	override *config.ClusterConfig
	source   string
}

// decodeClusterRequest reads either a JSON ClusterRequest or a CSV body
// with longitude and latitude columns. CSV requests take config from the
// query string.
func (s *Server) decodeClusterRequest(w http.ResponseWriter, r *http.Request) (*clusterInput, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "text/csv":
		table, err := coords.ReadCSV(body)
		if err != nil {
			return nil, err
		}
		projected, err := table.Project("longitude", "latitude")
		switch {
		case err == nil:
			table = projected
		case errors.Is(err, clustererr.ErrValidation):
			return nil, err
		}
		cfg, err := configFromQuery(r)
		if err != nil {
			return nil, err
		}
		return &clusterInput{points: table, override: cfg, source: r.URL.Query().Get("source")}, nil

	case "", "application/json":
		var req ClusterRequest
		dec := json.NewDecoder(body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		if req.Config != nil {
			if err := req.Config.Validate(); err != nil {
				return nil, err
			}
		}
		in := &clusterInput{points: jsonPoints(req.Points), override: req.Config, source: req.Source}
		if len(req.Predict) > 0 {
			in.predict = jsonPoints(req.Predict)
		}
		return in, nil

	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func configFromQuery(r *http.Request) (*config.ClusterConfig, error) {
	q := r.URL.Query()
	raw := q.Get("config")
	if raw == "" {
		return nil, nil
	}
	return config.ParseClusterConfig([]byte(raw))
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	in, err := s.decodeClusterRequest(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		case isClusterError(err):
			httputil.WriteError(w, err)
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}

	if err := in.override.CheckLimits(s.limits); err != nil {
		httputil.WriteError(w, err)
		return
	}
	merged := s.defaults.Merge(in.override)
	tcfg, err := merged.TransformerConfig()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	start := s.clock.Now()
	tr := transformer.New(tcfg)
	labels, err := tr.FitTransform(r.Context(), in.points)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var predicted transformer.Labels
	if in.predict != nil {
		if predicted, err = tr.Predict(in.predict); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	elapsed := s.clock.Since(start)

	k, _ := tr.OptimalK()
	curve, _ := tr.Curve()
	kn, _ := tr.Knee()
	model, _ := tr.Model()

	resp := ClusterResponse{
		OptimalK:     k,
		Labels:       labels,
		Predicted:    predicted,
		Curve:        curve,
		Threshold:    kn.Threshold,
		Centroids:    model.Centroids,
		ClusterSizes: db.ClusterSizes(labels, k),
		DurationMS:   elapsed.Milliseconds(),
	}

	if s.db != nil {
		cfgJSON, err := json.Marshal(merged)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		run := &db.ClusterRun{
			Source:       in.source,
			NumPoints:    len(labels),
			OptimalK:     k,
			Config:       cfgJSON,
			Curve:        curve,
			ClusterSizes: resp.ClusterSizes,
			DurationMS:   resp.DurationMS,
		}
		if err := s.db.RecordRun(r.Context(), run); err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp.RunID = run.RunID
	}

	httputil.WriteJSONOK(w, resp)
}

func isClusterError(err error) bool {
	status, _ := httputil.StatusFor(err)
	return status != http.StatusInternalServerError
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.defaults)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
