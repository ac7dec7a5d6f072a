package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/coordcluster/internal/sweep"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("cluster run not found")

// ClusterRun is one recorded fit/transform.
type ClusterRun struct {
	RunID        string          `json:"run_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Source       string          `json:"source,omitempty"`
	NumPoints    int             `json:"num_points"`
	OptimalK     int             `json:"optimal_k"`
	Config       json.RawMessage `json:"config"`
	Curve        sweep.Curve     `json:"curve"`
	ClusterSizes []int           `json:"cluster_sizes"`
	DurationMS   int64           `json:"duration_ms"`
}

// ClusterSizes counts points per label for labels in [0, k).
func ClusterSizes(labels []int, k int) []int {
	sizes := make([]int, k)
	for _, l := range labels {
		if l >= 0 && l < k {
			sizes[l]++
		}
	}
	return sizes
}

// RecordRun stores run, assigning RunID and CreatedAt when unset.
func (db *DB) RecordRun(ctx context.Context, run *ClusterRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = db.clock.Now().UTC()
	}
	if len(run.Config) == 0 {
		run.Config = json.RawMessage("{}")
	}
	if run.ClusterSizes == nil {
		run.ClusterSizes = []int{}
	}

	curveJSON, err := json.Marshal(run.Curve)
	if err != nil {
		return fmt.Errorf("encoding curve: %w", err)
	}
	sizesJSON, err := json.Marshal(run.ClusterSizes)
	if err != nil {
		return fmt.Errorf("encoding cluster sizes: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cluster_runs (
			run_id, created_at, source, num_points, optimal_k,
			config_json, curve_json, cluster_sizes_json, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedAt.UnixNano(), run.Source, run.NumPoints, run.OptimalK,
		string(run.Config), string(curveJSON), string(sizesJSON), run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting cluster run %s: %w", run.RunID, err)
	}
	logf("recorded run %s: k=%d over %d points", run.RunID, run.OptimalK, run.NumPoints)
	return nil
}

const runColumns = `run_id, created_at, source, num_points, optimal_k,
	config_json, curve_json, cluster_sizes_json, duration_ms`

// GetRun loads a run by id.
func (db *DB) GetRun(ctx context.Context, id string) (*ClusterRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid run id %q", ErrRunNotFound, id)
	}
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM cluster_runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]ClusterRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM cluster_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cluster runs: %w", err)
	}
	defer rows.Close()

	runs := []ClusterRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run by id.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM cluster_runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting cluster run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (*ClusterRun, error) {
	var (
		run                              ClusterRun
		createdAt                        int64
		configJSON, curveJSON, sizesJSON string
	)
	if err := s.Scan(&run.RunID, &createdAt, &run.Source, &run.NumPoints, &run.OptimalK,
		&configJSON, &curveJSON, &sizesJSON, &run.DurationMS); err != nil {
		return nil, err
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.Config = json.RawMessage(configJSON)
	if err := json.Unmarshal([]byte(curveJSON), &run.Curve); err != nil {
		return nil, fmt.Errorf("decoding curve for run %s: %w", run.RunID, err)
	}
	if err := json.Unmarshal([]byte(sizesJSON), &run.ClusterSizes); err != nil {
		return nil, fmt.Errorf("decoding cluster sizes for run %s: %w", run.RunID, err)
	}
	return &run, nil
}
