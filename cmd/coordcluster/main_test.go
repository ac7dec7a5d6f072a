package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coordcluster/internal/clustererr"
	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/fsutil"
	"github.com/banshee-data/coordcluster/internal/httputil"
	"github.com/banshee-data/coordcluster/internal/monitoring"
	"github.com/banshee-data/coordcluster/internal/testutil"
)

func init() {
	log.SetOutput(io.Discard)
	monitoring.SetLogger(nil)
}

type testApp struct {
	*app
	mem    *fsutil.MemoryFileSystem
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(stdin string) *testApp {
	mem := fsutil.NewMemoryFileSystem()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return &testApp{
		app:    &app{fs: mem, stdin: strings.NewReader(stdin), stdout: stdout, stderr: stderr},
		mem:    mem,
		stdout: stdout,
		stderr: stderr,
	}
}

// blobCSV renders the six-blob fixture with an extra name column and the
// coordinate columns in latitude, longitude order.
func blobCSV(seed uint64) string {
	var b strings.Builder
	b.WriteString("name,latitude,longitude\n")
	for i, p := range testutil.SixBlobs(seed) {
		fmt.Fprintf(&b, "store-%d,%g,%g\n", i, p[1], p[0])
	}
	return b.String()
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRun_Commands(t *testing.T) {
	testCases := []struct {
		name       string
		args       []string
		wantErr    error
		wantStdout string
		wantStderr string
	}{
		{"no_args", nil, errUsage, "", "Usage: coordcluster"},
		{"unknown", []string{"frobnicate"}, errUsage, "", "Unknown command: frobnicate"},
		{"help", []string{"help"}, nil, "", "Commands:"},
		{"version", []string{"version"}, nil, "coordcluster dev", ""},
		{"label_without_input", []string{"label"}, errUsage, "", "-in is required"},
		{"submit_without_input", []string{"submit"}, errUsage, "", "-in is required"},
		{"stray_argument", []string{"config", "extra"}, errUsage, "", "unexpected arguments"},
		{"bad_flag", []string{"label", "-nope"}, errUsage, "", "flag provided but not defined"},
		{"migrate_without_action", []string{"migrate"}, errUsage, "", "up|down|status"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp("")
			err := a.run(context.Background(), tc.args)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, a.stdout.String(), tc.wantStdout)
			assert.Contains(t, a.stderr.String(), tc.wantStderr)
		})
	}
}

func TestLabel_WritesLabelledCSVAndCharts(t *testing.T) {
	a := newTestApp("")
	a.mem.WriteFile("stores.csv", []byte(blobCSV(3)))

	err := a.run(context.Background(), []string{
		"label", "-in", "stores.csv", "-out", "out/labelled.csv",
		"-png", "out/clusters.png", "-elbow-png", "out/elbow.png", "-html", "out/clusters.html",
		"-seed", "5", "-workers", "2",
	})
	require.NoError(t, err)

	data, err := a.mem.ReadFile("out/labelled.csv")
	require.NoError(t, err)
	records := readCSV(t, data)
	require.Len(t, records, 301)
	assert.Equal(t, []string{"name", "latitude", "longitude", "cluster"}, records[0])
	assert.Equal(t, "store-0", records[1][0])

	distinct := map[int]bool{}
	for _, rec := range records[1:] {
		label, err := strconv.Atoi(rec[3])
		require.NoError(t, err)
		distinct[label] = true
	}
	assert.GreaterOrEqual(t, len(distinct), 5)
	assert.LessOrEqual(t, len(distinct), 7)

	for _, name := range []string{"out/clusters.png", "out/elbow.png"} {
		img, err := a.mem.ReadFile(name)
		require.NoError(t, err, name)
		assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")), "%s is not a PNG", name)
	}
	page, err := a.mem.ReadFile("out/clusters.html")
	require.NoError(t, err)
	assert.Contains(t, string(page), "distortion")
}

func TestLabel_SeededRunsAgree(t *testing.T) {
	outputs := make([][]byte, 2)
	for i := range outputs {
		a := newTestApp(blobCSV(8))
		require.NoError(t, a.run(context.Background(), []string{"label", "-in", "-", "-seed", "21"}))
		outputs[i] = a.stdout.Bytes()
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestLabel_TwoColumnStdin(t *testing.T) {
	var b strings.Builder
	b.WriteString("x,y\n")
	for _, p := range testutil.SixBlobs(4) {
		fmt.Fprintf(&b, "%g,%g\n", p[0], p[1])
	}
	a := newTestApp(b.String())

	require.NoError(t, a.run(context.Background(), []string{"label", "-in", "-", "-column", "group", "-k", "3:9:1", "-seed", "1"}))

	records := readCSV(t, a.stdout.Bytes())
	require.Len(t, records, 301)
	assert.Equal(t, []string{"x", "y", "group"}, records[0])
}

func TestLabel_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		args    []string
		wantIs  error
		wantMsg string
	}{
		{
			name:   "missing_value",
			input:  "longitude,latitude\n1,2\n3,\n5,6\n",
			args:   []string{"-in", "-"},
			wantIs: clustererr.ErrValidation,
		},
		{
			name:    "extra_cell",
			input:   "longitude,latitude\n1,2,999\n3,4\n",
			args:    []string{"-in", "-"},
			wantIs:  clustererr.ErrValidation,
			wantMsg: "(shape) at row 0, column 2",
		},
		{
			name:    "extra_cell_in_projected_table",
			input:   "id,longitude,latitude\na,1,2\nb,3,4,999\n",
			args:    []string{"-in", "-"},
			wantIs:  clustererr.ErrValidation,
			wantMsg: "(shape) at row 1, column 3",
		},
		{
			name:   "short_candidate_range",
			input:  blobCSV(1),
			args:   []string{"-in", "-", "-k", "4,5"},
			wantIs: clustererr.ErrConfiguration,
		},
		{
			name:   "unknown_init",
			input:  blobCSV(1),
			args:   []string{"-in", "-", "-init", "spectral"},
			wantIs: clustererr.ErrConfiguration,
		},
		{
			name:    "three_columns",
			input:   "a,b,c\n1,2,3\n",
			args:    []string{"-in", "-"},
			wantMsg: "exactly 2 columns",
		},
		{
			name:    "escaping_output",
			input:   blobCSV(1),
			args:    []string{"-in", "-", "-out", "../labels.csv"},
			wantMsg: "path traversal detected",
		},
		{
			name:    "missing_input_file",
			args:    []string{"-in", "nope.csv"},
			wantMsg: "failed to open input",
		},
		{
			name:    "missing_config_file",
			input:   blobCSV(1),
			args:    []string{"-in", "-", "-config", "absent.json"},
			wantMsg: "absent.json",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp(tc.input)
			err := a.run(context.Background(), append([]string{"label"}, tc.args...))
			require.Error(t, err)
			if tc.wantIs != nil {
				assert.ErrorIs(t, err, tc.wantIs)
			}
			if tc.wantMsg != "" {
				assert.Contains(t, err.Error(), tc.wantMsg)
			}
			assert.Empty(t, a.mem.Names())
		})
	}
}

func TestLabel_WritesFeatures(t *testing.T) {
	a := newTestApp(blobCSV(2))
	require.NoError(t, a.run(context.Background(), []string{"label", "-in", "-", "-features", "features.csv", "-seed", "3"}))

	labelled := readCSV(t, a.stdout.Bytes())
	data, err := a.mem.ReadFile("features.csv")
	require.NoError(t, err)
	features := readCSV(t, data)

	require.Len(t, features, 301)
	assert.Equal(t, []string{"longitude", "latitude", "cluster"}, features[0])
	for i, rec := range features[1:] {
		assert.Equal(t, labelled[i+1][2], rec[0])
		assert.Equal(t, labelled[i+1][1], rec[1])
		assert.Equal(t, labelled[i+1][3], rec[2])
	}
}

func TestLabel_RecordsRunInDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	a := newTestApp("")
	a.mem.WriteFile("my stores.csv", []byte(blobCSV(6)))
	require.NoError(t, a.run(context.Background(), []string{"label", "-in", "my stores.csv", "-out", "labels.csv", "-db", dbPath, "-seed", "2"}))

	listing := newTestApp("")
	require.NoError(t, listing.run(context.Background(), []string{"runs", "-db", dbPath}))
	out := listing.stdout.String()
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "my_stores.csv")
	assert.Contains(t, out, "300")

	status := newTestApp("")
	require.NoError(t, status.run(context.Background(), []string{"migrate", "-db", dbPath, "status"}))
	assert.Equal(t, "schema version 1 (latest 1, dirty false)\n", status.stdout.String())
}

func TestMigrate_UpAndDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fresh.db")

	a := newTestApp("")
	require.NoError(t, a.run(context.Background(), []string{"migrate", "-db", dbPath, "up"}))
	assert.Contains(t, a.stdout.String(), "schema version 1")

	a = newTestApp("")
	require.NoError(t, a.run(context.Background(), []string{"migrate", "-db", dbPath, "down"}))
	assert.Contains(t, a.stdout.String(), "schema version 0")

	a = newTestApp("")
	assert.ErrorIs(t, a.run(context.Background(), []string{"migrate", "-db", dbPath, "sideways"}), errUsage)
}

func TestConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"candidate_range":"2:8:2","sensitivity":2.5,"n_init":3}`), 0o644))

	a := newTestApp("")
	require.NoError(t, a.run(context.Background(), []string{"config", "-config", cfgPath, "-k", "3:9:1", "-seed", "7"}))

	var got config.ClusterConfig
	require.NoError(t, json.Unmarshal(a.stdout.Bytes(), &got))
	assert.Equal(t, "3:9:1", *got.CandidateRange)
	assert.Equal(t, 2.5, *got.Sensitivity)
	assert.Equal(t, 3, *got.NInit)
	assert.Equal(t, uint64(7), *got.Seed)
	assert.Equal(t, "kmeans", *got.Strategy)
	assert.Equal(t, 300, *got.MaxIter)
}

func TestSubmit_PostsCSV(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"run_id":"r1","optimal_k":6,"labels":[0],"curve":[],"threshold":0.2,"centroids":[],"cluster_sizes":[1],"duration_ms":3}`).
		AddResponse(http.StatusUnprocessableEntity, `{"error":"no knee","kind":"configuration"}`)

	a := newTestApp("")
	a.mem.WriteFile("stores.csv", []byte("longitude,latitude\n1,2\n"))
	require.NoError(t, a.submitWith(context.Background(), []string{"-server", "http://cluster.test/", "-in", "stores.csv", "-seed", "9"}, mock))

	require.Equal(t, 1, mock.RequestCount())
	sent := mock.Requests[0]
	assert.Equal(t, "http://cluster.test/api/cluster", sent.URL.Scheme+"://"+sent.URL.Host+sent.URL.Path)
	assert.Equal(t, "stores.csv", sent.URL.Query().Get("source"))
	assert.JSONEq(t, `{"seed":9}`, sent.URL.Query().Get("config"))
	assert.Equal(t, "longitude,latitude\n1,2\n", string(mock.Bodies[0]))
	assert.Contains(t, a.stdout.String(), `"optimal_k": 6`)

	a = newTestApp("longitude,latitude\n1,2\n")
	err := a.submitWith(context.Background(), []string{"-server", "http://cluster.test", "-in", "-"}, mock)
	assert.EqualError(t, err, "server returned 422 (configuration): no knee")
	assert.Empty(t, mock.Requests[1].URL.Query().Get("config"))
}

func TestSubmit_PredictSendsJSON(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"optimal_k":2,"labels":[0,1],"predicted":[1],"curve":[],"threshold":0.2,"centroids":[],"cluster_sizes":[1,1],"duration_ms":3}`)

	a := newTestApp("")
	a.mem.WriteFile("stores.csv", []byte("name,latitude,longitude\na,2,1\nb,4,3\n"))
	a.mem.WriteFile("new.csv", []byte("longitude,latitude\n3.5,4.5\n"))
	require.NoError(t, a.submitWith(context.Background(), []string{"-server", "http://cluster.test", "-in", "stores.csv", "-predict", "new.csv"}, mock))

	sent := mock.Requests[0]
	assert.Equal(t, "application/json", sent.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"points":[[1,2],[3,4]],"predict":[[3.5,4.5]],"source":"stores.csv"}`, string(mock.Bodies[0]))
	assert.Contains(t, a.stdout.String(), `"predicted": [`)

	a = newTestApp("")
	a.mem.WriteFile("stores.csv", []byte("longitude,latitude\n1,2\n"))
	a.mem.WriteFile("bad.csv", []byte("longitude,latitude\n1,x\n"))
	err := a.submitWith(context.Background(), []string{"-in", "stores.csv", "-predict", "bad.csv"}, mock)
	assert.ErrorIs(t, err, clustererr.ErrValidation)
	assert.Contains(t, err.Error(), "predict input")
	assert.Equal(t, 1, mock.RequestCount())
}

func TestServeHTTP_ShutsDownOnCancel(t *testing.T) {
	handler, err := newHandler(nil, config.DefaultClusterConfig(), "")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, ln, handler) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/config")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + ln.Addr().String() + "/api/runs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
