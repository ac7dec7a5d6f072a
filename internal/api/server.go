package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/db"
	"github.com/banshee-data/coordcluster/internal/monitoring"
	"github.com/banshee-data/coordcluster/internal/timeutil"
)

var logf = monitoring.Prefixed("api")

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// DefaultMaxBodyBytes bounds request bodies on /api/cluster.
const DefaultMaxBodyBytes = 32 << 20

type Server struct {
	db           *db.DB
	defaults     *config.ClusterConfig
	limits       config.Limits
	clock        timeutil.Clock
	assetsHost   string
	maxBodyBytes int64
}

// NewServer returns a Server that records runs in database and fills
// unset request config fields from defaults. Request overrides are capped
// by config.DefaultLimits until SetLimits is called.
func NewServer(database *db.DB, defaults *config.ClusterConfig) *Server {
	if defaults == nil {
		defaults = config.EmptyClusterConfig()
	}
	return &Server{
		db:           database,
		defaults:     defaults,
		limits:       config.DefaultLimits(),
		clock:        timeutil.RealClock{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// SetClock replaces the clock used to time runs.
func (s *Server) SetClock(c timeutil.Clock) { s.clock = c }

// SetLimits replaces the caps applied to request config overrides.
func (s *Server) SetLimits(l config.Limits) { s.limits = l }

// SetAssetsHost overrides where chart pages load echarts from.
func (s *Server) SetAssetsHost(host string) { s.assetsHost = host }

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cluster", s.handleCluster)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.handleRun)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/charts/elbow", s.elbowChart)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
