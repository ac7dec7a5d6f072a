package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/components"

	"github.com/banshee-data/coordcluster/internal/db"
	"github.com/banshee-data/coordcluster/internal/httputil"
	"github.com/banshee-data/coordcluster/internal/render"
)

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		run, err := s.db.GetRun(r.Context(), id)
		if err != nil {
			s.writeRunError(w, err)
			return
		}
		httputil.WriteJSONOK(w, run)
	case http.MethodDelete:
		if err := s.db.DeleteRun(r.Context(), id); err != nil {
			s.writeRunError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
}

// elbowChart renders the stored distortion curve of a run as HTML.
func (s *Server) elbowChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	id := r.URL.Query().Get("run_id")
	if id == "" {
		httputil.BadRequest(w, "missing 'run_id' parameter")
		return
	}

	run, err := s.db.GetRun(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}

	host := s.assetsHost
	if host == "" {
		host = render.DefaultAssetsHost
	}
	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Run %s", run.RunID))
	page.SetAssetsHost(host)
	page.AddCharts(render.ElbowChart(run.Curve, run.OptimalK, host))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
