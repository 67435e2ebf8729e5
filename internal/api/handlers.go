package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"moddispatch/internal/dispatch"
	"moddispatch/internal/distance"
	"moddispatch/internal/model"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

// maxBodyBytes caps POST /v1/optimize bodies.
const maxBodyBytes = 8 << 20

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	ap, conf := s.Engine.DefaultAlgorithmParameters(), s.Engine.DefaultRouteConfiguration()
	// partial parameter blocks decode over the defaults
	req := model.OptimizeRequest{AlgorithmParameters: &ap, RouteConfiguration: &conf}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := req.Problem()
	if err != nil {
		writeError(w, r, err)
		return
	}
	routeType, _ := distance.ParseBackend(req.RouteType)

	run, err := s.Engine.Execute(r.Context(), dispatch.Request{
		Problem:     p,
		RouteType:   routeType,
		Parallelism: req.Parallelism,
		Params:      req.AlgorithmParameters,
		Config:      req.RouteConfiguration,
	})
	if err != nil {
		status, title := errorStatus(err)
		doc := Problem{Type: "about:blank", Title: title, Status: status, Detail: err.Error(), Instance: r.URL.Path}
		if run != nil {
			doc.RunID = run.ID
		}
		writeProblemDoc(w, doc)
		return
	}
	writeJSON(w, http.StatusOK, model.OptimizeResponse{
		RunID:        run.ID,
		Seed:         run.Report.Seed,
		Rounds:       run.Report.Rounds,
		ElapsedMs:    run.Elapsed.Milliseconds(),
		MatrixReused: run.MatrixReused,
		Solutions:    run.Report.Results,
	})
}

// CacheHandler handles DELETE /v1/cache
func (s *Server) CacheHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	if err := s.Engine.ClearCache(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DefaultsHandler handles GET /v1/config/defaults
func (s *Server) DefaultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	types := make([]string, 0, len(s.RouteTypes))
	for _, b := range s.RouteTypes {
		types = append(types, string(b))
	}
	writeJSON(w, http.StatusOK, model.Defaults{
		AlgorithmParameters: s.Engine.DefaultAlgorithmParameters(),
		RouteConfiguration:  s.Engine.DefaultRouteConfiguration(),
		RouteTypes:          types,
	})
}

// RunsHandler handles GET /v1/runs?limit=
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}
	items, err := s.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// RunByIDHandler handles GET /v1/runs/{id} and GET /v1/runs/{id}/weights
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "weights") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	id := parts[0]
	if len(parts) == 2 {
		s.runWeights(w, r, id)
		return
	}
	run, err := s.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runWeights prefers the in-process trial metrics and falls back to stored snapshots.
func (s *Server) runWeights(w http.ResponseWriter, r *http.Request, id string) {
	body := map[string]any{"runId": id}
	if trials, ok := opt.GetMetrics(id); ok {
		body["trials"] = model.SummarizeTrials(trials)
	}
	snaps, err := s.Runs.ListWeights(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, ok := body["trials"]; !ok {
			writeError(w, r, err)
			return
		}
	case err != nil:
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []store.WeightSnapshot{}
	}
	body["items"] = snaps
	writeJSON(w, http.StatusOK, body)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, p := range s.Deps {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
