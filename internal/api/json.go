package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	RunID    string `json:"runId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemDoc(w, Problem{Type: "about:blank", Title: title, Status: status, Detail: detail, Instance: instance})
}

func writeProblemDoc(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// errorStatus maps the solver and store sentinels onto HTTP statuses.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, opt.ErrInputInvalid):
		return http.StatusBadRequest, "Invalid input"
	case errors.Is(err, opt.ErrNoSolution):
		return http.StatusUnprocessableEntity, "No solution"
	case errors.Is(err, opt.ErrOracleUnavailable):
		return http.StatusBadGateway, "Routing backend unavailable"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	}
	return http.StatusInternalServerError, "Internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := errorStatus(err)
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
