package api

import (
	"net/http"
	"time"

	"moddispatch/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	types := make([]string, 0, len(s.RouteTypes))
	for _, b := range s.RouteTypes {
		types = append(types, string(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":      buildinfo.Info(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"routeTypes": types,
		"config":     s.Settings,
	})
}
