// Package api exposes the dispatch engine over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"

	"moddispatch/internal/dispatch"
	"moddispatch/internal/distance"
	"moddispatch/internal/store"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Engine     *dispatch.Engine
	Runs       store.RunStore
	Broker     EventBroker
	Log        log.FieldLogger
	RouteTypes []distance.Backend
	Deps       map[string]Pinger
	// Settings is the non-secret configuration shown on /debug/info.
	Settings map[string]any
}

// Handler registers every route on a fresh mux and wraps it in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/cache", s.CacheHandler)
	mux.HandleFunc("/v1/config/defaults", s.DefaultsHandler)
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /weights
	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return s.middleware(mux)
}

func (s *Server) logger() log.FieldLogger {
	if s.Log == nil {
		return log.StandardLogger()
	}
	return s.Log
}
