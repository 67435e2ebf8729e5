package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/metrics"
	"moddispatch/internal/obs"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// middleware tags each request with an id, logs it and feeds the HTTP metrics.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(obs.WithRequestID(r.Context(), id)))

		dur := time.Since(start)
		path := routeLabel(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
		s.logger().WithFields(log.Fields{
			"req_id": id,
			"method": r.Method,
			"path":   r.URL.Path,
			"status": rec.status,
			"dur_ms": dur.Milliseconds(),
			"remote": r.RemoteAddr,
		}).Info("request")
	})
}

// routeLabel collapses run ids so metric labels stay bounded.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/runs/"); ok && rest != "" {
		if strings.HasSuffix(rest, "/weights") {
			return "/v1/runs/{id}/weights"
		}
		return "/v1/runs/{id}"
	}
	switch path {
	case "/v1/optimize", "/v1/cache", "/v1/config/defaults", "/v1/runs", "/v1/events/ws",
		"/healthz", "/readyz", "/metrics", "/debug/info", "/openapi.yaml", "/openapi.json", "/docs":
		return path
	}
	return "other"
}

func metricsHandler() http.Handler {
	metrics.RegisterDefault()
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
