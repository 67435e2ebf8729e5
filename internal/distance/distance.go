// Package distance resolves travel distance and duration between locations through a
// routing backend (OSRM, Valhalla or a haversine estimate), optionally behind a cache.
package distance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
)

// Result is one directed cell. Unconnected pairs carry opt.NoRoute in both fields.
type Result struct {
	Meters  int `json:"meters"`
	Seconds int `json:"seconds"`
}

func (r Result) Reachable() bool { return r.Meters != opt.NoRoute && r.Seconds != opt.NoRoute }

var noRoute = Result{Meters: opt.NoRoute, Seconds: opt.NoRoute}

// Provider answers a single origin/destination lookup.
type Provider interface {
	GetDistance(ctx context.Context, origin, destination geo.Location) (Result, error)
}

// MatrixProvider is the batched extension used to build full tables. The returned table
// is indexed [source][destination].
type MatrixProvider interface {
	Provider
	Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error)
}

// Backend names a routing engine.
type Backend string

const (
	BackendOSRM      Backend = "osrm"
	BackendValhalla  Backend = "valhalla"
	BackendHaversine Backend = "haversine"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendOSRM, BackendValhalla, BackendHaversine:
		return b, nil
	case "":
		return BackendHaversine, nil
	}
	return "", fmt.Errorf("%w: unknown routing backend %q", opt.ErrInputInvalid, s)
}

// Options tune the HTTP backends.
type Options struct {
	// Tasks bounds the number of table requests in flight. Defaults to 4.
	Tasks int
	// RPS limits outgoing requests per second; 0 disables the limiter.
	RPS float64
	// Timeout applies per request when HTTPClient is nil. Defaults to 10s.
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) tasks() int {
	if o.Tasks <= 0 {
		return 4
	}
	return o.Tasks
}

// New returns the provider for b. baseURL is ignored by the haversine backend.
func New(b Backend, baseURL string, opts Options) (MatrixProvider, error) {
	switch b {
	case BackendOSRM:
		return NewOSRM(baseURL, opts), nil
	case BackendValhalla:
		return NewValhalla(baseURL, opts), nil
	case BackendHaversine:
		return NewHaversine(), nil
	}
	return nil, fmt.Errorf("%w: unknown routing backend %q", opt.ErrInputInvalid, b)
}

func newTable(rows, cols int) [][]Result {
	out := make([][]Result, rows)
	for i := range out {
		out[i] = make([]Result, cols)
	}
	return out
}

// tableFromPairs fills a table through single lookups.
func tableFromPairs(ctx context.Context, p Provider, sources, destinations []geo.Location) ([][]Result, error) {
	out := newTable(len(sources), len(destinations))
	for i, s := range sources {
		for j, d := range destinations {
			r, err := p.GetDistance(ctx, s, d)
			if err != nil {
				return nil, err
			}
			out[i][j] = r
		}
	}
	return out, nil
}
