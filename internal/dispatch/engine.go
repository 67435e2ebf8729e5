// Package dispatch is the service-facing entry point of the solver. It resolves the
// travel matrix through a routing backend, runs the ALNS search and records the run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/distance"
	"moddispatch/internal/metrics"
	"moddispatch/internal/obs"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Event is a run lifecycle notification.
type Event struct {
	Type  string         `json:"type"`
	RunID string         `json:"runId"`
	At    time.Time      `json:"ts"`
	Data  map[string]any `json:"data,omitempty"`
}

// Notifier receives run events. Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type NotifierFunc func(ctx context.Context, evt Event)

func (f NotifierFunc) Notify(ctx context.Context, evt Event) { f(ctx, evt) }

// Options wires the engine. Only Providers is required.
type Options struct {
	Providers map[distance.Backend]distance.MatrixProvider
	// Cache is cleared by ClearCache; it should be the cache behind the providers.
	Cache     store.DistanceCache
	Runs      store.RunStore
	Notifiers []Notifier
	Log       log.FieldLogger
	// Defaults fill a zero AlgorithmParameters / RouteConfiguration in a Request.
	Defaults *Defaults
	// LogRequests logs each run's problem, parameters and matrix as one JSON field.
	LogRequests bool
}

type Defaults struct {
	Params opt.AlgorithmParameters
	Config opt.RouteConfiguration
}

// Engine is safe for concurrent use.
type Engine struct {
	providers map[distance.Backend]distance.MatrixProvider
	cache     store.DistanceCache
	runs      store.RunStore
	notifiers []Notifier
	log       log.FieldLogger
	defaults  Defaults
	dump      bool
	now       func() time.Time

	mu   sync.Mutex
	memo *memoEntry
}

func New(o Options) *Engine {
	e := &Engine{
		providers: o.Providers,
		cache:     o.Cache,
		runs:      o.Runs,
		notifiers: o.Notifiers,
		log:       o.Log,
		dump:      o.LogRequests,
		defaults:  Defaults{Params: opt.DefaultAlgorithmParameters(), Config: opt.DefaultRouteConfiguration()},
		now:       time.Now,
	}
	if o.Defaults != nil {
		e.defaults = *o.Defaults
	}
	if e.log == nil {
		e.log = log.StandardLogger()
	}
	return e
}

// DefaultAlgorithmParameters returns the parameters used when a request carries none.
func (e *Engine) DefaultAlgorithmParameters() opt.AlgorithmParameters { return e.defaults.Params }

func (e *Engine) DefaultRouteConfiguration() opt.RouteConfiguration { return e.defaults.Config }

// Request is one optimize call. A nil Params or Config takes the engine defaults.
type Request struct {
	Problem     opt.Problem
	RouteType   distance.Backend
	Parallelism int
	Params      *opt.AlgorithmParameters
	Config      *opt.RouteConfiguration
}

// Run is the outcome of Execute.
type Run struct {
	ID           string
	Report       *opt.Report
	Elapsed      time.Duration
	MatrixReused bool
}

// Optimize returns the ranked solutions for p. parallelism > 0 overrides
// ap.ThreadCount.
func (e *Engine) Optimize(ctx context.Context, p opt.Problem, routeType distance.Backend, parallelism int,
	ap opt.AlgorithmParameters, conf opt.RouteConfiguration) ([]opt.Result, error) {
	run, err := e.Execute(ctx, Request{Problem: p, RouteType: routeType, Parallelism: parallelism, Params: &ap, Config: &conf})
	if err != nil {
		return nil, err
	}
	return run.Report.Results, nil
}

// Execute runs one optimize call and records it. The returned Run is non-nil whenever a
// run id was assigned, including failed runs.
func (e *Engine) Execute(ctx context.Context, req Request) (*Run, error) {
	run := &Run{ID: uuid.NewString()}
	start := e.now()
	l := obs.FromContext(ctx, e.log).WithField("run_id", run.ID)

	ap, conf := e.defaults.Params, e.defaults.Config
	if req.Params != nil {
		ap = *req.Params
	}
	if req.Config != nil {
		conf = *req.Config
	}
	if req.Parallelism > 0 {
		ap.ThreadCount = req.Parallelism
	}
	if req.RouteType == "" {
		req.RouteType = distance.BackendHaversine
	}

	rep, reused, err := e.solve(ctx, l, req, ap, conf)
	run.Report, run.MatrixReused, run.Elapsed = rep, reused, e.now().Sub(start)

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	metrics.OptimizeRuns.WithLabelValues(string(req.RouteType), status).Inc()
	metrics.OptimizeDuration.WithLabelValues(string(req.RouteType)).Observe(run.Elapsed.Seconds())
	e.record(ctx, l, run, req, ap, start, err)

	if err != nil {
		l.WithError(err).Warn("optimize failed")
		return run, err
	}
	fields := log.Fields{"trials": len(rep.Trials), "rounds": rep.Rounds, "results": len(rep.Results), "dur_ms": run.Elapsed.Milliseconds()}
	if len(rep.Results) > 0 {
		fields["best_cost"] = rep.Results[0].Objective
	}
	l.WithFields(fields).Info("optimize done")
	return run, nil
}

func (e *Engine) solve(ctx context.Context, l log.FieldLogger, req Request, ap opt.AlgorithmParameters, conf opt.RouteConfiguration) (*opt.Report, bool, error) {
	if err := req.Problem.Validate(); err != nil {
		return nil, false, err
	}
	if err := ap.Validate(); err != nil {
		return nil, false, err
	}
	if err := conf.Validate(); err != nil {
		return nil, false, err
	}
	provider, ok := e.providers[req.RouteType]
	if !ok {
		return nil, false, fmt.Errorf("%w: routing backend %q is not configured", opt.ErrInputInvalid, req.RouteType)
	}

	m, reused, err := e.matrix(ctx, l, provider, req, conf)
	if err != nil {
		return nil, false, err
	}
	if e.dump {
		e.dumpRequest(l, req, ap, conf, m)
	}
	in, err := opt.NewInstance(req.Problem, m, ap, conf)
	if err != nil {
		return nil, reused, err
	}
	rep, err := opt.Optimize(ctx, in)
	return rep, reused, err
}

// ClearCache drops memoized matrices and every cached distance pair.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.mu.Lock()
	e.memo = nil
	e.mu.Unlock()
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear distance cache: %w", err)
	}
	return nil
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, opt.ErrInputInvalid) || errors.Is(err, opt.ErrNoSolution)
}
