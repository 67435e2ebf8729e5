package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"moddispatch/internal/distance"
	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

type countingProvider struct {
	distance.MatrixProvider
	calls atomic.Int32
	err   error
}

func (c *countingProvider) Table(ctx context.Context, sources, destinations []geo.Location) ([][]distance.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.MatrixProvider.Table(ctx, sources, destinations)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(_ context.Context, evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func problem() opt.Problem {
	return opt.Problem{
		Vehicles: []opt.Vehicle{{ID: "v1", Capacity: 4, Location: geo.Location{Lng: 139.70, Lat: 35.60}}},
		Demands: []opt.Demand{{
			ID: "d1", Quantity: 1,
			Start:        geo.Location{Lng: 139.71, Lat: 35.60},
			Destination:  geo.Location{Lng: 139.73, Lat: 35.61},
			PickupWindow: opt.TimeWindow{Low: 0, High: 900},
		}},
		MaxSolutions: 1,
	}
}

func params() opt.AlgorithmParameters {
	ap := opt.DefaultAlgorithmParameters()
	ap.NbIterations = 120
	ap.TimeLimit = 0
	ap.Seed = 11
	return ap
}

type fixture struct {
	engine  *Engine
	backend *countingProvider
	runs    *store.Memory
	events  *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &countingProvider{MatrixProvider: distance.NewHaversine()},
		runs:    store.NewMemory(),
		events:  &eventLog{},
	}
	ap, conf := params(), opt.DefaultRouteConfiguration()
	f.engine = New(Options{
		Providers: map[distance.Backend]distance.MatrixProvider{distance.BackendHaversine: f.backend},
		Cache:     f.runs,
		Runs:      f.runs,
		Notifiers: []Notifier{f.events},
		Defaults:  &Defaults{Params: ap, Config: conf},
	})
	return f
}

func TestOptimizeRoutesDemand(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Optimize(context.Background(), problem(), distance.BackendHaversine, 2, params(), opt.DefaultRouteConfiguration())
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, opt.Routed, res[0].Outcome("d1"))
	require.Len(t, res[0].Routes, 1)
	require.Len(t, res[0].Routes[0].Stops, 2)
}

func TestExecuteRecordsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run, err := f.engine.Execute(ctx, Request{Problem: problem(), Parallelism: 2})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Len(t, run.Report.Trials, 2)

	rec, err := f.runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "succeeded", rec.Status)
	require.Equal(t, "time", rec.OptimizeType)
	require.Equal(t, 1, rec.Vehicles)
	require.Equal(t, 1, rec.Demands)
	require.Equal(t, int64(11), rec.Seed)
	require.Equal(t, run.Report.Results[0].Objective, rec.BestCost)
	require.NotEmpty(t, rec.Results)

	_, err = f.runs.ListWeights(ctx, run.ID)
	require.NoError(t, err)
	trials, ok := opt.GetMetrics(run.ID)
	require.True(t, ok)
	require.Len(t, trials, 2)

	evt := f.events.last()
	require.Equal(t, EventRunCompleted, evt.Type)
	require.Equal(t, run.ID, evt.RunID)
	require.Equal(t, "succeeded", evt.Data["status"])
}

func TestExecuteRecordsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := problem()
	p.Vehicles[0].Capacity = -1
	run, err := f.engine.Execute(ctx, Request{Problem: p})
	require.ErrorIs(t, err, opt.ErrInputInvalid)
	require.True(t, IsClientError(err))
	require.NotNil(t, run)
	require.Zero(t, f.backend.calls.Load())

	rec, err := f.runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "failed", rec.Status)
	require.Contains(t, rec.Error, "negative capacity")
	require.Equal(t, EventRunFailed, f.events.last().Type)
}

func TestExecuteRejectsUnconfiguredBackend(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Execute(context.Background(), Request{Problem: problem(), RouteType: distance.BackendOSRM})
	require.ErrorIs(t, err, opt.ErrInputInvalid)
}

func TestExecuteWrapsOracleFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.New("connection refused")
	_, err := f.engine.Execute(context.Background(), Request{Problem: problem()})
	require.ErrorIs(t, err, opt.ErrOracleUnavailable)
	require.False(t, IsClientError(err))
}

func TestMatrixMemo(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1000, 0)
	f.engine.now = func() time.Time { return now }
	ctx := context.Background()
	p := problem()
	p.LocHash = "h1"

	first, err := f.engine.Execute(ctx, Request{Problem: p})
	require.NoError(t, err)
	require.False(t, first.MatrixReused)
	second, err := f.engine.Execute(ctx, Request{Problem: p})
	require.NoError(t, err)
	require.True(t, second.MatrixReused)
	require.Equal(t, int32(1), f.backend.calls.Load())

	// same hash, different points
	moved := problem()
	moved.LocHash = "h1"
	moved.Demands[0].Destination.Lng = 139.74
	third, err := f.engine.Execute(ctx, Request{Problem: moved})
	require.NoError(t, err)
	require.False(t, third.MatrixReused)
	require.Equal(t, int32(2), f.backend.calls.Load())

	now = now.Add(time.Duration(opt.DefaultRouteConfiguration().CacheExpirationTime+1) * time.Second)
	fourth, err := f.engine.Execute(ctx, Request{Problem: moved})
	require.NoError(t, err)
	require.False(t, fourth.MatrixReused)

	require.NoError(t, f.engine.ClearCache(ctx))
	fifth, err := f.engine.Execute(ctx, Request{Problem: moved})
	require.NoError(t, err)
	require.False(t, fifth.MatrixReused)
	require.Equal(t, int32(4), f.backend.calls.Load())
}

func TestDefaults(t *testing.T) {
	e := New(Options{})
	require.Equal(t, opt.DefaultAlgorithmParameters(), e.DefaultAlgorithmParameters())
	require.Equal(t, opt.DefaultRouteConfiguration(), e.DefaultRouteConfiguration())
	require.NoError(t, e.ClearCache(context.Background()))
}

func TestExecuteLogsRequestWhenEnabled(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	newEngine := func(dump bool) *Engine {
		return New(Options{
			Providers:   map[distance.Backend]distance.MatrixProvider{distance.BackendHaversine: distance.NewHaversine()},
			Log:         logger,
			Defaults:    &Defaults{Params: params(), Config: opt.DefaultRouteConfiguration()},
			LogRequests: dump,
		})
	}
	findDump := func() *logrus.Entry {
		for _, e := range hook.AllEntries() {
			if e.Message == "optimize request" {
				return e
			}
		}
		return nil
	}

	_, err := newEngine(false).Execute(context.Background(), Request{Problem: problem()})
	require.NoError(t, err)
	require.Nil(t, findDump())

	run, err := newEngine(true).Execute(context.Background(), Request{Problem: problem()})
	require.NoError(t, err)
	entry := findDump()
	require.NotNil(t, entry)
	require.Equal(t, run.ID, entry.Data["run_id"])
	require.Equal(t, 3, entry.Data["locations"])

	var dump struct {
		RouteType string                  `json:"routeType"`
		Problem   opt.Problem             `json:"problem"`
		Params    opt.AlgorithmParameters `json:"algorithmParameters"`
		Matrix    opt.Matrix              `json:"matrix"`
	}
	require.NoError(t, json.Unmarshal([]byte(entry.Data["request"].(string)), &dump))
	require.Equal(t, "haversine", dump.RouteType)
	require.Equal(t, "d1", dump.Problem.Demands[0].ID)
	require.Equal(t, int64(11), dump.Params.Seed)
	require.Equal(t, 3, dump.Matrix.N)
	require.Len(t, dump.Matrix.Distance, 9)
}
