package distance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

type countingProvider struct {
	MatrixProvider
	calls atomic.Int32
	cells atomic.Int32
	err   error
}

func (c *countingProvider) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	c.calls.Add(1)
	c.cells.Add(int32(len(sources) * len(destinations)))
	if c.err != nil {
		return nil, c.err
	}
	return c.MatrixProvider.Table(ctx, sources, destinations)
}

// unreachableFrom wraps a provider and cuts every arc leaving one point.
type unreachableFrom struct {
	MatrixProvider
	from geo.Location
}

func (u unreachableFrom) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	t, err := u.MatrixProvider.Table(ctx, sources, destinations)
	if err != nil {
		return nil, err
	}
	for i, s := range sources {
		if s.Key() == u.from.Key() {
			for j := range t[i] {
				t[i][j] = noRoute
			}
		}
	}
	return t, nil
}

type brokenCache struct{}

func (brokenCache) GetMany(context.Context, []string) (map[string]store.Cost, error) {
	return nil, errors.New("down")
}
func (brokenCache) PutMany(context.Context, map[string]store.Cost, time.Duration) error {
	return errors.New("down")
}
func (brokenCache) Clear(context.Context) error { return nil }

func TestPairKey(t *testing.T) {
	a, b := geo.Location{Lng: 1, Lat: 2}, geo.Location{Lng: 3, Lat: 4}
	require.Equal(t, PairKey(BackendOSRM, a, b), PairKey(BackendOSRM, a, b))
	require.NotEqual(t, PairKey(BackendOSRM, a, b), PairKey(BackendOSRM, b, a))
	require.NotEqual(t, PairKey(BackendOSRM, a, b), PairKey(BackendValhalla, a, b))
}

func TestCachedTableFetchesOnlyMisses(t *testing.T) {
	backend := &countingProvider{MatrixProvider: NewHaversine()}
	var hits, misses int
	c := &Cached{
		Backend: backend, Cache: store.NewMemory(), Name: BackendHaversine, TTL: time.Minute,
		OnLookup: func(h, m int) { hits, misses = h, m },
	}
	ctx := context.Background()
	locs := line(3)

	first, err := c.Table(ctx, locs[:2], locs[:2])
	require.NoError(t, err)
	require.Equal(t, int32(1), backend.calls.Load())
	require.Equal(t, 4, misses)

	all, err := c.Table(ctx, locs, locs)
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.calls.Load())
	require.Equal(t, 4, hits)
	require.Equal(t, 5, misses)
	require.Equal(t, first[0][1], all[0][1])
	// rows {0,1,2} x cols {2} and row {2} x cols {0,1,2}: the miss rectangle is 3x3
	require.Equal(t, int32(4+9), backend.cells.Load())

	_, err = c.Table(ctx, locs, locs)
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.calls.Load())
	require.Equal(t, 9, hits)

	require.NoError(t, c.Clear(ctx))
	_, err = c.GetDistance(ctx, locs[0], locs[1])
	require.NoError(t, err)
	require.Equal(t, int32(3), backend.calls.Load())
}

func TestCachedSkipsUnreachable(t *testing.T) {
	locs := line(2)
	backend := &countingProvider{MatrixProvider: unreachableFrom{MatrixProvider: NewHaversine(), from: locs[0]}}
	c := &Cached{Backend: backend, Cache: store.NewMemory(), Name: BackendOSRM, TTL: time.Minute}
	ctx := context.Background()

	r, err := c.GetDistance(ctx, locs[0], locs[1])
	require.NoError(t, err)
	require.Equal(t, opt.NoRoute, r.Seconds)
	_, err = c.GetDistance(ctx, locs[0], locs[1])
	require.NoError(t, err)
	require.Equal(t, int32(2), backend.calls.Load())
}

func TestCachedSurvivesBrokenCache(t *testing.T) {
	backend := &countingProvider{MatrixProvider: NewHaversine()}
	c := &Cached{Backend: backend, Cache: brokenCache{}, Name: BackendHaversine}
	tbl, err := c.Table(context.Background(), line(2), line(2))
	require.NoError(t, err)
	require.Positive(t, tbl[0][1].Meters)
}

func TestCachedPropagatesBackendError(t *testing.T) {
	backend := &countingProvider{MatrixProvider: NewHaversine(), err: errors.New("boom")}
	c := &Cached{Backend: backend, Cache: store.NewMemory(), Name: BackendHaversine}
	_, err := c.Table(context.Background(), line(2), line(2))
	require.ErrorContains(t, err, "boom")
}
