package distance

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/geo"
	"moddispatch/internal/obs"
	"moddispatch/internal/store"
)

// PairKey is the cache key of a directed pair for one backend.
func PairKey(backend Backend, origin, destination geo.Location) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(backend))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(origin.Key())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(destination.Key())
	return strconv.FormatUint(h.Sum64(), 16)
}

// Cached puts a store.DistanceCache in front of a MatrixProvider. Only the rows and
// columns holding a miss are fetched. Cache failures are logged and bypassed;
// unreachable cells are never stored.
type Cached struct {
	Backend  MatrixProvider
	Cache    store.DistanceCache
	Name     Backend
	TTL      time.Duration
	Log      log.FieldLogger
	OnLookup func(hits, misses int)
}

func (c *Cached) logger() log.FieldLogger {
	if c.Log == nil {
		return log.StandardLogger()
	}
	return c.Log
}

func (c *Cached) GetDistance(ctx context.Context, origin, destination geo.Location) (Result, error) {
	t, err := c.Table(ctx, []geo.Location{origin}, []geo.Location{destination})
	if err != nil {
		return Result{}, err
	}
	return t[0][0], nil
}

func (c *Cached) Table(ctx context.Context, sources, destinations []geo.Location) (_ [][]Result, err error) {
	defer obs.Time(ctx, c.logger(), "distance.cached_table")(&err)

	keys := make([]string, 0, len(sources)*len(destinations))
	for _, s := range sources {
		for _, d := range destinations {
			keys = append(keys, PairKey(c.Name, s, d))
		}
	}
	hits, cerr := c.Cache.GetMany(ctx, keys)
	if cerr != nil {
		obs.FromContext(ctx, c.logger()).WithError(cerr).Warn("distance cache read failed")
		hits = nil
	}

	out := newTable(len(sources), len(destinations))
	missRow := make([]bool, len(sources))
	missCol := make([]bool, len(destinations))
	misses := 0
	for i := range sources {
		for j := range destinations {
			if h, ok := hits[keys[i*len(destinations)+j]]; ok {
				out[i][j] = Result{Meters: h.Meters, Seconds: h.Seconds}
				continue
			}
			missRow[i], missCol[j] = true, true
			misses++
		}
	}
	if c.OnLookup != nil {
		c.OnLookup(len(keys)-misses, misses)
	}
	if misses == 0 {
		return out, nil
	}

	rows, src := pick(sources, missRow)
	cols, dst := pick(destinations, missCol)
	fetched, err := c.Backend.Table(ctx, src, dst)
	if err != nil {
		return nil, err
	}
	fresh := make(map[string]store.Cost, misses)
	for a, i := range rows {
		for b, j := range cols {
			k := keys[i*len(destinations)+j]
			if _, ok := hits[k]; ok {
				continue
			}
			r := fetched[a][b]
			out[i][j] = r
			if r.Reachable() {
				fresh[k] = store.Cost{Meters: r.Meters, Seconds: r.Seconds}
			}
		}
	}
	if len(fresh) > 0 {
		if perr := c.Cache.PutMany(ctx, fresh, c.TTL); perr != nil {
			obs.FromContext(ctx, c.logger()).WithError(perr).Warn("distance cache write failed")
		}
	}
	return out, nil
}

// Clear drops every cached pair.
func (c *Cached) Clear(ctx context.Context) error { return c.Cache.Clear(ctx) }

func pick(locs []geo.Location, mask []bool) ([]int, []geo.Location) {
	var idx []int
	var out []geo.Location
	for i, m := range mask {
		if m {
			idx = append(idx, i)
			out = append(out, locs[i])
		}
	}
	return idx, out
}
