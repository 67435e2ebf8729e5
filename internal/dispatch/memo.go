package dispatch

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"moddispatch/internal/distance"
	"moddispatch/internal/geo"
	"moddispatch/internal/metrics"
	"moddispatch/internal/obs"
	"moddispatch/internal/opt"
)

// memoEntry is the last matrix built for a request that carried a location hash.
type memoEntry struct {
	routeType distance.Backend
	hash      string
	points    uint64
	matrix    *opt.Matrix
	expires   time.Time
}

// fingerprint hashes the node locations so a reused locHash with different points
// never serves a stale matrix.
func fingerprint(locs []geo.Location) uint64 {
	h := xxhash.New()
	for _, l := range locs {
		_, _ = h.WriteString(l.Key())
		_, _ = h.WriteString(";")
	}
	return h.Sum64()
}

func (e *Engine) matrix(ctx context.Context, l log.FieldLogger, p distance.MatrixProvider, req Request, conf opt.RouteConfiguration) (*opt.Matrix, bool, error) {
	locs := req.Problem.Locations()
	hash := req.Problem.LocHash
	fp := fingerprint(locs)
	if hash != "" {
		e.mu.Lock()
		m := e.memo
		e.mu.Unlock()
		if m != nil && m.routeType == req.RouteType && m.hash == hash && m.points == fp && e.now().Before(m.expires) {
			metrics.MatrixMemo.WithLabelValues("hit").Inc()
			return m.matrix, true, nil
		}
		metrics.MatrixMemo.WithLabelValues("miss").Inc()
	}

	mx, err := buildMatrix(ctx, l, p, locs)
	if err != nil {
		return nil, false, err
	}
	if hash != "" && conf.CacheExpirationTime > 0 {
		e.mu.Lock()
		e.memo = &memoEntry{
			routeType: req.RouteType,
			hash:      hash,
			points:    fp,
			matrix:    mx,
			expires:   e.now().Add(time.Duration(conf.CacheExpirationTime) * time.Second),
		}
		e.mu.Unlock()
	}
	return mx, false, nil
}

func buildMatrix(ctx context.Context, l log.FieldLogger, p distance.MatrixProvider, locs []geo.Location) (m *opt.Matrix, err error) {
	defer obs.Time(ctx, l, "dispatch.build_matrix")(&err)
	return distance.BuildMatrix(ctx, p, locs)
}
