package distance

import (
	"context"
	"fmt"

	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
)

// BuildMatrix resolves the full cost matrix over locs with a single table request over
// the distinct points. Backend failures are wrapped in opt.ErrOracleUnavailable.
func BuildMatrix(ctx context.Context, p MatrixProvider, locs []geo.Location) (*opt.Matrix, error) {
	index := make(map[string]int, len(locs))
	uniq := make([]geo.Location, 0, len(locs))
	pos := make([]int, len(locs))
	for i, l := range locs {
		k := l.Key()
		u, ok := index[k]
		if !ok {
			u = len(uniq)
			index[k] = u
			uniq = append(uniq, l)
		}
		pos[i] = u
	}

	m := opt.NewMatrix(len(locs))
	if len(uniq) < 2 {
		return m, nil
	}
	t, err := p.Table(ctx, uniq, uniq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", opt.ErrOracleUnavailable, err)
	}
	if len(t) != len(uniq) {
		return nil, fmt.Errorf("%w: table has %d rows, want %d", opt.ErrOracleUnavailable, len(t), len(uniq))
	}
	for _, row := range t {
		if len(row) != len(uniq) {
			return nil, fmt.Errorf("%w: table row has %d cells, want %d", opt.ErrOracleUnavailable, len(row), len(uniq))
		}
	}
	for i := range locs {
		for j := range locs {
			if pos[i] == pos[j] {
				continue
			}
			r := t[pos[i]][pos[j]]
			m.Set(i, j, r.Meters, r.Seconds)
		}
	}
	return m, nil
}
