package store

import (
	"context"
	"errors"
	"time"
)

// Layered reads through a fast L1 cache to a shared L2 and back-fills L1 on L2 hits.
// Writes go to both tiers.
type Layered struct {
	L1    DistanceCache
	L2    DistanceCache
	L1TTL time.Duration // 0 uses the write ttl, or defaultL1TTL on back-fill
}

const defaultL1TTL = 5 * time.Minute

func (l *Layered) GetMany(ctx context.Context, keys []string) (map[string]Cost, error) {
	out, err := l.L1.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(out) == len(keys) {
		return out, nil
	}
	var rest []string
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			rest = append(rest, k)
		}
	}
	found, err := l.L2.GetMany(ctx, rest)
	if err != nil {
		// L2 failures degrade to L1 only
		return out, nil
	}
	if len(found) > 0 {
		ttl := l.L1TTL
		if ttl == 0 {
			ttl = defaultL1TTL
		}
		_ = l.L1.PutMany(ctx, found, ttl)
	}
	for k, c := range found {
		out[k] = c
	}
	return out, nil
}

func (l *Layered) PutMany(ctx context.Context, entries map[string]Cost, ttl time.Duration) error {
	l1 := l.L1TTL
	if l1 == 0 {
		l1 = ttl
	}
	return errors.Join(l.L1.PutMany(ctx, entries, l1), l.L2.PutMany(ctx, entries, ttl))
}

func (l *Layered) Clear(ctx context.Context) error {
	return errors.Join(l.L1.Clear(ctx), l.L2.Clear(ctx))
}
