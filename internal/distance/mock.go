package distance

import (
	"context"
	"fmt"

	"moddispatch/internal/geo"
)

type MockPair struct {
	From, To geo.Location
	Meters   int
	Seconds  int
}

// Mock serves fixed pairs. Identical points cost nothing; any other unknown pair fails.
type Mock struct {
	m map[string]Result
}

func NewMock(pairs []MockPair) *Mock {
	m := make(map[string]Result, len(pairs))
	for _, p := range pairs {
		m[p.From.Key()+"|"+p.To.Key()] = Result{Meters: p.Meters, Seconds: p.Seconds}
	}
	return &Mock{m: m}
}

func (p *Mock) GetDistance(ctx context.Context, origin, destination geo.Location) (Result, error) {
	if origin.Key() == destination.Key() {
		return Result{}, nil
	}
	r, ok := p.m[origin.Key()+"|"+destination.Key()]
	if !ok {
		return Result{}, fmt.Errorf("missing pair %q -> %q", origin.Key(), destination.Key())
	}
	return r, nil
}

func (p *Mock) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	return tableFromPairs(ctx, p, sources, destinations)
}
