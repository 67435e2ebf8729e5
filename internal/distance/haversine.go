package distance

import (
	"context"
	"math"

	"moddispatch/internal/geo"
)

// Haversine estimates road costs from the great-circle distance. It needs no network and
// backs cmd/solve and tests.
type Haversine struct {
	// Detour scales the straight line to an approximate road distance.
	Detour float64
	// Speed in meters per second.
	Speed float64
}

func NewHaversine() *Haversine { return &Haversine{Detour: 1.3, Speed: 8.33} }

func (h *Haversine) GetDistance(_ context.Context, origin, destination geo.Location) (Result, error) {
	if origin.Key() == destination.Key() {
		return Result{}, nil
	}
	m := geo.HaversineMeters(origin, destination) * h.Detour
	return Result{Meters: int(math.Round(m)), Seconds: int(math.Round(m / h.Speed))}, nil
}

func (h *Haversine) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	return tableFromPairs(ctx, h, sources, destinations)
}
