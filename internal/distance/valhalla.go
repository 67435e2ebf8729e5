package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"moddispatch/internal/geo"
)

const valhallaMaxLocations = 50

// Valhalla queries the /sources_to_targets matrix service.
type Valhalla struct {
	client
	baseURL string
	costing string
	tasks   int
}

func NewValhalla(baseURL string, opts Options) *Valhalla {
	return &Valhalla{
		client:  newClient(opts),
		baseURL: strings.TrimRight(baseURL, "/"),
		costing: "auto",
		tasks:   opts.tasks(),
	}
}

type valhallaPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type valhallaRequest struct {
	Sources []valhallaPoint `json:"sources"`
	Targets []valhallaPoint `json:"targets"`
	Costing string          `json:"costing"`
}

type valhallaCell struct {
	Distance  *float64 `json:"distance"` // kilometers
	Time      *float64 `json:"time"`
	FromIndex int      `json:"from_index"`
	ToIndex   int      `json:"to_index"`
}

type valhallaResponse struct {
	SourcesToTargets [][]valhallaCell `json:"sources_to_targets"`
}

func (v *Valhalla) GetDistance(ctx context.Context, origin, destination geo.Location) (Result, error) {
	t, err := v.Table(ctx, []geo.Location{origin}, []geo.Location{destination})
	if err != nil {
		return Result{}, err
	}
	return t[0][0], nil
}

func (v *Valhalla) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	out := newTable(len(sources), len(destinations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.tasks)
	for s := 0; s < len(sources); s += valhallaMaxLocations {
		src := sources[s:min(len(sources), s+valhallaMaxLocations)]
		for d := 0; d < len(destinations); d += valhallaMaxLocations {
			dst := destinations[d:min(len(destinations), d+valhallaMaxLocations)]
			s, d := s, d
			g.Go(func() error { return v.block(gctx, src, dst, out, s, d) })
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *Valhalla) block(ctx context.Context, src, dst []geo.Location, out [][]Result, row0, col0 int) error {
	body := valhallaRequest{Sources: points(src), Targets: points(dst), Costing: v.costing}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal valhalla request: %w", err)
	}
	resp, err := v.doWithRetry(ctx, func() (*http.Request, error) {
		return newRequest(ctx, http.MethodPost, v.baseURL+"/sources_to_targets", bytes.NewReader(payload))
	})
	if err != nil {
		return fmt.Errorf("valhalla matrix: %w", err)
	}
	defer resp.Body.Close()

	var vr valhallaResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return fmt.Errorf("decode valhalla matrix: %w", err)
	}
	if len(vr.SourcesToTargets) != len(src) {
		return fmt.Errorf("valhalla matrix: expected %d rows, got %d", len(src), len(vr.SourcesToTargets))
	}
	// cells the response leaves out stay unreachable
	for i := range src {
		for j := range dst {
			out[row0+i][col0+j] = noRoute
		}
	}
	for _, row := range vr.SourcesToTargets {
		for _, c := range row {
			if c.FromIndex < 0 || c.FromIndex >= len(src) || c.ToIndex < 0 || c.ToIndex >= len(dst) {
				return fmt.Errorf("valhalla matrix: cell index (%d,%d) out of range", c.FromIndex, c.ToIndex)
			}
			out[row0+c.FromIndex][col0+c.ToIndex] = cell(c.Distance, c.Time, 1000)
		}
	}
	return nil
}

func points(locs []geo.Location) []valhallaPoint {
	out := make([]valhallaPoint, len(locs))
	for i, l := range locs {
		out[i] = valhallaPoint{Lat: l.Lat, Lon: l.Lng}
	}
	return out
}
