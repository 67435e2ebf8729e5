package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"moddispatch/internal/geo"
)

// osrmMaxLocations caps sources and destinations per table request; the public OSRM
// server rejects larger tables.
const osrmMaxLocations = 100

// OSRM queries the /table service of an OSRM server.
type OSRM struct {
	client
	baseURL string
	profile string
	tasks   int
}

func NewOSRM(baseURL string, opts Options) *OSRM {
	return &OSRM{
		client:  newClient(opts),
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		tasks:   opts.tasks(),
	}
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (o *OSRM) GetDistance(ctx context.Context, origin, destination geo.Location) (Result, error) {
	t, err := o.Table(ctx, []geo.Location{origin}, []geo.Location{destination})
	if err != nil {
		return Result{}, err
	}
	return t[0][0], nil
}

// Table splits the request into blocks of at most osrmMaxLocations sources and
// destinations and runs them concurrently.
func (o *OSRM) Table(ctx context.Context, sources, destinations []geo.Location) ([][]Result, error) {
	out := newTable(len(sources), len(destinations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.tasks)
	for s := 0; s < len(sources); s += osrmMaxLocations {
		src := sources[s:min(len(sources), s+osrmMaxLocations)]
		for d := 0; d < len(destinations); d += osrmMaxLocations {
			dst := destinations[d:min(len(destinations), d+osrmMaxLocations)]
			s, d := s, d
			g.Go(func() error { return o.block(gctx, src, dst, out, s, d) })
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// block fetches one sub-table and writes it at out[row0:][col0:].
func (o *OSRM) block(ctx context.Context, src, dst []geo.Location, out [][]Result, row0, col0 int) error {
	coords := make([]string, 0, len(src)+len(dst))
	for _, l := range src {
		coords = append(coords, l.Key())
	}
	for _, l := range dst {
		coords = append(coords, l.Key())
	}
	url := fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance,duration&sources=%s&destinations=%s",
		o.baseURL, o.profile, strings.Join(coords, ";"), indexList(0, len(src)), indexList(len(src), len(src)+len(dst)))

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return newRequest(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return fmt.Errorf("osrm table: %w", err)
	}
	defer resp.Body.Close()

	var tr osrmTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode osrm table: %w", err)
	}
	if tr.Code != "Ok" {
		return fmt.Errorf("osrm table: %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Distances) != len(src) || len(tr.Durations) != len(src) {
		return fmt.Errorf("osrm table: expected %d rows, got distances=%d durations=%d",
			len(src), len(tr.Distances), len(tr.Durations))
	}
	for i := range src {
		if len(tr.Distances[i]) != len(dst) || len(tr.Durations[i]) != len(dst) {
			return fmt.Errorf("osrm table: row %d has %d/%d cells, want %d",
				i, len(tr.Distances[i]), len(tr.Durations[i]), len(dst))
		}
		for j := range dst {
			out[row0+i][col0+j] = cell(tr.Distances[i][j], tr.Durations[i][j], 1)
		}
	}
	return nil
}

// cell rounds up to whole meters and seconds. meters is multiplied by scale first.
func cell(meters, seconds *float64, scale float64) Result {
	if meters == nil || seconds == nil {
		return noRoute
	}
	return Result{Meters: ceil(*meters * scale), Seconds: ceil(*seconds)}
}

// ceil ignores float noise below 1e-6 so 1.234 km stays 1234 m.
func ceil(v float64) int { return int(math.Ceil(v - 1e-6)) }

func indexList(from, to int) string {
	var b strings.Builder
	for i := from; i < to; i++ {
		if i > from {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}
