package opt

import (
	"cmp"
	"slices"

	"moddispatch/internal/geo"
)

type Stop struct {
	DemandID  string       `json:"demandId"`
	Pickup    bool         `json:"pickup"`
	Location  geo.Location `json:"location"`
	Arrival   int          `json:"arrival"`
	Departure int          `json:"departure"`
	Load      int          `json:"load"`
}

type VehicleRoute struct {
	VehicleID string  `json:"vehicleId"`
	Stops     []Stop  `json:"stops"`
	Distance  int     `json:"distance"`
	Duration  int     `json:"duration"`
	Cost      float64 `json:"cost"`
}

// Result is one ranked solution as reported to callers. Totals count travel plus
// service time over every stop of every route.
type Result struct {
	Rank          int            `json:"rank"`
	Objective     float64        `json:"objective"`
	Routes        []VehicleRoute `json:"routes"`
	Missing       []string       `json:"missing"`
	Unacceptable  []string       `json:"unacceptable"`
	TotalDistance int            `json:"totalDistance"`
	TotalTime     int            `json:"totalTime"`
}

// Outcome classifies demand id in this result.
func (r Result) Outcome(id string) Outcome {
	if slices.Contains(r.Unacceptable, id) {
		return Unacceptable
	}
	if slices.Contains(r.Missing, id) {
		return Missing
	}
	return Routed
}

func compareSolutions(a, b *Solution) int {
	if c := cmp.Compare(len(a.Missing), len(b.Missing)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Objective, b.Objective); c != 0 {
		return c
	}
	return cmp.Compare(a.Signature(), b.Signature())
}

// finalize dedupes, ranks and formats the candidate pool.
func finalize(in *Instance, pool []*Solution) ([]Result, error) {
	seen := make(map[string]bool, len(pool))
	var uniq []*Solution
	for _, s := range pool {
		if s == nil {
			continue
		}
		sig := s.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		if len(s.Missing) > 0 && !in.Params.EnableMissingSolution {
			continue
		}
		uniq = append(uniq, s)
	}
	if len(uniq) == 0 {
		return nil, ErrNoSolution
	}
	slices.SortFunc(uniq, compareSolutions)
	limit := min(max(1, in.Problem.MaxSolutions), max(1, in.Config.SolutionLimit))
	if len(uniq) > limit {
		uniq = uniq[:limit]
	}

	locs := in.Problem.Locations()
	out := make([]Result, 0, len(uniq))
	for rank, s := range uniq {
		res := Result{
			Rank:         rank + 1,
			Objective:    s.Objective,
			Missing:      demandIDs(in, s.Missing),
			Unacceptable: demandIDs(in, s.Unacceptable),
		}
		for _, r := range s.Routes {
			if len(r.Stops) == 0 {
				continue
			}
			vr := VehicleRoute{
				VehicleID: in.Problem.Vehicles[r.Vehicle].ID,
				Stops:     make([]Stop, len(r.Stops)),
				Distance:  r.dist,
				Duration:  r.duration,
				Cost:      r.cost,
			}
			for k, n := range r.Stops {
				nd := in.nodes[n]
				vr.Stops[k] = Stop{
					DemandID:  in.Problem.Demands[nd.demand].ID,
					Pickup:    nd.pickup,
					Location:  locs[n],
					Arrival:   r.arr[k],
					Departure: r.dep[k],
					Load:      r.load[k],
				}
			}
			res.Routes = append(res.Routes, vr)
			res.TotalDistance += r.dist
			res.TotalTime += r.travel + in.Config.ServiceTime*len(r.Stops)
		}
		out = append(out, res)
	}
	return out, nil
}

func demandIDs(in *Instance, idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, d := range idx {
		out = append(out, in.Problem.Demands[d].ID)
	}
	return out
}
