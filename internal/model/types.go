// Package model holds the HTTP request and response shapes of the dispatch API and
// their mapping onto the solver types.
package model

import (
	"fmt"

	"moddispatch/internal/geo"
	"moddispatch/internal/opt"
)

type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Waypoint  string  `json:"waypointId,omitempty"`
	Station   string  `json:"stationId,omitempty"`
	Direction int     `json:"direction,omitempty"`
}

func (g GeoPoint) Location() geo.Location {
	return geo.Location{Lng: g.Lng, Lat: g.Lat, Waypoint: g.Waypoint, Station: g.Station, Direction: g.Direction}
}

// TimeWindow is in seconds after the dispatch snapshot; high <= 0 is open-ended.
type TimeWindow struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

type VehicleIn struct {
	ID       string   `json:"id"`
	Capacity int      `json:"capacity"`
	Location GeoPoint `json:"location"`
	ReadyAt  int      `json:"readyAt,omitempty"`
}

type DemandIn struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	// Kind is new (default), onboard or onboard_waiting.
	Kind         string     `json:"kind,omitempty"`
	VehicleID    string     `json:"vehicleId,omitempty"`
	Start        *GeoPoint  `json:"start,omitempty"`
	Destination  GeoPoint   `json:"destination"`
	PickupWindow TimeWindow `json:"pickupWindow"`
	DropWindow   TimeWindow `json:"dropWindow"`
}

type StopRef struct {
	DemandID string `json:"demandId"`
	Pickup   bool   `json:"pickup"`
}

type AssignedIn struct {
	VehicleID string    `json:"vehicleId"`
	Stops     []StopRef `json:"stops"`
}

// OptimizeRequest is the body of POST /v1/optimize. Parameter blocks are partial: the
// handler decodes them over the service defaults.
type OptimizeRequest struct {
	Vehicles     []VehicleIn  `json:"vehicles"`
	Demands      []DemandIn   `json:"demands"`
	Assigned     []AssignedIn `json:"assigned,omitempty"`
	OptimizeType string       `json:"optimizeType,omitempty"`
	MaxSolutions int          `json:"maxSolutions,omitempty"`
	LocHash      string       `json:"locHash,omitempty"`
	RouteType    string       `json:"routeType,omitempty"`
	Parallelism  int          `json:"parallelism,omitempty"`

	AlgorithmParameters *opt.AlgorithmParameters `json:"algorithmParameters,omitempty"`
	RouteConfiguration  *opt.RouteConfiguration  `json:"routeConfiguration,omitempty"`
}

// Problem maps the request onto the solver snapshot. Structural checks beyond decoding
// are left to opt.Problem.Validate.
func (r OptimizeRequest) Problem() (opt.Problem, error) {
	ot, err := opt.ParseOptimizeType(r.OptimizeType)
	if err != nil {
		return opt.Problem{}, err
	}
	p := opt.Problem{
		OptimizeType: ot,
		MaxSolutions: r.MaxSolutions,
		LocHash:      r.LocHash,
		Vehicles:     make([]opt.Vehicle, 0, len(r.Vehicles)),
		Demands:      make([]opt.Demand, 0, len(r.Demands)),
	}
	if p.MaxSolutions == 0 {
		p.MaxSolutions = 1
	}
	for _, v := range r.Vehicles {
		p.Vehicles = append(p.Vehicles, opt.Vehicle{ID: v.ID, Capacity: v.Capacity, Location: v.Location.Location(), ReadyAt: v.ReadyAt})
	}
	for _, d := range r.Demands {
		var kind opt.DemandKind
		if err := kind.UnmarshalText([]byte(d.Kind)); err != nil {
			return opt.Problem{}, err
		}
		od := opt.Demand{
			ID:           d.ID,
			Quantity:     d.Quantity,
			Kind:         kind,
			VehicleID:    d.VehicleID,
			Destination:  d.Destination.Location(),
			PickupWindow: opt.TimeWindow(d.PickupWindow),
			DropWindow:   opt.TimeWindow(d.DropWindow),
		}
		if kind != opt.KindOnboard {
			if d.Start == nil {
				return opt.Problem{}, fmt.Errorf("%w: demand %q needs a start location", opt.ErrInputInvalid, d.ID)
			}
			od.Start = d.Start.Location()
		}
		p.Demands = append(p.Demands, od)
	}
	for _, a := range r.Assigned {
		ar := opt.AssignedRoute{VehicleID: a.VehicleID, Stops: make([]opt.StopRef, 0, len(a.Stops))}
		for _, s := range a.Stops {
			ar.Stops = append(ar.Stops, opt.StopRef(s))
		}
		p.Assigned = append(p.Assigned, ar)
	}
	return p, nil
}

// OptimizeResponse is the body returned by POST /v1/optimize.
type OptimizeResponse struct {
	RunID        string       `json:"runId"`
	Seed         int64        `json:"seed"`
	Rounds       int          `json:"rounds"`
	ElapsedMs    int64        `json:"elapsedMs"`
	MatrixReused bool         `json:"matrixReused"`
	Solutions    []opt.Result `json:"solutions"`
}

// Defaults is the body of GET /v1/config/defaults.
type Defaults struct {
	AlgorithmParameters opt.AlgorithmParameters `json:"algorithmParameters"`
	RouteConfiguration  opt.RouteConfiguration  `json:"routeConfiguration"`
	RouteTypes          []string                `json:"routeTypes"`
}

// TrialSummary is the per-trial view served next to weight snapshots.
type TrialSummary struct {
	Round          int     `json:"round"`
	Trial          int     `json:"trial"`
	Iterations     int     `json:"iterations"`
	Improvements   int     `json:"improvements"`
	AcceptedWorse  int     `json:"acceptedWorse"`
	BestCost       float64 `json:"bestCost"`
	FinalCost      float64 `json:"finalCost"`
	RemovalSelects []int   `json:"removalSelects"`
	InsertSelects  []int   `json:"insertSelects"`
	StopReason     string  `json:"stopReason"`
}

func SummarizeTrials(ms []opt.Metrics) []TrialSummary {
	out := make([]TrialSummary, 0, len(ms))
	for _, m := range ms {
		out = append(out, TrialSummary{
			Round:          m.Round,
			Trial:          m.Trial,
			Iterations:     m.Iterations,
			Improvements:   m.Improvements,
			AcceptedWorse:  m.AcceptedWorse,
			BestCost:       m.BestCost,
			FinalCost:      m.FinalCost,
			RemovalSelects: m.RemovalSelects[:],
			InsertSelects:  m.InsertSelects[:],
			StopReason:     m.StopReason,
		})
	}
	return out
}
