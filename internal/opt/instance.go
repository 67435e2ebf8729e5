package opt

import (
	"fmt"
	"math"
	"strings"

	"moddispatch/internal/geo"
)

// NoRoute marks a matrix cell the routing backend could not connect.
const NoRoute = math.MaxInt32

const unbounded = math.MaxInt32

// TimeWindow bounds an arrival in seconds after the dispatch snapshot. High <= 0 leaves
// the window open-ended.
type TimeWindow struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (w TimeWindow) Bounded() bool { return w.High > 0 }

func (w TimeWindow) width() int {
	if !w.Bounded() {
		return unbounded
	}
	return w.High - w.Low
}

// DemandKind tags the lifecycle state of a demand.
type DemandKind int

const (
	KindNew DemandKind = iota
	KindOnboard
	KindOnboardWaiting
)

func (k DemandKind) String() string {
	switch k {
	case KindOnboard:
		return "onboard"
	case KindOnboardWaiting:
		return "onboard_waiting"
	}
	return "new"
}

func (k DemandKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *DemandKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "new":
		*k = KindNew
	case "onboard":
		*k = KindOnboard
	case "onboard_waiting", "waiting":
		*k = KindOnboardWaiting
	default:
		return fmt.Errorf("%w: unknown demand kind %q", ErrInputInvalid, b)
	}
	return nil
}

type Vehicle struct {
	ID       string       `json:"id"`
	Capacity int          `json:"capacity"`
	Location geo.Location `json:"location"`
	// ReadyAt is when the vehicle can leave Location, in snapshot seconds.
	ReadyAt int `json:"readyAt,omitempty"`
}

// Demand is one trip request. Quantity is the load it adds at pickup and releases at
// drop-off. Start and PickupWindow are ignored for onboard demands.
type Demand struct {
	ID           string       `json:"id"`
	Quantity     int          `json:"quantity"`
	Kind         DemandKind   `json:"kind"`
	Start        geo.Location `json:"start"`
	Destination  geo.Location `json:"destination"`
	PickupWindow TimeWindow   `json:"pickupWindow"`
	DropWindow   TimeWindow   `json:"dropWindow"`
	// VehicleID binds onboard and onboard-waiting demands.
	VehicleID string `json:"vehicleId,omitempty"`
}

// Committed reports whether the demand is already bound to a vehicle.
func (d Demand) Committed() bool { return d.Kind != KindNew }

// Action is one stop a demand requires.
type Action struct {
	Pickup   bool
	Location geo.Location
	Window   TimeWindow
}

// Actions reduces the lifecycle variant to its remaining stops, pickup first.
func (d Demand) Actions() []Action {
	drop := Action{Location: d.Destination, Window: d.DropWindow}
	if d.Kind == KindOnboard {
		return []Action{drop}
	}
	return []Action{{Pickup: true, Location: d.Start, Window: d.PickupWindow}, drop}
}

// StopRef names one stop of a previously assigned route.
type StopRef struct {
	DemandID string `json:"demandId"`
	Pickup   bool   `json:"pickup"`
}

// AssignedRoute is the stop order a vehicle was given in the previous dispatch cycle.
type AssignedRoute struct {
	VehicleID string    `json:"vehicleId"`
	Stops     []StopRef `json:"stops"`
}

// Problem is the normalized snapshot handed to the engine.
type Problem struct {
	Vehicles     []Vehicle       `json:"vehicles"`
	Demands      []Demand        `json:"demands"`
	Assigned     []AssignedRoute `json:"assigned,omitempty"`
	OptimizeType OptimizeType    `json:"optimizeType"`
	MaxSolutions int             `json:"maxSolutions"`
	LocHash      string          `json:"locHash,omitempty"`
}

// Validate rejects malformed snapshots before anything is searched.
func (p Problem) Validate() error {
	if len(p.Vehicles) == 0 {
		return fmt.Errorf("%w: no vehicles", ErrInputInvalid)
	}
	vehicles := make(map[string]int, len(p.Vehicles))
	for i, v := range p.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("%w: vehicle %d has no id", ErrInputInvalid, i)
		}
		if _, dup := vehicles[v.ID]; dup {
			return fmt.Errorf("%w: duplicate vehicle id %q", ErrInputInvalid, v.ID)
		}
		if v.Capacity < 0 {
			return fmt.Errorf("%w: vehicle %q has negative capacity", ErrInputInvalid, v.ID)
		}
		if !v.Location.Valid() {
			return fmt.Errorf("%w: vehicle %q has an invalid location", ErrInputInvalid, v.ID)
		}
		vehicles[v.ID] = i
	}
	onboard := make([]int, len(p.Vehicles))
	seen := make(map[string]struct{}, len(p.Demands))
	for _, d := range p.Demands {
		if d.ID == "" {
			return fmt.Errorf("%w: demand without id", ErrInputInvalid)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate demand id %q", ErrInputInvalid, d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Quantity <= 0 {
			return fmt.Errorf("%w: demand %q must have a positive quantity", ErrInputInvalid, d.ID)
		}
		for _, a := range d.Actions() {
			if !a.Location.Valid() {
				return fmt.Errorf("%w: demand %q has an invalid location", ErrInputInvalid, d.ID)
			}
			if a.Window.Low < 0 || (a.Window.Bounded() && a.Window.Low > a.Window.High) {
				return fmt.Errorf("%w: demand %q has a malformed time window [%d,%d]", ErrInputInvalid, d.ID, a.Window.Low, a.Window.High)
			}
		}
		if !d.Committed() {
			continue
		}
		vi, ok := vehicles[d.VehicleID]
		if !ok {
			return fmt.Errorf("%w: %s demand %q references unknown vehicle %q", ErrInputInvalid, d.Kind, d.ID, d.VehicleID)
		}
		if d.Quantity > p.Vehicles[vi].Capacity {
			return fmt.Errorf("%w: %s demand %q exceeds the capacity of vehicle %q", ErrInputInvalid, d.Kind, d.ID, d.VehicleID)
		}
		if d.Kind == KindOnboard {
			onboard[vi] += d.Quantity
			if onboard[vi] > p.Vehicles[vi].Capacity {
				return fmt.Errorf("%w: onboard load of vehicle %q exceeds its capacity", ErrInputInvalid, d.VehicleID)
			}
		}
	}
	if p.MaxSolutions < 0 {
		return fmt.Errorf("%w: maxSolutions must be >= 0", ErrInputInvalid)
	}
	return nil
}

// Locations lists the matrix points in node order: one start per vehicle, then every
// demand's actions in demand order.
func (p Problem) Locations() []geo.Location {
	locs := make([]geo.Location, 0, len(p.Vehicles)+2*len(p.Demands))
	for _, v := range p.Vehicles {
		locs = append(locs, v.Location)
	}
	for _, d := range p.Demands {
		for _, a := range d.Actions() {
			locs = append(locs, a.Location)
		}
	}
	return locs
}

// Matrix is a row-major square table of meters and seconds over Problem.Locations.
type Matrix struct {
	N        int
	Distance []int
	Duration []int
}

func NewMatrix(n int) *Matrix {
	return &Matrix{N: n, Distance: make([]int, n*n), Duration: make([]int, n*n)}
}

func (m *Matrix) Set(i, j, meters, seconds int) {
	m.Distance[i*m.N+j] = meters
	m.Duration[i*m.N+j] = seconds
}

func (m *Matrix) At(i, j int) (meters, seconds int) {
	return m.Distance[i*m.N+j], m.Duration[i*m.N+j]
}

type node struct {
	demand  int // -1 for a vehicle start
	pickup  bool
	low     int
	high    int // unbounded when the window is open-ended
	hard    int // latest feasible arrival
	service int
	delta   int
}

func (nd *node) depart(arrival int) int {
	start := arrival
	if nd.pickup && arrival < nd.low {
		start = nd.low
	}
	return start + nd.service
}

// Instance is the read-only search view of a Problem: node layout, arc costs and
// per-demand limits. It is shared by all trials of a run.
type Instance struct {
	Problem Problem
	Params  AlgorithmParameters
	Config  RouteConfiguration

	n      int
	nodes  []node
	pick   []int // pickup node per demand, -1 for onboard demands
	drop   []int
	dist   []int
	dur    []int
	cost   []float64
	maxArc float64

	initLoad  []int
	vehicleOf []int // bound vehicle per demand, -1 for new demands
	maxRide   []int // -1 when unlimited
	forbid    []bool
	missCost  float64

	vehicleIndex map[string]int
	demandIndex  map[string]int
}

// NewInstance validates the snapshot and lays out the search graph over m.
func NewInstance(p Problem, m *Matrix, ap AlgorithmParameters, conf RouteConfiguration) (*Instance, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ap.Validate(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	locs := p.Locations()
	if m == nil || m.N != len(locs) || len(m.Distance) != m.N*m.N || len(m.Duration) != m.N*m.N {
		return nil, fmt.Errorf("%w: matrix does not match %d locations", ErrInputInvalid, len(locs))
	}
	nv, ndem := len(p.Vehicles), len(p.Demands)
	in := &Instance{
		Problem:      p,
		Params:       ap,
		Config:       conf,
		n:            m.N,
		nodes:        make([]node, 0, m.N),
		pick:         make([]int, ndem),
		drop:         make([]int, ndem),
		dist:         m.Distance,
		dur:          m.Duration,
		cost:         make([]float64, m.N*m.N),
		initLoad:     make([]int, nv),
		vehicleOf:    make([]int, ndem),
		maxRide:      make([]int, ndem),
		forbid:       make([]bool, ndem*nv),
		vehicleIndex: make(map[string]int, nv),
		demandIndex:  make(map[string]int, ndem),
	}
	for i, v := range p.Vehicles {
		in.vehicleIndex[v.ID] = i
		in.nodes = append(in.nodes, node{demand: -1, high: unbounded, hard: unbounded})
	}
	tol := ap.UnfeasibleDelaytime
	for di, d := range p.Demands {
		in.demandIndex[d.ID] = di
		in.pick[di] = -1
		in.vehicleOf[di] = -1
		in.maxRide[di] = -1
		if d.Committed() {
			in.vehicleOf[di] = in.vehicleIndex[d.VehicleID]
			if d.Kind == KindOnboard {
				in.initLoad[in.vehicleOf[di]] += d.Quantity
			}
		}
		for _, a := range d.Actions() {
			nd := node{demand: di, pickup: a.Pickup, low: a.Window.Low, high: unbounded, hard: unbounded, service: conf.ServiceTime}
			if a.Window.Bounded() {
				nd.high = a.Window.High
				if !d.Committed() {
					nd.hard = a.Window.High + tol
				}
			}
			if a.Pickup {
				nd.delta = d.Quantity
				in.pick[di] = len(in.nodes)
			} else {
				nd.delta = -d.Quantity
				in.drop[di] = len(in.nodes)
			}
			in.nodes = append(in.nodes, nd)
		}
		if !d.Committed() && conf.BypassRatio > 0 {
			direct := m.Duration[in.pick[di]*m.N+in.drop[di]]
			if direct < NoRoute {
				in.maxRide[di] = direct * (100 + conf.BypassRatio) / 100
			}
		}
	}
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.N; j++ {
			k := i*m.N + j
			if m.Distance[k] >= NoRoute || m.Duration[k] >= NoRoute {
				in.cost[k] = math.Inf(1)
				continue
			}
			in.cost[k] = arcCost(p.OptimizeType, m.Distance[k], m.Duration[k])
			if in.cost[k] > in.maxArc {
				in.maxArc = in.cost[k]
			}
		}
	}
	in.missCost = in.missingCost()
	return in, nil
}

// missingCost prices an unplaced demand above any insertion the evaluator can accept.
func (in *Instance) missingCost() float64 {
	maxLow := 0
	for _, nd := range in.nodes {
		if nd.low > maxLow {
			maxLow = nd.low
		}
	}
	stops := float64(len(in.nodes) - len(in.Problem.Vehicles) + 2)
	perStop := in.Params.DelaytimePenalty*float64(in.Params.UnfeasibleDelaytime) + in.Params.WaittimePenalty*float64(maxLow)
	return 10*(in.maxArc+1) + perStop*stops
}

func arcCost(t OptimizeType, meters, seconds int) float64 {
	switch t {
	case OptimizeDistance:
		return float64(meters)
	case OptimizeCO2:
		return co2Grams(meters, seconds)
	}
	return float64(seconds)
}

// co2Grams estimates emissions of one arc from its mean speed in km/h.
func co2Grams(meters, seconds int) float64 {
	if seconds <= 0 || meters <= 0 {
		return 0
	}
	v := 3.6 * float64(meters) / float64(seconds)
	var perKm float64
	if v < 64.7 {
		perKm = 4317.2386 * math.Pow(v, -0.5049)
	} else {
		perKm = 0.1829*v*v - 29.8145*v + 1670.8962
	}
	return perKm * float64(meters) / 1000
}

// eligible reports whether demand d may ride vehicle v.
func (in *Instance) eligible(d, v int) bool {
	if b := in.vehicleOf[d]; b >= 0 {
		return b == v
	}
	if in.forbid[d*len(in.Problem.Vehicles)+v] {
		return false
	}
	return in.Problem.Demands[d].Quantity <= in.Problem.Vehicles[v].Capacity
}

// withForbidden returns a copy that bars each demand from every listed vehicle.
func (in *Instance) withForbidden(forbid map[int][]int) *Instance {
	out := *in
	out.forbid = make([]bool, len(in.forbid))
	nv := len(in.Problem.Vehicles)
	for d, vs := range forbid {
		for _, v := range vs {
			out.forbid[d*nv+v] = true
		}
	}
	return &out
}

// isNew reports whether node n belongs to a new demand.
func (in *Instance) isNew(n int) bool {
	d := in.nodes[n].demand
	return d >= 0 && in.vehicleOf[d] < 0
}

func (in *Instance) NumDemands() int  { return len(in.Problem.Demands) }
func (in *Instance) NumVehicles() int { return len(in.Problem.Vehicles) }

// MissingCost is the objective charge for each missing demand.
func (in *Instance) MissingCost() float64 { return in.missCost }
