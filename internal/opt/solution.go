package opt

import (
	"slices"
	"strconv"
	"strings"
)

// Route is the ordered stop list of one vehicle plus its cached schedule. The cache is
// valid after Evaluator.Schedule and is what insertion checks read from.
type Route struct {
	Vehicle int
	Stops   []int

	arr    []int
	dep    []int
	load   []int
	pair   []int // position of the other action of the same demand, -1 if none
	arcCum []float64
	penCum []float64

	cost     float64
	dist     int
	travel   int
	duration int
	newStops int
}

func newRoute(v int) *Route { return &Route{Vehicle: v} }

func (r *Route) clone() *Route {
	c := *r
	c.Stops = slices.Clone(r.Stops)
	c.arr = slices.Clone(r.arr)
	c.dep = slices.Clone(r.dep)
	c.load = slices.Clone(r.load)
	c.pair = slices.Clone(r.pair)
	c.arcCum = slices.Clone(r.arcCum)
	c.penCum = slices.Clone(r.penCum)
	return &c
}

func (r *Route) resize(n int) {
	grow := func(s []int) []int {
		if cap(s) < n {
			return make([]int, n)
		}
		return s[:n]
	}
	growF := func(s []float64) []float64 {
		if cap(s) < n {
			return make([]float64, n)
		}
		return s[:n]
	}
	r.arr, r.dep, r.load, r.pair = grow(r.arr), grow(r.dep), grow(r.load), grow(r.pair)
	r.arcCum, r.penCum = growF(r.arcCum), growF(r.penCum)
}

// segment is the cached arc+penalty cost of the stops from..to inclusive.
func (r *Route) segment(from, to int) float64 {
	if to < from || to < 0 {
		return 0
	}
	total := r.arcCum[to] + r.penCum[to]
	if from > 0 {
		total -= r.arcCum[from-1] + r.penCum[from-1]
	}
	return total
}

// insert places pick (when >= 0) at i and drop at j, positions in the resulting order.
func (r *Route) insert(pick, drop, i, j int) {
	if pick >= 0 {
		r.Stops = slices.Insert(r.Stops, i, pick)
	}
	r.Stops = slices.Insert(r.Stops, j, drop)
}

// remove drops every stop of the given nodes.
func (r *Route) remove(pick, drop int) {
	r.Stops = slices.DeleteFunc(r.Stops, func(n int) bool { return n == drop || (pick >= 0 && n == pick) })
}

func (r *Route) Len() int          { return len(r.Stops) }
func (r *Route) Cost() float64     { return r.cost }
func (r *Route) Arrival(k int) int { return r.arr[k] }

// Solution partitions every demand into routed, missing and unacceptable.
type Solution struct {
	Routes       []*Route
	Missing      []int
	Unacceptable []int
	Objective    float64

	routeOf []int // vehicle per demand, -1 when not routed
}

func newSolution(in *Instance) *Solution {
	s := &Solution{
		Routes:  make([]*Route, in.NumVehicles()),
		routeOf: make([]int, in.NumDemands()),
	}
	for v := range s.Routes {
		s.Routes[v] = newRoute(v)
	}
	for d := range s.routeOf {
		s.routeOf[d] = -1
	}
	return s
}

func (s *Solution) Clone() *Solution {
	c := &Solution{
		Routes:       make([]*Route, len(s.Routes)),
		Missing:      slices.Clone(s.Missing),
		Unacceptable: slices.Clone(s.Unacceptable),
		Objective:    s.Objective,
		routeOf:      slices.Clone(s.routeOf),
	}
	for i, r := range s.Routes {
		c.Routes[i] = r.clone()
	}
	return c
}

// RouteOf returns the vehicle serving demand d, or -1.
func (s *Solution) RouteOf(d int) int { return s.routeOf[d] }

func (s *Solution) recompute(in *Instance) {
	total := 0.0
	for _, r := range s.Routes {
		total += r.cost
	}
	s.Objective = total + in.missCost*float64(len(s.Missing))
}

func (s *Solution) addMissing(d int) {
	if i, found := slices.BinarySearch(s.Missing, d); !found {
		s.Missing = slices.Insert(s.Missing, i, d)
	}
}

func (s *Solution) takeMissing() []int {
	out := s.Missing
	s.Missing = nil
	return out
}

// removable lists routed new demands in index order.
func (s *Solution) removable(in *Instance) []int {
	var out []int
	for d, v := range s.routeOf {
		if v >= 0 && in.vehicleOf[d] < 0 {
			out = append(out, d)
		}
	}
	return out
}

// detach removes demand d from its route without rescheduling it.
func (s *Solution) detach(in *Instance, d int) *Route {
	v := s.routeOf[d]
	if v < 0 {
		return nil
	}
	r := s.Routes[v]
	r.remove(in.pick[d], in.drop[d])
	s.routeOf[d] = -1
	return r
}

// Signature identifies a solution structurally for deduplication.
func (s *Solution) Signature() string {
	var b strings.Builder
	for _, r := range s.Routes {
		b.WriteString(strconv.Itoa(r.Vehicle))
		b.WriteByte(':')
		for i, n := range r.Stops {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(n))
		}
		b.WriteByte(';')
	}
	b.WriteString("m:")
	for _, d := range s.Missing {
		b.WriteString(strconv.Itoa(d))
		b.WriteByte(',')
	}
	return b.String()
}

// Equal compares objectives and structure.
func (s *Solution) Equal(o *Solution) bool {
	return s.Objective == o.Objective && s.Signature() == o.Signature()
}
