package opt

// Evaluator scores routes and candidate insertions. It owns scratch buffers, so each
// trial needs its own; the Instance it reads is shared.
type Evaluator struct {
	in *Instance

	stamp []int // per node, pass in which it was last seen
	spos  []int // per node, position in that pass
	epoch int

	dep     []int
	lowered []int // original positions of pickups that now leave earlier
	lowDep  []int
	seq     []int
}

func NewEvaluator(in *Instance) *Evaluator {
	return &Evaluator{in: in, stamp: make([]int, in.n), spos: make([]int, in.n)}
}

func (e *Evaluator) penalty(nd *node, arrival int) float64 {
	p := 0.0
	if nd.high != unbounded && arrival > nd.high {
		p += e.in.Params.DelaytimePenalty * float64(arrival-nd.high)
	}
	if arrival < nd.low {
		p += e.in.Params.WaittimePenalty * float64(nd.low-arrival)
	}
	return p
}

// Schedule recomputes the cached schedule of r from its first stop and reports the
// first violated constraint. The cache is only meaningful when it returns Feasible.
func (e *Evaluator) Schedule(r *Route) RejectReason {
	r.resize(len(r.Stops))
	_, why := e.schedule(r.Vehicle, r.Stops, r)
	return why
}

// sequenceCost evaluates an arbitrary stop order for vehicle v without touching any route.
func (e *Evaluator) sequenceCost(v int, seq []int) (float64, RejectReason) {
	return e.schedule(v, seq, nil)
}

func (e *Evaluator) schedule(v int, seq []int, out *Route) (float64, RejectReason) {
	in := e.in
	veh := &in.Problem.Vehicles[v]
	e.epoch++
	if cap(e.dep) < len(seq) {
		e.dep = make([]int, len(seq))
	}
	dep := e.dep[:len(seq)]

	prev, t, load := v, veh.ReadyAt, in.initLoad[v]
	arcs, pens := 0.0, 0.0
	dist, travel, newStops, open := 0, 0, 0, 0
	for k, n := range seq {
		nd := &in.nodes[n]
		idx := prev*in.n + n
		tt := in.dur[idx]
		if tt >= NoRoute || in.dist[idx] >= NoRoute {
			return 0, Unreachable
		}
		a := t + tt
		if a > nd.hard {
			return 0, TimeWindowViolated
		}
		load += nd.delta
		if load > veh.Capacity {
			return 0, CapacityExceeded
		}
		if load < 0 {
			return 0, PrecedenceViolated
		}
		partner := -1
		if nd.pickup {
			e.stamp[n] = e.epoch
			e.spos[n] = k
			open++
		} else if pn := in.pick[nd.demand]; pn >= 0 {
			if e.stamp[pn] != e.epoch {
				return 0, PrecedenceViolated
			}
			partner = e.spos[pn]
			if mr := in.maxRide[nd.demand]; mr >= 0 && a-dep[partner] > mr {
				return 0, TimeWindowViolated
			}
			open--
		}
		dep[k] = nd.depart(a)
		arcs += in.cost[idx]
		pens += e.penalty(nd, a)
		dist += in.dist[idx]
		travel += tt
		if in.vehicleOf[nd.demand] < 0 {
			newStops++
		}
		if out != nil {
			out.arr[k] = a
			out.dep[k] = dep[k]
			out.load[k] = load
			out.pair[k] = partner
			if partner >= 0 {
				out.pair[partner] = k
			}
			out.arcCum[k] = arcs
			out.penCum[k] = pens
		}
		prev, t = n, dep[k]
	}
	if open != 0 {
		return 0, PrecedenceViolated
	}
	duration := t - veh.ReadyAt
	if newStops > 0 && in.Config.MaxDuration > 0 && duration > in.Config.MaxDuration {
		return 0, DurationExceeded
	}
	if out != nil {
		out.cost = arcs + pens
		out.dist = dist
		out.travel = travel
		out.duration = duration
		out.newStops = newStops
	}
	return arcs + pens, Feasible
}

// origIndex maps a position of the candidate order back to the cached route.
func origIndex(k, i, j int, withPick bool) int {
	if withPick {
		switch {
		case k < i:
			return k
		case k < j:
			return k - 1
		}
		return k - 2
	}
	if k < j {
		return k
	}
	return k - 1
}

// newIndex maps a cached position to its place in the candidate order.
func newIndex(o, i, j int, withPick bool) int {
	if withPick {
		switch {
		case o < i:
			return o
		case o+1 < j:
			return o + 1
		}
		return o + 2
	}
	if o < j {
		return o
	}
	return o + 1
}

// InsertCost evaluates placing demand d into r with its pickup at position i and its
// drop-off at position j of the resulting order (i is ignored for onboard demands).
// Only the suffix from the first edit is simulated and the pass ends as soon as a
// departure time matches the cached schedule again.
func (e *Evaluator) InsertCost(r *Route, d, i, j int) (float64, RejectReason) {
	in := e.in
	pick, drop := in.pick[d], in.drop[d]
	withPick := pick >= 0
	isNew := in.vehicleOf[d] < 0
	n := len(r.Stops)
	first := j
	if withPick {
		if i < 0 || j <= i || j > n+1 {
			return 0, PrecedenceViolated
		}
		first = i
	} else if j < 0 || j > n {
		return 0, PrecedenceViolated
	}
	veh := &in.Problem.Vehicles[r.Vehicle]
	if in.Problem.Demands[d].Quantity > veh.Capacity {
		return 0, CapacityExceeded
	}
	newLen := n + 1
	if withPick {
		newLen++
	}
	if cap(e.dep) < newLen {
		e.dep = make([]int, newLen)
	}
	dep := e.dep[:newLen]
	e.lowered, e.lowDep = e.lowered[:0], e.lowDep[:0]

	prev, t, load := r.Vehicle, veh.ReadyAt, in.initLoad[r.Vehicle]
	if first > 0 {
		prev, t, load = r.Stops[first-1], r.dep[first-1], r.load[first-1]
	}
	arcs, pens := 0.0, 0.0
	for k := first; k < newLen; k++ {
		o := -1
		var stop int
		switch {
		case withPick && k == i:
			stop = pick
		case k == j:
			stop = drop
		default:
			o = origIndex(k, i, j, withPick)
			stop = r.Stops[o]
		}
		nd := &in.nodes[stop]
		idx := prev*in.n + stop
		tt := in.dur[idx]
		if tt >= NoRoute || in.dist[idx] >= NoRoute {
			return 0, Unreachable
		}
		a := t + tt
		if a > nd.hard {
			return 0, TimeWindowViolated
		}
		load += nd.delta
		if load > veh.Capacity {
			return 0, CapacityExceeded
		}
		dep[k] = nd.depart(a)
		if mr := ride(in, nd); mr >= 0 {
			if !nd.pickup {
				var pd int
				switch {
				case stop == drop:
					pd = dep[i]
				case r.pair[o] < first:
					pd = r.dep[r.pair[o]]
				default:
					pd = dep[newIndex(r.pair[o], i, j, withPick)]
				}
				if a-pd > mr {
					return 0, TimeWindowViolated
				}
			} else if o >= 0 && dep[k] < r.dep[o] {
				e.lowered = append(e.lowered, o)
				e.lowDep = append(e.lowDep, dep[k])
			}
		}
		arcs += in.cost[idx]
		pens += e.penalty(nd, a)
		if o >= 0 && k > j && dep[k] == r.dep[o] {
			for x, po := range e.lowered {
				od := r.pair[po]
				if od > o && r.arr[od]-e.lowDep[x] > in.maxRide[in.nodes[r.Stops[po]].demand] {
					return 0, TimeWindowViolated
				}
			}
			if r.newStops == 0 && isNew && in.Config.MaxDuration > 0 && r.duration > in.Config.MaxDuration {
				return 0, DurationExceeded
			}
			return arcs + pens - r.segment(first, o), Feasible
		}
		prev, t = stop, dep[k]
	}
	if (isNew || r.newStops > 0) && in.Config.MaxDuration > 0 && t-veh.ReadyAt > in.Config.MaxDuration {
		return 0, DurationExceeded
	}
	return arcs + pens - r.segment(first, n-1), Feasible
}

func ride(in *Instance, nd *node) int {
	if nd.demand < 0 {
		return -1
	}
	return in.maxRide[nd.demand]
}

// RemovalGain is how much r's cost drops when demand d leaves it. ok is false when the
// shortened route would be infeasible, e.g. when an earlier pickup lengthens a ride.
func (e *Evaluator) RemovalGain(r *Route, d int) (gain float64, ok bool) {
	pick, drop := e.in.pick[d], e.in.drop[d]
	e.seq = e.seq[:0]
	for _, n := range r.Stops {
		if n != drop && n != pick {
			e.seq = append(e.seq, n)
		}
	}
	c, why := e.sequenceCost(r.Vehicle, e.seq)
	if why != Feasible {
		return 0, false
	}
	return r.cost - c, true
}

// Check validates a whole solution against the hard constraints.
func (e *Evaluator) Check(s *Solution) RejectReason {
	for _, r := range s.Routes {
		if _, why := e.sequenceCost(r.Vehicle, r.Stops); why != Feasible {
			return why
		}
	}
	return Feasible
}
