package opt

import (
	"cmp"
	"slices"
)

// BuildInitial seeds a solution. Previously assigned stop orders are replayed first,
// committed demands are bound to their vehicles, provably infeasible new demands are set
// aside as unacceptable, and the rest go in by cheapest insertion, tightest pickup
// window first.
func BuildInitial(in *Instance) *Solution {
	return buildInitial(in, NewEvaluator(in))
}

func buildInitial(in *Instance, e *Evaluator) *Solution {
	s := newSolution(in)
	for _, ar := range in.Problem.Assigned {
		if v, ok := in.vehicleIndex[ar.VehicleID]; ok && len(s.Routes[v].Stops) == 0 {
			replayAssigned(in, e, s, v, ar)
		}
	}

	var committed, fresh []int
	for d := range in.Problem.Demands {
		if s.routeOf[d] >= 0 {
			continue
		}
		if in.vehicleOf[d] >= 0 {
			committed = append(committed, d)
			continue
		}
		if provablyInfeasible(in, d) {
			s.Unacceptable = append(s.Unacceptable, d)
			continue
		}
		fresh = append(fresh, d)
	}

	// onboard drop-offs only shed load, so they go in before waiting passengers
	slices.SortStableFunc(committed, func(a, b int) int {
		ka, kb := in.Problem.Demands[a].Kind, in.Problem.Demands[b].Kind
		if ka != kb {
			return cmp.Compare(ka, kb)
		}
		return byTightness(in, a, b)
	})
	for _, d := range committed {
		r := s.Routes[in.vehicleOf[d]]
		ins := e.bestInRoute(r, d)
		if !ins.ok() {
			ins = insertion{vehicle: r.Vehicle, i: len(r.Stops), j: len(r.Stops) + 1}
			if in.pick[d] < 0 {
				ins.i, ins.j = -1, len(r.Stops)
			}
		}
		if !e.apply(s, d, ins) {
			// an onboard rider without a drop-off still occupies the seat, so initLoad keeps it
			s.Unacceptable = append(s.Unacceptable, d)
		}
	}

	slices.SortStableFunc(fresh, func(a, b int) int { return byTightness(in, a, b) })
	for _, d := range fresh {
		ins := e.bestInsertion(s, d)
		if !ins.ok() || !e.apply(s, d, ins) {
			s.addMissing(d)
		}
	}
	slices.Sort(s.Unacceptable)
	s.recompute(in)
	return s
}

// byTightness orders by first-action window width, then latest bound, then id.
func byTightness(in *Instance, a, b int) int {
	wa, wb := firstWindow(in.Problem.Demands[a]), firstWindow(in.Problem.Demands[b])
	if c := cmp.Compare(wa.width(), wb.width()); c != 0 {
		return c
	}
	ha, hb := wa.High, wb.High
	if !wa.Bounded() {
		ha = unbounded
	}
	if !wb.Bounded() {
		hb = unbounded
	}
	if c := cmp.Compare(ha, hb); c != 0 {
		return c
	}
	return cmp.Compare(in.Problem.Demands[a].ID, in.Problem.Demands[b].ID)
}

func firstWindow(d Demand) TimeWindow {
	return d.Actions()[0].Window
}

// replayAssigned rebuilds vehicle v's previous stop order. Demands whose stops are not
// all listed are skipped. Pinned new demands are dropped from the back until the order
// is feasible again; if even the committed part fails the vehicle starts empty.
func replayAssigned(in *Instance, e *Evaluator, s *Solution, v int, ar AssignedRoute) {
	listed := make([]bool, in.n)
	var seq []int
	for _, ref := range ar.Stops {
		d, ok := in.demandIndex[ref.DemandID]
		if !ok || s.routeOf[d] >= 0 || !in.eligible(d, v) {
			continue
		}
		n := in.drop[d]
		if ref.Pickup {
			n = in.pick[d]
		}
		if n < 0 || listed[n] {
			continue
		}
		listed[n] = true
		seq = append(seq, n)
	}
	seq = slices.DeleteFunc(seq, func(n int) bool {
		d := in.nodes[n].demand
		return (in.pick[d] >= 0 && !listed[in.pick[d]]) || !listed[in.drop[d]]
	})

	var pinned []int
	for _, n := range seq {
		if nd := in.nodes[n]; nd.pickup && in.vehicleOf[nd.demand] < 0 {
			pinned = append(pinned, nd.demand)
		}
	}
	r := s.Routes[v]
	for {
		r.Stops = slices.Clone(seq)
		if e.Schedule(r) == Feasible {
			break
		}
		if len(pinned) == 0 {
			r.Stops = nil
			e.Schedule(r)
			return
		}
		last := pinned[len(pinned)-1]
		pinned = pinned[:len(pinned)-1]
		seq = slices.DeleteFunc(seq, func(n int) bool { return in.nodes[n].demand == last })
	}
	for _, n := range r.Stops {
		s.routeOf[in.nodes[n].demand] = v
	}
}

// provablyInfeasible reports whether no vehicle that can carry demand d could serve it
// even alone, straight from its current position, with acceptable_buffer of slack.
func provablyInfeasible(in *Instance, d int) bool {
	pick, drop := in.pick[d], in.drop[d]
	q := in.Problem.Demands[d].Quantity
	buf := in.Config.AcceptableBuffer
	late := func(nd *node, a int) bool { return nd.hard != unbounded && a > nd.hard+buf }
	for v, veh := range in.Problem.Vehicles {
		if q > veh.Capacity {
			continue
		}
		t1 := in.dur[v*in.n+pick]
		t2 := in.dur[pick*in.n+drop]
		if t1 >= NoRoute || t2 >= NoRoute || in.dist[v*in.n+pick] >= NoRoute || in.dist[pick*in.n+drop] >= NoRoute {
			continue
		}
		pn, dn := &in.nodes[pick], &in.nodes[drop]
		a1 := veh.ReadyAt + t1
		if late(pn, a1) {
			continue
		}
		a2 := pn.depart(a1) + t2
		if late(dn, a2) {
			continue
		}
		if in.Config.MaxDuration > 0 && dn.depart(a2)-veh.ReadyAt > in.Config.MaxDuration {
			continue
		}
		return false
	}
	return true
}
