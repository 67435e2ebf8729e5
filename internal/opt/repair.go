package opt

import (
	"math"
	"math/rand"
)

type insertion struct {
	vehicle int
	i, j    int
	cost    float64
}

var noInsertion = insertion{vehicle: -1, cost: math.Inf(1)}

func (ins insertion) ok() bool { return ins.vehicle >= 0 }

// bestInRoute returns the cheapest feasible placement of demand d in r. Ties keep the
// earliest positions.
func (e *Evaluator) bestInRoute(r *Route, d int) insertion {
	best := noInsertion
	n := len(r.Stops)
	if e.in.pick[d] < 0 {
		for j := 0; j <= n; j++ {
			if c, why := e.InsertCost(r, d, -1, j); why == Feasible && c < best.cost {
				best = insertion{vehicle: r.Vehicle, i: -1, j: j, cost: c}
			}
		}
		return best
	}
	for i := 0; i <= n; i++ {
		for j := i + 1; j <= n+1; j++ {
			c, why := e.InsertCost(r, d, i, j)
			if why == CapacityExceeded {
				// every later drop-off keeps the overloaded stop on board
				break
			}
			if why == Feasible && c < best.cost {
				best = insertion{vehicle: r.Vehicle, i: i, j: j, cost: c}
			}
		}
	}
	return best
}

// bestInsertion scans every eligible route.
func (e *Evaluator) bestInsertion(s *Solution, d int) insertion {
	best := noInsertion
	for v, r := range s.Routes {
		if !e.in.eligible(d, v) {
			continue
		}
		if ins := e.bestInRoute(r, d); ins.cost < best.cost {
			best = ins
		}
	}
	return best
}

// apply commits an insertion and refreshes the route schedule. It undoes the move and
// returns false if the refreshed schedule disagrees with the evaluation.
func (e *Evaluator) apply(s *Solution, d int, ins insertion) bool {
	r := s.Routes[ins.vehicle]
	pick, drop := e.in.pick[d], e.in.drop[d]
	r.insert(pick, drop, ins.i, ins.j)
	if e.Schedule(r) != Feasible {
		r.remove(pick, drop)
		e.Schedule(r)
		return false
	}
	s.routeOf[d] = ins.vehicle
	return true
}

// insertionCache keeps the best placement of each pending demand per route; only the
// column of the route that changed is recomputed after a move.
type insertionCache struct {
	e     *Evaluator
	cells [][]insertion // [pending][vehicle]
	stale []bool        // per vehicle
}

func newInsertionCache(e *Evaluator, pending []int, vehicles int) *insertionCache {
	c := &insertionCache{e: e, cells: make([][]insertion, len(pending)), stale: make([]bool, vehicles)}
	for p := range c.cells {
		c.cells[p] = make([]insertion, vehicles)
	}
	for v := range c.stale {
		c.stale[v] = true
	}
	return c
}

func (c *insertionCache) refresh(s *Solution, pending []int) {
	for v, stale := range c.stale {
		if !stale {
			continue
		}
		for p, d := range pending {
			if d < 0 || !c.e.in.eligible(d, v) {
				c.cells[p][v] = noInsertion
				continue
			}
			c.cells[p][v] = c.e.bestInRoute(s.Routes[v], d)
		}
		c.stale[v] = false
	}
}

// greedyRepair inserts pending demands one at a time, always taking the globally
// cheapest placement. With noise each candidate cost is perturbed by up to
// ±η·maxArc. Demands left over become missing.
func (e *Evaluator) greedyRepair(s *Solution, pending []int, rng *rand.Rand, noise bool) {
	amp := e.in.Params.InsertionObjectiveNoiseN * e.in.maxArc
	cache := newInsertionCache(e, pending, len(s.Routes))
	for left := len(pending); left > 0; left-- {
		cache.refresh(s, pending)
		bp, best, bestScore := -1, noInsertion, math.Inf(1)
		for p, d := range pending {
			if d < 0 {
				continue
			}
			for _, ins := range cache.cells[p] {
				if !ins.ok() {
					continue
				}
				score := ins.cost
				if noise && amp > 0 {
					score = math.Max(0, score+amp*(2*rng.Float64()-1))
				}
				if score < bestScore {
					bp, best, bestScore = p, ins, score
				}
			}
		}
		if bp < 0 {
			break
		}
		d := pending[bp]
		pending[bp] = -1
		if !e.apply(s, d, best) {
			s.addMissing(d)
			continue
		}
		cache.stale[best.vehicle] = true
	}
	for _, d := range pending {
		if d >= 0 {
			s.addMissing(d)
		}
	}
}

// regretRepair inserts first the demand that would lose most by waiting: the gap between
// its best and second-best route. Demands with a single feasible route go first.
func (e *Evaluator) regretRepair(s *Solution, pending []int) {
	cache := newInsertionCache(e, pending, len(s.Routes))
	for left := len(pending); left > 0; left-- {
		cache.refresh(s, pending)
		bp, best := -1, noInsertion
		bestRegret := -1.0
		for p, d := range pending {
			if d < 0 {
				continue
			}
			first, second := noInsertion, math.Inf(1)
			for _, ins := range cache.cells[p] {
				switch {
				case !ins.ok():
				case ins.cost < first.cost:
					second = first.cost
					first = ins
				case ins.cost < second:
					second = ins.cost
				}
			}
			if !first.ok() {
				continue
			}
			regret := second - first.cost
			if math.IsInf(second, 1) {
				regret = math.MaxFloat64
			}
			if regret > bestRegret || (regret == bestRegret && first.cost < best.cost) {
				bp, best, bestRegret = p, first, regret
			}
		}
		if bp < 0 {
			break
		}
		d := pending[bp]
		pending[bp] = -1
		if !e.apply(s, d, best) {
			s.addMissing(d)
			continue
		}
		cache.stale[best.vehicle] = true
	}
	for _, d := range pending {
		if d >= 0 {
			s.addMissing(d)
		}
	}
}
