package opt

import (
	"cmp"
	"math"
	"slices"
)

const (
	opShaw = iota
	opWorst
	opRandom
	opRoute
	numRemoval
)

const (
	opGreedy = iota
	opRegret
	numInsertion
)

var (
	RemovalOperators   = [numRemoval]string{"shaw", "worst", "random", "route"}
	InsertionOperators = [numInsertion]string{"greedy", "regret2"}
)

const (
	shawDeterminism  = 6
	worstDeterminism = 3
)

// destroy removes demands from s with the chosen operator and returns them. ok is false
// when a shortened route no longer schedules, in which case s must be discarded.
func (t *trial) destroy(op int, s *Solution) (removed []int, ok bool) {
	cands := s.removable(t.in)
	if len(cands) == 0 {
		return nil, true
	}
	switch op {
	case opShaw:
		removed = t.shawRemoval(s, cands)
	case opWorst:
		return t.worstRemoval(s, cands)
	case opRandom:
		removed = t.randomRemoval(cands)
	case opRoute:
		removed = t.routeRemoval(s)
	}
	return removed, t.detachAll(s, removed)
}

func (t *trial) detachAll(s *Solution, removed []int) bool {
	touched := make([]bool, len(s.Routes))
	for _, d := range removed {
		if r := s.detach(t.in, d); r != nil {
			touched[r.Vehicle] = true
		}
	}
	for v, ok := range touched {
		if ok && t.e.Schedule(s.Routes[v]) != Feasible {
			return false
		}
	}
	return true
}

// randomRemoval takes between 1 and ⌈e·n⌉ routed new demands uniformly.
func (t *trial) randomRemoval(cands []int) []int {
	limit := int(math.Ceil(t.frac * float64(len(cands))))
	if limit < 1 {
		limit = 1
	}
	q := min(1+t.rng.Intn(limit), len(cands))
	t.rng.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	return slices.Clone(cands[:q])
}

// routeRemoval empties one random route of its new demands.
func (t *trial) routeRemoval(s *Solution) []int {
	var routes []int
	for v, r := range s.Routes {
		if r.newStops > 0 {
			routes = append(routes, v)
		}
	}
	if len(routes) == 0 {
		return nil
	}
	v := routes[t.rng.Intn(len(routes))]
	var out []int
	for _, n := range s.Routes[v].Stops {
		if nd := t.in.nodes[n]; !nd.pickup && t.in.vehicleOf[nd.demand] < 0 {
			out = append(out, nd.demand)
		}
	}
	return out
}

// shawRemoval removes a random seed demand plus shaw_removal_p demands related to the
// ones already taken. Relatedness is the weighted sum of normalized pickup/drop-off
// distances (φ), arrival gaps (χ) and quantity gap (ψ); lower is more related.
func (t *trial) shawRemoval(s *Solution, cands []int) []int {
	in := t.in
	arr := t.arrivals(s)
	maxDist, maxTime := 1.0, 1.0
	for _, d := range cands {
		for _, n := range [2]int{in.pick[d], in.drop[d]} {
			maxTime = math.Max(maxTime, float64(arr[n]))
		}
	}
	for _, v := range in.dist {
		if v < NoRoute {
			maxDist = math.Max(maxDist, float64(v))
		}
	}
	maxQ := 1.0
	for _, d := range cands {
		maxQ = math.Max(maxQ, float64(in.Problem.Demands[d].Quantity))
	}
	ap := in.Params
	related := func(a, b int) float64 {
		pa, pb, da, db := in.pick[a], in.pick[b], in.drop[a], in.drop[b]
		dist := float64(in.dist[pa*in.n+pb]+in.dist[da*in.n+db]) / (2 * maxDist)
		gap := float64(abs(arr[pa]-arr[pb])+abs(arr[da]-arr[db])) / (2 * maxTime)
		qty := float64(abs(in.Problem.Demands[a].Quantity-in.Problem.Demands[b].Quantity)) / maxQ
		return ap.ShawPhiDistance*dist + ap.ShawChiTime*gap + ap.ShawPsiCapacity*qty
	}

	q := min(1+ap.ShawRemovalP, len(cands))
	i := t.rng.Intn(len(cands))
	removed := []int{cands[i]}
	rest := slices.Delete(slices.Clone(cands), i, i+1)
	for len(removed) < q {
		ref := removed[t.rng.Intn(len(removed))]
		slices.SortStableFunc(rest, func(a, b int) int { return cmp.Compare(related(ref, a), related(ref, b)) })
		k := int(math.Pow(t.rng.Float64(), shawDeterminism) * float64(len(rest)))
		removed = append(removed, rest[k])
		rest = slices.Delete(rest, k, k+1)
	}
	return removed
}

// worstRemoval repeatedly removes one of the demands whose removal saves most,
// biased towards the top with exponent 3.
func (t *trial) worstRemoval(s *Solution, cands []int) ([]int, bool) {
	q := min(max(1, t.in.Params.WorstRemovalP), len(cands))
	rest := slices.Clone(cands)
	gains := make([]float64, t.in.NumDemands())
	var removed []int
	for len(removed) < q && len(rest) > 0 {
		for _, d := range rest {
			g, ok := t.e.RemovalGain(s.Routes[s.routeOf[d]], d)
			if !ok {
				g = math.Inf(-1)
			}
			gains[d] = g
		}
		slices.SortStableFunc(rest, func(a, b int) int { return cmp.Compare(gains[b], gains[a]) })
		k := int(math.Pow(t.rng.Float64(), worstDeterminism) * float64(len(rest)))
		d := rest[k]
		rest = slices.Delete(rest, k, k+1)
		removed = append(removed, d)
		if !t.detachAll(s, []int{d}) {
			return removed, false
		}
	}
	return removed, true
}

// arrivals maps every routed node to its arrival time, 0 elsewhere.
func (t *trial) arrivals(s *Solution) []int {
	if cap(t.arr) < t.in.n {
		t.arr = make([]int, t.in.n)
	}
	arr := t.arr[:t.in.n]
	clear(arr)
	for _, r := range s.Routes {
		for k, n := range r.Stops {
			arr[n] = r.arr[k]
		}
	}
	return arr
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// selectOp spins a roulette wheel over weights; zero weights are never chosen.
func selectOp(weights []float64, rng interface{ Float64() float64 }) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		last = i
		if r < acc {
			return i
		}
	}
	return last
}
