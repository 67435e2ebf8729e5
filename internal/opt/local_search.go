package opt

const (
	relocatePasses = 3
	improveEps     = 1e-6
)

// relocateImprove moves single demands to their cheapest placement while that lowers
// the objective. New demands may change vehicle, committed ones only their position.
func (e *Evaluator) relocateImprove(s *Solution) {
	in := e.in
	for pass := 0; pass < relocatePasses; pass++ {
		improved := false
		for d := range in.Problem.Demands {
			v := s.routeOf[d]
			if v < 0 {
				continue
			}
			gain, ok := e.RemovalGain(s.Routes[v], d)
			if !ok {
				continue
			}
			shortened := s.Routes[v].clone()
			shortened.remove(in.pick[d], in.drop[d])
			if e.Schedule(shortened) != Feasible {
				continue
			}
			best := noInsertion
			for u, r := range s.Routes {
				if !in.eligible(d, u) {
					continue
				}
				if u == v {
					r = shortened
				}
				if ins := e.bestInRoute(r, d); ins.cost < best.cost {
					best = ins
				}
			}
			if !best.ok() || best.cost >= gain-improveEps {
				continue
			}
			original := s.Routes[v]
			s.Routes[v] = shortened
			s.routeOf[d] = -1
			if !e.apply(s, d, best) {
				s.Routes[v] = original
				s.routeOf[d] = v
				continue
			}
			improved = true
		}
		if !improved {
			break
		}
	}
	s.recompute(in)
}
