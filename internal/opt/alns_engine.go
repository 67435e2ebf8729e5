package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	snapshotEvery = 50
	segmentLength = 100
	minWeight     = 0.01
)

// Metrics describes one ALNS trial.
type Metrics struct {
	Round                 int                   `json:"round"`
	Trial                 int                   `json:"trial"`
	Seed                  int64                 `json:"seed"`
	RemovalFraction       float64               `json:"removalFraction"`
	RemovalSelects        [numRemoval]int       `json:"removalSelects"` // shaw, worst, random, route
	InsertSelects         [numInsertion]int     `json:"insertSelects"`  // greedy, regret2
	Iterations            int                   `json:"iterations"`
	Improvements          int                   `json:"improvements"`
	AcceptedWorse         int                   `json:"acceptedWorse"`
	Rejected              int                   `json:"rejected"`
	InitialCost           float64               `json:"initialCost"`
	BestCost              float64               `json:"bestCost"`
	FinalCost             float64               `json:"finalCost"`
	FinalRemovalWeights   [numRemoval]float64   `json:"finalRemovalWeights"`
	FinalInsertionWeights [numInsertion]float64 `json:"finalInsertionWeights"`
	Snapshots             []WeightSnapshot      `json:"snapshots,omitempty"`
	Elapsed               time.Duration         `json:"elapsedNs"`
	StopReason            string                `json:"stopReason"`
}

type WeightSnapshot struct {
	Iteration int                   `json:"iteration"`
	Removal   [numRemoval]float64   `json:"removal"`
	Insertion [numInsertion]float64 `json:"insertion"`
	BestCost  float64               `json:"bestCost"`
}

type trial struct {
	in   *Instance
	e    *Evaluator
	rng  *rand.Rand
	frac float64
	arr  []int
}

// Solve runs one ALNS trial from initial and returns its incumbent. The initial
// solution is not modified. With both nb_iterations and time_limit at 0 no search is
// done and a copy of initial comes back.
func Solve(ctx context.Context, in *Instance, initial *Solution, seed int64, removalFrac float64) (*Solution, Metrics, error) {
	start := time.Now()
	t := &trial{in: in, e: NewEvaluator(in), rng: rand.New(rand.NewSource(seed)), frac: removalFrac}
	ap := in.Params
	m := Metrics{Seed: seed, RemovalFraction: removalFrac, InitialCost: initial.Objective, BestCost: initial.Objective}
	if why := t.e.Check(initial); why != Feasible {
		return nil, m, fmt.Errorf("initial solution infeasible: %s", why)
	}

	curr := initial.Clone()
	best := initial.Clone()
	remW := [numRemoval]float64{1, 1, 1, 1}
	insW := [numInsertion]float64{1, 1}
	if ap.SkipRemoveRoute {
		remW[opRoute] = 0
	}
	temp := ap.SimulatedAnnealingStartTempControlW * initial.Objective
	var deadline time.Time
	if ap.TimeLimit > 0 {
		deadline = start.Add(time.Duration(ap.TimeLimit) * time.Second)
	}
	sinceBest := 0

	m.StopReason = t.stopReason(ctx, &m, deadline, sinceBest, curr)
	for m.StopReason == "" {
		m.Iterations++
		op := selectOp(remW[:], t.rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW[:], t.rng)
		m.InsertSelects[ip]++

		cand := curr.Clone()
		removed, ok := t.destroy(op, cand)
		if ok {
			pending := append(removed, cand.takeMissing()...)
			if ip == opGreedy {
				t.e.greedyRepair(cand, pending, t.rng, true)
			} else {
				t.e.regretRepair(cand, pending)
			}
			cand.recompute(in)
		}

		var score float64
		switch {
		case !ok:
			m.Rejected++
		case improves(cand, best):
			t.e.relocateImprove(cand)
			best = cand.Clone()
			curr = cand
			score = ap.AdaptiveWeightAdjD1
			m.Improvements++
			sinceBest = -1
		case improves(cand, curr):
			curr = cand
			score = ap.AdaptiveWeightAdjD2
		case temp > 0 && t.rng.Float64() < math.Exp(-(cand.Objective-curr.Objective)/temp):
			curr = cand
			score = ap.AdaptiveWeightAdjD3
			m.AcceptedWorse++
		default:
			m.Rejected++
		}
		sinceBest++
		if score > 0 {
			remW[op] += score
			insW[ip] += score
		} else {
			remW[op] = math.Max(minWeight, remW[op]*(1-ap.AdaptiveWeightDecayR))
			insW[ip] = math.Max(minWeight, insW[ip]*(1-ap.AdaptiveWeightDecayR))
		}
		temp *= ap.SimulatedAnnealingCoolingRateC
		if m.Iterations%segmentLength == 0 {
			normalize(remW[:])
			normalize(insW[:])
		}
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: remW, Insertion: insW, BestCost: best.Objective})
		}
		m.StopReason = t.stopReason(ctx, &m, deadline, sinceBest, curr)
	}
	m.BestCost = best.Objective
	m.FinalCost = curr.Objective
	m.FinalRemovalWeights = remW
	m.FinalInsertionWeights = insW
	m.Elapsed = time.Since(start)
	return best, m, nil
}

// improves orders solutions the way finalize ranks them: fewer missing demands first,
// then a lower objective.
func improves(a, b *Solution) bool {
	if len(a.Missing) != len(b.Missing) {
		return len(a.Missing) < len(b.Missing)
	}
	return a.Objective < b.Objective-improveEps
}

func (t *trial) stopReason(ctx context.Context, m *Metrics, deadline time.Time, sinceBest int, curr *Solution) string {
	ap := t.in.Params
	switch {
	case ap.noBudget():
		return "no_budget"
	case ap.NbIterations > 0 && m.Iterations >= ap.NbIterations:
		return "iterations"
	case !deadline.IsZero() && !time.Now().Before(deadline):
		return "time_limit"
	case ctx.Err() != nil:
		return "canceled"
	case ap.MaxNonImproving > 0 && sinceBest >= ap.MaxNonImproving:
		return "converged"
	case len(curr.Missing) == 0 && len(curr.removable(t.in)) == 0:
		return "nothing_to_move"
	}
	return ""
}

// normalize rescales positive weights to average 1, keeping disabled ones at 0.
func normalize(w []float64) {
	sum, n := 0.0, 0
	for _, x := range w {
		if x > 0 {
			sum += x
			n++
		}
	}
	if sum <= 0 {
		return
	}
	for i, x := range w {
		if x > 0 {
			w[i] = math.Max(minWeight, x*float64(n)/sum)
		}
	}
}
