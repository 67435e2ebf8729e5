package opt

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report is everything one Optimize call produced.
type Report struct {
	Seed    int64     `json:"seed"`
	Rounds  int       `json:"rounds"`
	Trials  []Metrics `json:"trials"`
	Results []Result  `json:"results"`
}

// Optimize builds the initial solution, runs thread_count ALNS trials in parallel and,
// when more than one solution is wanted and a search budget exists, alternative rounds
// that push routed new demands off every vehicle they used in earlier rounds. The
// ranked results are finalized from every incumbent seen.
func Optimize(ctx context.Context, in *Instance) (*Report, error) {
	seed := in.Params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rep := &Report{Seed: seed}

	best, err := runRound(ctx, in, 0, seed, rep)
	if err != nil {
		return nil, err
	}
	pool := []*Solution{best}
	rep.Rounds = 1

	rounds := min(max(0, in.Problem.MaxSolutions-1), in.Config.SolutionLimit)
	if in.Params.noBudget() {
		rounds = 0
	}
	// forbidden vehicles accumulate, so each round has to find a new assignment
	forbid := make(map[int][]int)
	seen := map[string]bool{best.Signature(): true}
	prev := best
	for round := 1; round <= rounds && ctx.Err() == nil; round++ {
		if len(prev.Missing) > 0 {
			break
		}
		moved := prev.removable(in)
		if len(moved) == 0 {
			break
		}
		for _, d := range moved {
			forbid[d] = append(forbid[d], prev.routeOf[d])
		}
		alt, err := runRound(ctx, in.withForbidden(forbid), round, seed, rep)
		if err != nil {
			return nil, fmt.Errorf("alternative round %d: %w", round, err)
		}
		rep.Rounds++
		sig := alt.Signature()
		if seen[sig] {
			break
		}
		seen[sig] = true
		pool = append(pool, alt)
		prev = alt
	}

	results, err := finalize(in, pool)
	if err != nil {
		return nil, err
	}
	rep.Results = results
	return rep, nil
}

// runRound runs the trials of one round concurrently and returns the best incumbent.
// Per-trial metrics are appended to rep in trial order.
func runRound(ctx context.Context, in *Instance, round int, seed int64, rep *Report) (*Solution, error) {
	initial := BuildInitial(in)
	threads := max(1, in.Params.ThreadCount)
	sols := make([]*Solution, threads)
	mets := make([]Metrics, threads)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		i := i
		g.Go(func() error {
			s := deriveSeed(seed, uint64(round)<<32|uint64(i))
			sol, m, err := Solve(gctx, in, initial, s, removalFraction(in.Params.RemovalReqIterationControlE, i, threads))
			if err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
			m.Round, m.Trial = round, i
			sols[i], mets[i] = sol, m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Trials = append(rep.Trials, mets...)
	return bestOf(sols), nil
}

// bestOf picks the lowest (missing, objective, signature) solution.
func bestOf(sols []*Solution) *Solution {
	var best *Solution
	for _, s := range sols {
		if best == nil || compareSolutions(s, best) < 0 {
			best = s
		}
	}
	return best
}
