package opt

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func singleDemandProblem() Problem {
	return Problem{
		Vehicles: []Vehicle{{ID: "v1", Capacity: 4, Location: loc(139.70, 35.60)}},
		Demands: []Demand{{
			ID: "d1", Quantity: 2,
			Start: loc(139.71, 35.60), Destination: loc(139.73, 35.61),
			PickupWindow: TimeWindow{Low: 0, High: 600},
		}},
		MaxSolutions: 1,
	}
}

func TestOptimizeSingleVehicle(t *testing.T) {
	p := singleDemandProblem()
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)

	res := rep.Results[0]
	require.Empty(t, res.Missing)
	require.Empty(t, res.Unacceptable)
	require.Len(t, res.Routes, 1)
	route := res.Routes[0]
	require.Equal(t, "v1", route.VehicleID)
	require.Len(t, route.Stops, 2)
	require.True(t, route.Stops[0].Pickup)
	require.False(t, route.Stops[1].Pickup)
	require.Equal(t, 2, route.Stops[0].Load)
	require.Equal(t, 0, route.Stops[1].Load)

	m := haversineMatrix(p)
	d1, t1 := m.At(0, 1)
	d2, t2 := m.At(1, 2)
	require.Equal(t, d1+d2, res.TotalDistance)
	require.Equal(t, t1+t2+2*in.Config.ServiceTime, res.TotalTime)
	require.Equal(t, t1, route.Stops[0].Arrival)
	require.Equal(t, Routed, res.Outcome("d1"))
}

func TestOptimizeOverCapacityIsUnacceptable(t *testing.T) {
	p := singleDemandProblem()
	p.Vehicles[0].Capacity = 2
	p.Demands[0].Quantity = 3
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	res := rep.Results[0]
	require.Equal(t, []string{"d1"}, res.Unacceptable)
	require.Empty(t, res.Missing)
	require.Empty(t, res.Routes)
	require.Equal(t, Unacceptable, res.Outcome("d1"))
}

func TestOptimizeUnplaceableWithoutMissingFails(t *testing.T) {
	p := singleDemandProblem()
	// reachable within the acceptable buffer but not within the delay tolerance
	p.Demands[0].Start = loc(139.75, 35.60)
	p.Demands[0].PickupWindow = TimeWindow{Low: 0, High: 10}
	ap := testParams()
	ap.EnableMissingSolution = false
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	require.False(t, provablyInfeasible(in, 0))

	_, err := Optimize(context.Background(), in)
	require.ErrorIs(t, err, ErrNoSolution)

	in.Params.EnableMissingSolution = true
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, rep.Results[0].Missing)
	require.Equal(t, Missing, rep.Results[0].Outcome("d1"))
}

func TestOptimizeZeroBudgetReturnsInitial(t *testing.T) {
	p := randomProblem(3, 2, 8)
	ap := testParams()
	ap.NbIterations = 0
	ap.TimeLimit = 0
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	initial := BuildInitial(in)

	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.InDelta(t, initial.Objective, rep.Results[0].Objective, 1e-9)
	for _, m := range rep.Trials {
		require.Zero(t, m.Iterations)
		require.Equal(t, "no_budget", m.StopReason)
	}
}

func TestOptimizeZeroBudgetSkipsAlternatives(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		p := randomProblem(seed, 3, 8)
		p.MaxSolutions = 3
		ap := testParams()
		ap.NbIterations = 0
		ap.TimeLimit = 0
		in := mustInstance(t, p, ap, DefaultRouteConfiguration())
		initial := BuildInitial(in)

		rep, err := Optimize(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, 1, rep.Rounds, "seed %d", seed)
		require.Len(t, rep.Results, 1, "seed %d", seed)
		require.InDelta(t, initial.Objective, rep.Results[0].Objective, 1e-9, "seed %d", seed)
	}
}

func TestOptimizeAlternativesUseEveryVehicle(t *testing.T) {
	p := singleDemandProblem()
	p.Vehicles = append(p.Vehicles,
		Vehicle{ID: "v2", Capacity: 4, Location: loc(139.71, 35.61)},
		Vehicle{ID: "v3", Capacity: 4, Location: loc(139.69, 35.60)},
	)
	p.MaxSolutions = 3
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, rep.Results, 3)

	used := map[string]bool{}
	for _, res := range rep.Results {
		require.Empty(t, res.Missing)
		require.Len(t, res.Routes, 1)
		used[res.Routes[0].VehicleID] = true
	}
	require.Equal(t, map[string]bool{"v1": true, "v2": true, "v3": true}, used)
	require.Equal(t, "v1", rep.Results[0].Routes[0].VehicleID)
}

func TestOptimizeAlternativesStopAfterMissing(t *testing.T) {
	p := singleDemandProblem()
	p.Vehicles = append(p.Vehicles, Vehicle{ID: "v2", Capacity: 4, Location: loc(139.71, 35.61)})
	p.MaxSolutions = 3
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	// round 2 bars d1 from both vehicles and leaves it missing; no round follows it
	require.Equal(t, 3, rep.Rounds)
	require.Len(t, rep.Results, 3)
	require.Empty(t, rep.Results[0].Missing)
	require.Empty(t, rep.Results[1].Missing)
	require.Equal(t, []string{"d1"}, rep.Results[2].Missing)
}

func TestImprovesPrefersFewerMissing(t *testing.T) {
	routed := &Solution{Objective: 900}
	dropped := &Solution{Objective: 100, Missing: []int{0}}
	require.True(t, improves(routed, dropped))
	require.False(t, improves(dropped, routed))
	require.True(t, improves(&Solution{Objective: 99}, &Solution{Objective: 100}))
	require.False(t, improves(&Solution{Objective: 100}, &Solution{Objective: 100}))
}

func TestOptimizeDeterministic(t *testing.T) {
	p := randomProblem(5, 3, 12)
	ap := testParams()
	ap.NbIterations = 300
	ap.Seed = 42
	ap.ThreadCount = 1
	run := func() []Result {
		in := mustInstance(t, p, ap, DefaultRouteConfiguration())
		rep, err := Optimize(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, int64(42), rep.Seed)
		return rep.Results
	}
	require.Equal(t, run(), run())
}

func TestOptimizeParallelTrials(t *testing.T) {
	p := randomProblem(8, 3, 12)
	ap := testParams()
	ap.ThreadCount = 4
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, rep.Trials, 4)
	seeds := map[int64]bool{}
	fromTrial := false
	for i, m := range rep.Trials {
		require.Equal(t, i, m.Trial)
		seeds[m.Seed] = true
		if math.Abs(m.BestCost-rep.Results[0].Objective) < 1e-9 {
			fromTrial = true
		}
	}
	require.Len(t, seeds, 4)
	require.True(t, fromTrial, "best result must be one of the trial incumbents")
}

// TestSolutionInvariants runs the search on random instances and checks every
// reported route stop by stop.
func TestSolutionInvariants(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		p := randomProblem(seed, 3, 14)
		p.Demands = append(p.Demands,
			Demand{ID: "on1", Quantity: 2, Kind: KindOnboard, VehicleID: "a", Destination: loc(139.72, 35.67)},
			Demand{ID: "wait1", Quantity: 1, Kind: KindOnboardWaiting, VehicleID: "c", Start: loc(139.73, 35.66), Destination: loc(139.71, 35.68), PickupWindow: TimeWindow{Low: 100, High: 400}},
		)
		p.MaxSolutions = 3
		ap := testParams()
		ap.ThreadCount = 2
		in := mustInstance(t, p, ap, DefaultRouteConfiguration())
		rep, err := Optimize(context.Background(), in)
		require.NoError(t, err)
		require.NotEmpty(t, rep.Results)

		for _, res := range rep.Results {
			seen := map[string]int{}
			for _, id := range res.Missing {
				seen[id]++
			}
			for _, id := range res.Unacceptable {
				seen[id]++
			}
			for _, vr := range res.Routes {
				vi := in.vehicleIndex[vr.VehicleID]
				capacity := in.Problem.Vehicles[vi].Capacity
				picked := map[string]bool{}
				for _, st := range vr.Stops {
					di := in.demandIndex[st.DemandID]
					d := in.Problem.Demands[di]
					require.GreaterOrEqual(t, st.Load, 0)
					require.LessOrEqual(t, st.Load, capacity)
					if d.Committed() {
						require.Equal(t, d.VehicleID, vr.VehicleID, "committed demand %s moved", d.ID)
					}
					w := d.DropWindow
					if st.Pickup {
						picked[d.ID] = true
						seen[d.ID]++
						w = d.PickupWindow
					} else {
						if d.Kind != KindOnboard {
							require.True(t, picked[d.ID], "drop-off of %s before pickup", d.ID)
						} else {
							seen[d.ID]++
						}
					}
					if !d.Committed() && w.Bounded() {
						require.LessOrEqual(t, st.Arrival, w.High+ap.UnfeasibleDelaytime)
					}
				}
			}
			require.Len(t, seen, len(p.Demands))
			for id, n := range seen {
				require.Equal(t, 1, n, "demand %s appears %d times", id, n)
			}
		}
	}
}

func TestSolveIncumbentMonotone(t *testing.T) {
	p := randomProblem(9, 3, 15)
	ap := testParams()
	ap.NbIterations = 400
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	initial := BuildInitial(in)
	before := initial.Signature()

	best, m, err := Solve(context.Background(), in, initial, 99, ap.RemovalReqIterationControlE)
	require.NoError(t, err)
	require.Equal(t, before, initial.Signature(), "initial solution must not be modified")
	require.LessOrEqual(t, best.Objective, initial.Objective)
	require.Equal(t, Feasible, NewEvaluator(in).Check(best))
	require.Equal(t, 400, m.Iterations)
	require.Len(t, m.Snapshots, 400/snapshotEvery)

	prev := m.InitialCost
	for _, s := range m.Snapshots {
		require.LessOrEqual(t, s.BestCost, prev)
		prev = s.BestCost
		for _, w := range s.Removal {
			require.GreaterOrEqual(t, w, 0.0)
		}
	}
	require.InDelta(t, best.Objective, m.BestCost, 1e-9)
}

func TestSolveSkipRemoveRoute(t *testing.T) {
	p := randomProblem(10, 2, 10)
	ap := testParams()
	ap.SkipRemoveRoute = true
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	_, m, err := Solve(context.Background(), in, BuildInitial(in), 1, ap.RemovalReqIterationControlE)
	require.NoError(t, err)
	require.Zero(t, m.RemovalSelects[opRoute])
	require.Zero(t, m.FinalRemovalWeights[opRoute])
}

func TestSolveStopsOnCancel(t *testing.T) {
	p := randomProblem(12, 2, 10)
	ap := testParams()
	ap.NbIterations = 0
	ap.TimeLimit = 60
	in := mustInstance(t, p, ap, DefaultRouteConfiguration())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	best, m, err := Solve(ctx, in, BuildInitial(in), 1, ap.RemovalReqIterationControlE)
	require.NoError(t, err)
	require.NotNil(t, best)
	require.Equal(t, "canceled", m.StopReason)
}

func TestOptimizeAlternativeSolutions(t *testing.T) {
	p := singleDemandProblem()
	p.Vehicles = append(p.Vehicles, Vehicle{ID: "v2", Capacity: 4, Location: loc(139.69, 35.60)})
	p.MaxSolutions = 2
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	rep, err := Optimize(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Rounds)
	require.Len(t, rep.Results, 2)
	require.Equal(t, "v1", rep.Results[0].Routes[0].VehicleID)
	require.Equal(t, "v2", rep.Results[1].Routes[0].VehicleID)
	require.Less(t, rep.Results[0].Objective, rep.Results[1].Objective)
	require.Equal(t, 1, rep.Results[0].Rank)
	require.Equal(t, 2, rep.Results[1].Rank)
}
