package opt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lineProblem() Problem {
	return Problem{
		Vehicles: []Vehicle{{ID: "v1", Capacity: 2, Location: loc(139.70, 35.60)}},
		Demands: []Demand{
			{ID: "d1", Quantity: 1, Start: loc(139.71, 35.60), Destination: loc(139.72, 35.60)},
			{ID: "d2", Quantity: 1, Start: loc(139.73, 35.60), Destination: loc(139.74, 35.60)},
		},
	}
}

func TestBuildInitialReplaysAssignedOrder(t *testing.T) {
	p := lineProblem()
	p.Assigned = []AssignedRoute{{VehicleID: "v1", Stops: []StopRef{
		{DemandID: "d1", Pickup: true},
		{DemandID: "d2", Pickup: true},
		{DemandID: "d2"},
		{DemandID: "d1"},
	}}}
	conf := DefaultRouteConfiguration()
	conf.BypassRatio = 0
	in := mustInstance(t, p, testParams(), conf)
	s := BuildInitial(in)
	require.Equal(t, []int{in.pick[0], in.pick[1], in.drop[1], in.drop[0]}, s.Routes[0].Stops)
}

func TestBuildInitialDropsPinnedFromTheBack(t *testing.T) {
	p := lineProblem()
	p.Vehicles[0].Capacity = 1
	p.Assigned = []AssignedRoute{{VehicleID: "v1", Stops: []StopRef{
		{DemandID: "d1", Pickup: true},
		{DemandID: "d2", Pickup: true},
		{DemandID: "d1"},
		{DemandID: "d2"},
	}}}
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	s := BuildInitial(in)
	// d2 no longer fits in the pinned order and is re-inserted after d1
	require.Equal(t, []int{in.pick[0], in.drop[0], in.pick[1], in.drop[1]}, s.Routes[0].Stops)
	require.Empty(t, s.Missing)
}

func TestBuildInitialIgnoresIncompleteAssignments(t *testing.T) {
	p := lineProblem()
	p.Assigned = []AssignedRoute{{VehicleID: "v1", Stops: []StopRef{
		{DemandID: "d2", Pickup: true},
		{DemandID: "ghost", Pickup: true},
	}}}
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	s := BuildInitial(in)
	require.Equal(t, 0, s.RouteOf(0))
	require.Equal(t, 0, s.RouteOf(1))
	require.Equal(t, Feasible, NewEvaluator(in).Check(s))
}

func TestBuildInitialBindsCommittedDemands(t *testing.T) {
	p := lineProblem()
	p.Vehicles = append(p.Vehicles, Vehicle{ID: "v2", Capacity: 2, Location: loc(139.75, 35.60)})
	p.Demands = append(p.Demands, Demand{ID: "on", Quantity: 2, Kind: KindOnboard, VehicleID: "v2", Destination: loc(139.70, 35.60)})
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	s := BuildInitial(in)
	require.Equal(t, 1, s.RouteOf(2))
	require.Empty(t, s.Unacceptable)
	// v2 is full until its onboard passenger leaves
	r := s.Routes[1]
	for k, n := range r.Stops {
		if n == in.drop[2] {
			break
		}
		require.True(t, in.nodes[n].demand == 2, "stop %d precedes the onboard drop-off", k)
	}
}

func TestBuildInitialUnacceptableBeyondBuffer(t *testing.T) {
	p := lineProblem()
	// about 18km away with a pickup window that closes after 10s
	p.Demands[1].Start = loc(139.90, 35.60)
	p.Demands[1].PickupWindow = TimeWindow{Low: 0, High: 10}
	in := mustInstance(t, p, testParams(), DefaultRouteConfiguration())
	require.True(t, provablyInfeasible(in, 1))
	require.False(t, provablyInfeasible(in, 0))
	s := BuildInitial(in)
	require.Equal(t, []int{1}, s.Unacceptable)
	require.Empty(t, s.Missing)
}

func TestBuildInitialStrandedOnboardKeepsSeat(t *testing.T) {
	p := Problem{
		Vehicles: []Vehicle{{ID: "v1", Capacity: 2, Location: loc(139.70, 35.60)}},
		Demands: []Demand{
			{ID: "on1", Quantity: 1, Kind: KindOnboard, VehicleID: "v1", Destination: loc(139.75, 35.62)},
			{ID: "d1", Quantity: 2, Start: loc(139.71, 35.60), Destination: loc(139.72, 35.60),
				PickupWindow: TimeWindow{Low: 0, High: 900}},
		},
		MaxSolutions: 1,
	}
	m := haversineMatrix(p)
	// node 1 is the drop-off of on1; nothing can reach it
	for i := 0; i < m.N; i++ {
		if i != 1 {
			m.Set(i, 1, NoRoute, NoRoute)
		}
	}
	in, err := NewInstance(p, m, testParams(), DefaultRouteConfiguration())
	require.NoError(t, err)
	require.Equal(t, 1, in.initLoad[0])

	s := BuildInitial(in)
	require.Equal(t, []int{0}, s.Unacceptable)
	// d1 would need both seats
	require.Equal(t, []int{1}, s.Missing)
	require.Equal(t, -1, s.routeOf[1])
}
