package opt

import "errors"

var (
	// ErrInputInvalid marks a malformed problem or parameter set. Nothing is searched.
	ErrInputInvalid = errors.New("input invalid")
	// ErrOracleUnavailable marks a distance/time lookup failure.
	ErrOracleUnavailable = errors.New("distance oracle unavailable")
	// ErrNoSolution is returned when missing demands are not allowed and every
	// candidate left some demand unplaced.
	ErrNoSolution = errors.New("fail to dispatch")
)

// RejectReason explains why a route or candidate insertion is infeasible.
type RejectReason int

const (
	Feasible RejectReason = iota
	CapacityExceeded
	TimeWindowViolated
	DurationExceeded
	PrecedenceViolated
	Unreachable
)

func (r RejectReason) String() string {
	switch r {
	case Feasible:
		return "feasible"
	case CapacityExceeded:
		return "capacity_exceeded"
	case TimeWindowViolated:
		return "time_window_violated"
	case DurationExceeded:
		return "duration_exceeded"
	case PrecedenceViolated:
		return "precedence_violated"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Outcome is the final classification of one demand.
type Outcome int

const (
	Routed Outcome = iota
	Missing
	Unacceptable
)

func (o Outcome) String() string {
	switch o {
	case Missing:
		return "missing"
	case Unacceptable:
		return "unacceptable"
	}
	return "routed"
}
