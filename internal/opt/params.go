package opt

import (
	"fmt"
	"strings"
)

// AlgorithmParameters are the ALNS tunables. Values are passed per call; nothing here is
// global state.
type AlgorithmParameters struct {
	NbIterations int `json:"nbIterations" yaml:"nb_iterations"`
	TimeLimit    int `json:"timeLimit" yaml:"time_limit"` // seconds
	ThreadCount  int `json:"threadCount" yaml:"thread_count"`

	ShawPhiDistance float64 `json:"shawPhiDistance" yaml:"shaw_phi_distance"`
	ShawChiTime     float64 `json:"shawChiTime" yaml:"shaw_chi_time"`
	ShawPsiCapacity float64 `json:"shawPsiCapacity" yaml:"shaw_psi_capacity"`

	ShawRemovalP  int `json:"shawRemovalP" yaml:"shaw_removal_p"`
	WorstRemovalP int `json:"worstRemovalP" yaml:"worst_removal_p"`

	SimulatedAnnealingStartTempControlW float64 `json:"simulatedAnnealingStartTempControlW" yaml:"simulated_annealing_start_temp_control_w"`
	SimulatedAnnealingCoolingRateC      float64 `json:"simulatedAnnealingCoolingRateC" yaml:"simulated_annealing_cooling_rate_c"`
	AdaptiveWeightAdjD1                 float64 `json:"adaptiveWeightAdjD1" yaml:"adaptive_weight_adj_d1"`
	AdaptiveWeightAdjD2                 float64 `json:"adaptiveWeightAdjD2" yaml:"adaptive_weight_adj_d2"`
	AdaptiveWeightAdjD3                 float64 `json:"adaptiveWeightAdjD3" yaml:"adaptive_weight_adj_d3"`
	AdaptiveWeightDecayR                float64 `json:"adaptiveWeightDacayR" yaml:"adaptive_weight_dacay_r"`

	InsertionObjectiveNoiseN    float64 `json:"insertionObjectiveNoiseN" yaml:"insertion_objective_noise_n"`
	RemovalReqIterationControlE float64 `json:"removalReqIterationControlE" yaml:"removal_req_iteration_control_e"`

	DelaytimePenalty float64 `json:"delaytimePenalty" yaml:"delaytime_penalty"`
	WaittimePenalty  float64 `json:"waittimePenalty" yaml:"waittime_penalty"`

	// Seed 0 seeds from the clock.
	Seed                  int64 `json:"seed" yaml:"seed"`
	EnableMissingSolution bool  `json:"enableMissingSolution" yaml:"enable_missing_solution"`
	SkipRemoveRoute       bool  `json:"skipRemoveRoute" yaml:"skip_remove_route"`
	UnfeasibleDelaytime   int   `json:"unfeasibleDelaytime" yaml:"unfeasible_delaytime"`

	// MaxNonImproving stops a trial after this many iterations without a new best. 0 disables.
	MaxNonImproving int `json:"maxNonImproving,omitempty" yaml:"max_non_improving,omitempty"`
}

// DefaultAlgorithmParameters returns the tuning used when a caller supplies nothing.
func DefaultAlgorithmParameters() AlgorithmParameters {
	return AlgorithmParameters{
		NbIterations: 5000,
		TimeLimit:    1,
		ThreadCount:  1,

		ShawPhiDistance: 9,
		ShawChiTime:     3,
		ShawPsiCapacity: 2,
		ShawRemovalP:    4,
		WorstRemovalP:   3,

		SimulatedAnnealingStartTempControlW: 0.05,
		SimulatedAnnealingCoolingRateC:      0.99975,
		AdaptiveWeightAdjD1:                 33,
		AdaptiveWeightAdjD2:                 9,
		AdaptiveWeightAdjD3:                 13,
		AdaptiveWeightDecayR:                0.1,

		InsertionObjectiveNoiseN:    0.025,
		RemovalReqIterationControlE: 0.4,

		DelaytimePenalty: 10,
		WaittimePenalty:  0,

		Seed:                  0,
		EnableMissingSolution: true,
		SkipRemoveRoute:       false,
		UnfeasibleDelaytime:   300,
	}
}

// noBudget reports that neither an iteration count nor a time limit allows any search.
func (ap AlgorithmParameters) noBudget() bool { return ap.NbIterations == 0 && ap.TimeLimit == 0 }

// Validate rejects parameter sets the engine cannot run with.
func (ap AlgorithmParameters) Validate() error {
	var errs []string
	if ap.NbIterations < 0 {
		errs = append(errs, "nbIterations must be >= 0")
	}
	if ap.TimeLimit < 0 {
		errs = append(errs, "timeLimit must be >= 0")
	}
	if ap.ThreadCount < 0 {
		errs = append(errs, "threadCount must be >= 0")
	}
	if ap.ShawPhiDistance < 0 || ap.ShawChiTime < 0 || ap.ShawPsiCapacity < 0 {
		errs = append(errs, "shaw weights must be >= 0")
	}
	if ap.ShawRemovalP < 0 || ap.WorstRemovalP < 0 {
		errs = append(errs, "removal cardinalities must be >= 0")
	}
	if ap.SimulatedAnnealingStartTempControlW < 0 {
		errs = append(errs, "simulatedAnnealingStartTempControlW must be >= 0")
	}
	if ap.SimulatedAnnealingCoolingRateC <= 0 || ap.SimulatedAnnealingCoolingRateC > 1 {
		errs = append(errs, "simulatedAnnealingCoolingRateC must be in (0,1]")
	}
	if ap.AdaptiveWeightDecayR < 0 || ap.AdaptiveWeightDecayR >= 1 {
		errs = append(errs, "adaptiveWeightDacayR must be in [0,1)")
	}
	if ap.InsertionObjectiveNoiseN < 0 {
		errs = append(errs, "insertionObjectiveNoiseN must be >= 0")
	}
	if ap.RemovalReqIterationControlE < 0 || ap.RemovalReqIterationControlE > 1 {
		errs = append(errs, "removalReqIterationControlE must be in [0,1]")
	}
	if ap.DelaytimePenalty < 0 || ap.WaittimePenalty < 0 {
		errs = append(errs, "penalties must be >= 0")
	}
	if ap.UnfeasibleDelaytime < 0 {
		errs = append(errs, "unfeasibleDelaytime must be >= 0")
	}
	if ap.MaxNonImproving < 0 {
		errs = append(errs, "maxNonImproving must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInputInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// RouteConfiguration holds operational limits. Times are seconds.
type RouteConfiguration struct {
	MaxDuration         int `json:"maxDuration" yaml:"max_duration"`
	BypassRatio         int `json:"bypassRatio" yaml:"bypass_ratio"` // percent over the direct ride
	ServiceTime         int `json:"serviceTime" yaml:"service_time"`
	AcceptableBuffer    int `json:"acceptableBuffer" yaml:"acceptable_buffer"`
	CacheExpirationTime int `json:"cacheExpirationTime" yaml:"cache_expiration_time"`
	SolutionLimit       int `json:"solutionLimit" yaml:"solution_limit"`
}

func DefaultRouteConfiguration() RouteConfiguration {
	return RouteConfiguration{
		MaxDuration:         7200,
		BypassRatio:         100,
		ServiceTime:         10,
		AcceptableBuffer:    600,
		CacheExpirationTime: 3600,
		SolutionLimit:       3,
	}
}

func (c RouteConfiguration) Validate() error {
	switch {
	case c.MaxDuration < 0:
		return fmt.Errorf("%w: maxDuration must be >= 0", ErrInputInvalid)
	case c.ServiceTime < 0:
		return fmt.Errorf("%w: serviceTime must be >= 0", ErrInputInvalid)
	case c.AcceptableBuffer < 0:
		return fmt.Errorf("%w: acceptableBuffer must be >= 0", ErrInputInvalid)
	case c.CacheExpirationTime < 0:
		return fmt.Errorf("%w: cacheExpirationTime must be >= 0", ErrInputInvalid)
	case c.SolutionLimit < 0:
		return fmt.Errorf("%w: solutionLimit must be >= 0", ErrInputInvalid)
	}
	return nil
}

// OptimizeType selects the arc measure summed by the objective.
type OptimizeType int

const (
	OptimizeTime OptimizeType = iota
	OptimizeDistance
	OptimizeCO2
)

func (t OptimizeType) String() string {
	switch t {
	case OptimizeDistance:
		return "distance"
	case OptimizeCO2:
		return "co2"
	default:
		return "time"
	}
}

// ParseOptimizeType accepts the names returned by String, case-insensitively. Empty means time.
func ParseOptimizeType(s string) (OptimizeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "time":
		return OptimizeTime, nil
	case "distance":
		return OptimizeDistance, nil
	case "co2":
		return OptimizeCO2, nil
	}
	return OptimizeTime, fmt.Errorf("%w: unknown optimize type %q", ErrInputInvalid, s)
}

func (t OptimizeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OptimizeType) UnmarshalText(b []byte) error {
	v, err := ParseOptimizeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
