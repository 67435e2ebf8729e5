package api

import (
	"fmt"

	"moddispatch/internal/distance"
	"moddispatch/internal/model"
	"moddispatch/internal/opt"
)

// maxProblemSize bounds vehicles plus demands per request.
const maxProblemSize = 2000

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if len(req.Vehicles) == 0 {
		return fmt.Errorf("%w: vehicles must not be empty", opt.ErrInputInvalid)
	}
	if n := len(req.Vehicles) + len(req.Demands); n > maxProblemSize {
		return fmt.Errorf("%w: %d vehicles and demands exceed the limit of %d", opt.ErrInputInvalid, n, maxProblemSize)
	}
	if req.Parallelism < 0 || req.Parallelism > 64 {
		return fmt.Errorf("%w: parallelism must be in [0,64]", opt.ErrInputInvalid)
	}
	if req.MaxSolutions < 0 {
		return fmt.Errorf("%w: maxSolutions must be >= 0", opt.ErrInputInvalid)
	}
	if _, err := distance.ParseBackend(req.RouteType); err != nil {
		return err
	}
	if _, err := opt.ParseOptimizeType(req.OptimizeType); err != nil {
		return err
	}
	return nil
}
