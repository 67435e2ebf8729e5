package dispatch

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"moddispatch/internal/metrics"
	"moddispatch/internal/opt"
	"moddispatch/internal/store"
)

// record publishes metrics, persists the run and notifies listeners. Storage failures
// are logged; they never fail the optimize call.
func (e *Engine) record(ctx context.Context, l log.FieldLogger, run *Run, req Request, ap opt.AlgorithmParameters, start time.Time, runErr error) {
	rec := store.Run{
		ID:           run.ID,
		CreatedAt:    start.UTC(),
		Status:       "succeeded",
		OptimizeType: req.Problem.OptimizeType.String(),
		Vehicles:     len(req.Problem.Vehicles),
		Demands:      len(req.Problem.Demands),
		Seed:         ap.Seed,
		DurationMs:   run.Elapsed.Milliseconds(),
	}
	if runErr != nil {
		rec.Status, rec.Error = "failed", runErr.Error()
	}
	var snaps []store.WeightSnapshot
	if rep := run.Report; rep != nil {
		rec.Seed = rep.Seed
		for _, m := range rep.Trials {
			rec.Iterations += m.Iterations
			for _, s := range m.Snapshots {
				snaps = append(snaps, store.WeightSnapshot{
					Round:     m.Round,
					Trial:     m.Trial,
					Iteration: s.Iteration,
					Removal:   s.Removal[:],
					Insertion: s.Insertion[:],
					BestCost:  s.BestCost,
				})
			}
		}
		metrics.SolverIterations.Add(float64(rec.Iterations))
		opt.RecordMetrics(run.ID, rep.Trials)
		if len(rep.Results) > 0 {
			best := rep.Results[0]
			rec.BestCost = best.Objective
			rec.Missing, rec.Unacceptable = len(best.Missing), len(best.Unacceptable)
			metrics.DemandOutcomes.WithLabelValues(opt.Missing.String()).Add(float64(rec.Missing))
			metrics.DemandOutcomes.WithLabelValues(opt.Unacceptable.String()).Add(float64(rec.Unacceptable))
			metrics.DemandOutcomes.WithLabelValues(opt.Routed.String()).Add(float64(rec.Demands - rec.Missing - rec.Unacceptable))
		}
		if b, err := json.Marshal(rep.Results); err == nil {
			rec.Results = b
		}
	}

	if e.runs != nil {
		// the caller may already be gone; the record should still land
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.runs.SaveRun(sctx, rec); err != nil {
			l.WithError(err).Warn("save run failed")
		} else if len(snaps) > 0 {
			if err := e.runs.SaveWeights(sctx, run.ID, snaps); err != nil {
				l.WithError(err).Warn("save weight snapshots failed")
			}
		}
		cancel()
	}

	evt := Event{Type: EventRunCompleted, RunID: run.ID, At: e.now().UTC(), Data: map[string]any{
		"status":       rec.Status,
		"optimizeType": rec.OptimizeType,
		"vehicles":     rec.Vehicles,
		"demands":      rec.Demands,
		"bestCost":     rec.BestCost,
		"missing":      rec.Missing,
		"unacceptable": rec.Unacceptable,
		"durationMs":   rec.DurationMs,
	}}
	if runErr != nil {
		evt.Type = EventRunFailed
		evt.Data["error"] = rec.Error
	}
	for _, n := range e.notifiers {
		n.Notify(context.WithoutCancel(ctx), evt)
	}
}
