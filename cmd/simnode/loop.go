package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/sim"
	"github.com/uhyunpark/marketsim/pkg/report"
)

// autoRun drives the simulator without API input. A positive steps runs
// once and prints a report; zero repeats DefaultMaxSteps runs back to back.
// It returns once a run is stopped or a run started over the API holds the
// simulator, leaving further runs to the API. Shutdown is not an error.
func autoRun(ctx context.Context, c sim.Controller, steps int, log *zap.SugaredLogger) error {
	once := steps > 0
	if !once {
		steps = sim.DefaultMaxSteps
	}
	for ctx.Err() == nil {
		res, err := c.RunSimulation(ctx, steps)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Infow("auto_run_interrupted", "run", res.RunID, "steps", res.StepsCompleted)
			return nil
		case errors.Is(err, sim.ErrSimulationRunning):
			log.Infow("auto_run_yielded", "step", c.CurrentStep())
			return nil
		case err != nil:
			return err
		}
		log.Infow("run_finished", "run", res.RunID, "steps", res.StepsCompleted,
			"stopped", res.Stopped, "executions", len(res.Executions))

		if once {
			log.Info("\n" + report.PortfolioSummary(c.Portfolio()) + report.TradingStats(c.Stats()))
			return nil
		}
		if res.Stopped {
			log.Infow("auto_run_parked", "run", res.RunID)
			return nil
		}
	}
	return nil
}
