// README: River worker and periodic job that run the stale-request sweep.
package sweep

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

type SweepArgs struct{}

func (SweepArgs) Kind() string { return "stale_request_sweep" }

type Worker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper *Sweeper
}

func NewWorker(s *Sweeper) *Worker {
	return &Worker{sweeper: s}
}

func (w *Worker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	_, err := w.sweeper.Run(ctx)
	return err
}

// PeriodicJob schedules the sweep on the river client every interval.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, &river.InsertOpts{MaxAttempts: 1}
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
