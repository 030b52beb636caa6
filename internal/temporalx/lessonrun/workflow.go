package lessonrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	continueStepLimit    = 500
	continueHistoryLimit = 10000
)

// Workflow calls the step activity until the run is terminal, pausing between
// steps. Cancelling the workflow stops the loop; the run's own state is
// changed by the coordinator, not here.
func Workflow(ctx workflow.Context, p Params) error {
	if strings.TrimSpace(p.RunID) == "" {
		return fmt.Errorf("lessonrun: missing run_id")
	}
	interval := time.Duration(p.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		// One step is at most one writer call plus assembly.
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	nudge := workflow.GetSignalChannel(ctx, SignalNudge)
	for steps := 1; ; steps++ {
		var out StepResult
		if err := workflow.ExecuteActivity(ctx, ActivityStep, p.RunID).Get(ctx, &out); err != nil {
			return err
		}
		if out.Done {
			return nil
		}
		if err := waitOrNudge(ctx, nudge, interval); err != nil {
			return err
		}
		if steps >= continueStepLimit || workflow.GetInfo(ctx).GetCurrentHistoryLength() >= continueHistoryLimit {
			return workflow.NewContinueAsNewError(ctx, Workflow, p)
		}
	}
}

func waitOrNudge(ctx workflow.Context, ch workflow.ReceiveChannel, d time.Duration) error {
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	timer := workflow.NewTimer(timerCtx, d)

	var timerErr error
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, nil)
	})
	sel.AddFuture(timer, func(f workflow.Future) {
		timerErr = f.Get(ctx, nil)
	})
	sel.Select(ctx)
	if timerErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
