package lessonrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type Activities struct {
	Log  *logger.Logger
	Step StepFunc
}

func (a *Activities) RunStep(ctx context.Context, runID string) (StepResult, error) {
	res := StepResult{RunID: strings.TrimSpace(runID)}
	if a == nil || a.Step == nil {
		return res, fmt.Errorf("lessonrun: activity not configured")
	}
	id, err := uuid.Parse(res.RunID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("lessonrun: invalid run_id %q", runID)
	}

	stop := heartbeat(ctx)
	defer stop()

	done, err := a.Step(ctx, id)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("Run step failed", "run_id", id, "error", err)
		}
		return res, err
	}
	res.Done = done
	return res, nil
}

func heartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
