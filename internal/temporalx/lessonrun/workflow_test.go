package lessonrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

func newEnv(t *testing.T, step StepFunc) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	acts := &Activities{Log: logger.Nop(), Step: step}
	env.RegisterWorkflow(Workflow)
	env.RegisterActivityWithOptions(acts.RunStep, activity.RegisterOptions{Name: ActivityStep})
	return env
}

func TestWorkflowStepsUntilDone(t *testing.T) {
	runID := uuid.New()
	calls := 0
	env := newEnv(t, func(ctx context.Context, id uuid.UUID) (bool, error) {
		if id != runID {
			t.Errorf("unexpected run id %s", id)
		}
		calls++
		return calls >= 3, nil
	})

	env.ExecuteWorkflow(Workflow, Params{RunID: runID.String(), IntervalMs: 1000})
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 steps, got %d", calls)
	}
}

func TestWorkflowNudgeSkipsWait(t *testing.T) {
	calls := 0
	env := newEnv(t, func(ctx context.Context, id uuid.UUID) (bool, error) {
		calls++
		return calls >= 2, nil
	})
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNudge, nil)
	}, time.Second)

	start := env.Now()
	env.ExecuteWorkflow(Workflow, Params{RunID: uuid.NewString(), IntervalMs: int64(time.Hour / time.Millisecond)})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 steps, got %d", calls)
	}
	if elapsed := env.Now().Sub(start); elapsed >= time.Hour {
		t.Fatalf("nudge did not cut the wait short: %s", elapsed)
	}
}

func TestWorkflowRejectsMissingRunID(t *testing.T) {
	env := newEnv(t, func(ctx context.Context, id uuid.UUID) (bool, error) { return true, nil })
	env.ExecuteWorkflow(Workflow, Params{})
	if env.GetWorkflowError() == nil {
		t.Fatalf("expected error for missing run id")
	}
}

func TestActivityRejectsBadRunID(t *testing.T) {
	a := &Activities{Step: func(ctx context.Context, id uuid.UUID) (bool, error) { return true, nil }}
	if _, err := a.RunStep(context.Background(), "not-a-uuid"); err == nil {
		t.Fatalf("expected parse error")
	}
	wantErr := errors.New("boom")
	a.Step = func(ctx context.Context, id uuid.UUID) (bool, error) { return false, wantErr }
	if _, err := a.RunStep(context.Background(), uuid.NewString()); !errors.Is(err, wantErr) {
		t.Fatalf("expected step error, got %v", err)
	}
}

func TestSchedulerWithoutClient(t *testing.T) {
	s := NewScheduler(logger.Nop(), nil, "lessons", 1000)
	woke, err := s.Nudge(context.Background(), uuid.New())
	if err != nil || woke {
		t.Fatalf("nudge without client: woke=%v err=%v", woke, err)
	}
	if err := s.Schedule(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected schedule error without client")
	}
	if err := s.Stop(context.Background(), uuid.New()); err != nil {
		t.Fatalf("stop without client: %v", err)
	}
}
