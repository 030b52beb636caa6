package lessonrun

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// Scheduler drives runs through durable workflows, one per run.
type Scheduler struct {
	log       *logger.Logger
	tc        client.Client
	taskQueue string
	interval  int64
}

func NewScheduler(baseLog *logger.Logger, tc client.Client, taskQueue string, intervalMs int64) *Scheduler {
	return &Scheduler{
		log:       baseLog.With("component", "TemporalRunScheduler"),
		tc:        tc,
		taskQueue: taskQueue,
		interval:  intervalMs,
	}
}

func (s *Scheduler) Schedule(ctx context.Context, runID uuid.UUID) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal scheduler not configured")
	}
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(runID),
		TaskQueue:                s.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	we, err := s.tc.ExecuteWorkflow(ctx, opts, WorkflowName, Params{RunID: runID.String(), IntervalMs: s.interval})
	if err != nil {
		return fmt.Errorf("start run workflow: %w", err)
	}
	s.log.Info("Run workflow scheduled", "run_id", runID, "workflow_id", we.GetID(), "workflow_run_id", we.GetRunID())
	return nil
}

// Nudge wakes a sleeping workflow so the next step runs immediately. It
// reports false when no workflow is running for the run.
func (s *Scheduler) Nudge(ctx context.Context, runID uuid.UUID) (bool, error) {
	if s == nil || s.tc == nil {
		return false, nil
	}
	err := s.tc.SignalWorkflow(ctx, WorkflowID(runID), "", SignalNudge, nil)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nudge run workflow: %w", err)
	}
	return true, nil
}

func (s *Scheduler) Stop(ctx context.Context, runID uuid.UUID) error {
	if s == nil || s.tc == nil {
		return nil
	}
	err := s.tc.CancelWorkflow(ctx, WorkflowID(runID), "")
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("cancel run workflow: %w", err)
}

func isNotFound(err error) bool {
	var nf *serviceerror.NotFound
	return errors.As(err, &nf)
}
