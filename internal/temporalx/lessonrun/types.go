package lessonrun

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	WorkflowName = "lesson_run"
	ActivityStep = "lesson_run_step"
	// SignalNudge skips the remaining poll interval, e.g. after a retry is
	// requested by hand.
	SignalNudge = "lesson_run_nudge"

	DefaultInterval = 2 * time.Second
)

// StepFunc advances a run by one resume and reports whether it is terminal.
type StepFunc func(ctx context.Context, runID uuid.UUID) (bool, error)

type Params struct {
	RunID      string `json:"run_id"`
	IntervalMs int64  `json:"interval_ms"`
}

type StepResult struct {
	RunID string `json:"run_id"`
	Done  bool   `json:"done"`
}

// WorkflowID is stable per run so scheduling twice attaches to one execution.
func WorkflowID(runID uuid.UUID) string { return "lesson-run-" + runID.String() }
