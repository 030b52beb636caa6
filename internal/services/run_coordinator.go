package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/assemble"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/continuity"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/split"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/writer"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

const (
	ErrorCodeWriting  = "writing_failed"
	ErrorCodeAssembly = "assembly_failed"
)

var errLeaseLost = errors.New("lease lost")

// RunScheduler drives a run by calling RunCoordinator.Step until it reports
// done. Implementations own their own cancellation.
type RunScheduler interface {
	Schedule(ctx context.Context, runID uuid.UUID) error
	// Nudge asks an already scheduled driver to step now. It reports false
	// when nothing is driving the run.
	Nudge(ctx context.Context, runID uuid.UUID) (bool, error)
	Stop(ctx context.Context, runID uuid.UUID) error
}

type RunConfig struct {
	// MaxAttempts per subtask before the run errors; 0 means unlimited.
	MaxAttempts         int
	ContinuityMaxTokens int
	LeaseFor            time.Duration
}

func RunConfigFromEnv() RunConfig {
	writerTimeout := envutil.Millis("WRITER_TIMEOUT_MS", writer.DefaultTimeout)
	return RunConfig{
		MaxAttempts:         envutil.Int("SUBTASK_MAX_ATTEMPTS", 3),
		ContinuityMaxTokens: envutil.Int("CONTINUITY_MAX_TOKENS", continuity.DefaultMaxTokens),
		LeaseFor:            envutil.Seconds("RUN_LEASE_SECONDS", writerTimeout+60*time.Second),
	}
}

type SubtaskView struct {
	SubtaskID    string              `json:"subtask_id"`
	Order        int                 `json:"order"`
	BlockID      string              `json:"block_id,omitempty"`
	Range        types.SubtaskRange  `json:"range"`
	TargetTokens int                 `json:"target_tokens"`
	Status       types.SubtaskStatus `json:"status"`
	Attempts     int                 `json:"attempts"`
	ContentHash  string              `json:"content_hash,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// RunSnapshot is what polling callers see: the run, its subtasks, the events
// after the requested seq and, once completed, the lesson.
type RunSnapshot struct {
	Run      *types.Run        `json:"run"`
	Subtasks []SubtaskView     `json:"subtasks"`
	Progress Progress          `json:"progress"`
	Events   []*types.RunEvent `json:"events"`
	LastSeq  int64             `json:"last_seq"`
	Lesson   *types.Lesson     `json:"lesson,omitempty"`
}

type RunCoordinator interface {
	Split(ctx context.Context, lessonID uuid.UUID) (*RunSnapshot, error)
	Start(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error)
	Resume(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error)
	Cancel(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error)
	Get(ctx context.Context, runID uuid.UUID, afterSeq int64) (*RunSnapshot, error)
	// Step is Resume shaped for schedulers: done once the run is terminal.
	Step(ctx context.Context, runID uuid.UUID) (bool, error)
	SetScheduler(s RunScheduler)
}

type runCoordinator struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       RunConfig
	writer    writer.Writer
	progress  ProgressChannel
	notifier  RunNotifier
	scheduler RunScheduler
	plans     repos.PlanRepo
	lessons   repos.LessonRepo
	runs      repos.RunRepo
	subtasks  repos.SubtaskRepo
}

func NewRunCoordinator(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg RunConfig,
	w writer.Writer,
	progress ProgressChannel,
	notifier RunNotifier,
	plans repos.PlanRepo,
	lessons repos.LessonRepo,
	runs repos.RunRepo,
	subtasks repos.SubtaskRepo,
) RunCoordinator {
	if cfg.ContinuityMaxTokens <= 0 {
		cfg.ContinuityMaxTokens = continuity.DefaultMaxTokens
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = writer.DefaultTimeout + 60*time.Second
	}
	if notifier == nil {
		notifier = NewRunNotifiers()
	}
	return &runCoordinator{
		db:       db,
		log:      baseLog.With("service", "RunCoordinator"),
		cfg:      cfg,
		writer:   w,
		progress: progress,
		notifier: notifier,
		plans:    plans,
		lessons:  lessons,
		runs:     runs,
		subtasks: subtasks,
	}
}

func (c *runCoordinator) SetScheduler(s RunScheduler) { c.scheduler = s }

// Split turns an accepted lesson into a generating run. Splitting again while
// a run is live or completed returns that run.
func (c *runCoordinator) Split(ctx context.Context, lessonID uuid.UUID) (*RunSnapshot, error) {
	dbc := dbctx.New(ctx)
	lesson, err := c.lessons.GetByID(dbc, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson == nil || !ownerAllowed(ctx, lesson.OwnerUserID) {
		return nil, fmt.Errorf("%w: lesson %s", types.ErrNotFound, lessonID)
	}
	if existing, err := c.reusableRun(dbc, lessonID); err != nil || existing != nil {
		if err != nil {
			return nil, err
		}
		return c.snapshot(dbc, existing, 0)
	}

	plan, err := c.plans.GetByID(dbc, lesson.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || len(plan.Draft) == 0 {
		return nil, fmt.Errorf("%w: lesson %s has no plan draft", types.ErrInvalidState, lessonID)
	}
	var draft types.PlannerDraft
	if err := json.Unmarshal(plan.Draft, &draft); err != nil {
		return nil, fmt.Errorf("decode plan draft: %w", err)
	}
	if len(lesson.TOC) > 0 {
		if err := json.Unmarshal(lesson.TOC, &draft.TOC); err != nil {
			return nil, fmt.Errorf("decode lesson toc: %w", err)
		}
	}
	ws, err := split.Split(draft)
	if err != nil {
		return nil, err
	}

	var run *types.Run
	var planned *types.RunEvent
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.New(ctx).WithTx(tx)
		ok, err := c.lessons.UpdateFieldsIfStatus(tdbc, lessonID,
			[]types.LessonStatus{types.LessonTOCApproved, types.LessonError, types.LessonCancelled},
			map[string]interface{}{"status": types.LessonGenerating})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		run = &types.Run{
			LessonID:        lessonID,
			OwnerUserID:     lesson.OwnerUserID,
			State:           types.StateSplitting,
			TotalSubtasks:   len(ws.Subtasks),
			ContinuityHints: ws.ContinuityHints,
		}
		if _, err := c.runs.Create(tdbc, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		rows := make([]*types.Subtask, 0, len(ws.Subtasks))
		ids := make([]string, 0, len(ws.Subtasks))
		for _, st := range ws.Subtasks {
			rangeJSON, err := toJSON(st.Range)
			if err != nil {
				return err
			}
			hintsJSON, err := toJSON(st.LengthHints)
			if err != nil {
				return err
			}
			rows = append(rows, &types.Subtask{
				RunID:        run.ID,
				SubtaskID:    st.SubtaskID,
				Order:        st.Order,
				BlockID:      st.BlockID,
				Range:        rangeJSON,
				TargetTokens: st.TargetTokens,
				LengthHints:  hintsJSON,
				Status:       types.SubtaskPending,
			})
			ids = append(ids, st.SubtaskID)
		}
		if _, err := c.subtasks.Create(tdbc, rows); err != nil {
			return fmt.Errorf("create subtasks: %w", err)
		}
		if ok, err := c.runs.UpdateFieldsIfState(tdbc, run.ID, []types.State{types.StateSplitting},
			map[string]interface{}{"state": types.StateGenerating}); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("%w: run %s left splitting", types.ErrInvalidState, run.ID)
			}
			return err
		}
		run.State = types.StateGenerating
		planned, err = c.progress.Record(tdbc, run.ID, types.EventPlanned, types.AgentPlanner, map[string]any{
			"totalSubtasks":   len(ws.Subtasks),
			"subtaskIds":      ids,
			"continuityHints": ws.ContinuityHints,
		})
		return err
	})
	if errors.Is(err, errLeaseLost) {
		// Another split won; hand back its run.
		existing, lerr := c.reusableRun(dbc, lessonID)
		if lerr != nil {
			return nil, lerr
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: lesson %s cannot be split", types.ErrInvalidState, lessonID)
		}
		return c.snapshot(dbc, existing, 0)
	}
	if err != nil {
		return nil, err
	}
	c.progress.Broadcast(ctx, planned)
	c.log.Ctx(ctx).Info("Run planned", "run_id", run.ID, "lesson_id", lessonID, "subtasks", run.TotalSubtasks)
	return c.snapshot(dbc, run, 0)
}

func (c *runCoordinator) reusableRun(dbc dbctx.Context, lessonID uuid.UUID) (*types.Run, error) {
	latest, err := c.runs.GetLatestByLesson(dbc, lessonID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.State == types.StateCancelled || latest.State == types.StateError {
		return nil, nil
	}
	return latest, nil
}

func (c *runCoordinator) Start(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	dbc := dbctx.New(ctx)
	run, err := c.loadRun(dbc, runID)
	if err != nil {
		return nil, err
	}
	if !run.State.Terminal() {
		if run.State != types.StateGenerating {
			return nil, fmt.Errorf("%w: run %s is %s", types.ErrInvalidState, runID, run.State)
		}
		if c.scheduler == nil {
			return nil, fmt.Errorf("%w: no run scheduler configured", types.ErrInvalidState)
		}
		// A repeated start wakes the existing driver rather than waiting out
		// its interval.
		woke, err := c.scheduler.Nudge(ctx, runID)
		if err != nil {
			c.log.Warn("Scheduler nudge failed", "run_id", runID, "error", err)
		}
		if woke {
			c.log.Ctx(ctx).Info("Run nudged", "run_id", runID)
		} else {
			if err := c.scheduler.Schedule(ctx, runID); err != nil {
				return nil, fmt.Errorf("schedule run: %w", err)
			}
			c.log.Ctx(ctx).Info("Run scheduled", "run_id", runID)
		}
	}
	return c.snapshot(dbc, run, 0)
}

// Resume performs at most one writer call. When no subtask remains it
// assembles and completes the lesson in the same call.
func (c *runCoordinator) Resume(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	ctx, span := otel.Tracer("lessongen/run").Start(ctx, "run.resume")
	defer span.End()
	span.SetAttributes(attribute.String("lessongen.run_id", runID.String()))

	dbc := dbctx.New(ctx)
	run, err := c.loadRun(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return c.snapshot(dbc, run, 0)
	}
	if run.State != types.StateGenerating {
		return nil, fmt.Errorf("%w: run %s is %s", types.ErrInvalidState, runID, run.State)
	}

	next, err := c.subtasks.FirstIncomplete(dbc, runID)
	if err != nil {
		return nil, err
	}
	claimFor := "assemble"
	if next != nil {
		claimFor = next.SubtaskID
	}
	token := uuid.NewString()
	claimed, err := c.runs.ClaimLease(dbc, runID, token, claimFor, c.cfg.LeaseFor)
	if err != nil {
		return nil, err
	}
	if !claimed {
		cur, err := c.loadRun(dbc, runID)
		if err != nil {
			return nil, err
		}
		if cur.State.Terminal() {
			return c.snapshot(dbc, cur, 0)
		}
		return nil, fmt.Errorf("%w: run %s", types.ErrRunConflict, runID)
	}
	// Writes after this point outlive a cancelled request.
	bg := dbctx.New(ctx).Detached()
	workErr := c.advance(ctx, run, token)
	if err := c.runs.ReleaseLease(bg, runID, token); err != nil {
		c.log.Warn("Lease release failed", "run_id", runID, "error", err)
	}
	if workErr != nil {
		return nil, workErr
	}
	return c.snapshotByID(bg, runID)
}

// advance runs one step under the lease: the next subtask, then assembly once
// nothing remains.
func (c *runCoordinator) advance(ctx context.Context, run *types.Run, token string) error {
	bg := dbctx.New(ctx).Detached()
	// Another holder may have finished the subtask between the read and the claim.
	next, err := c.subtasks.FirstIncomplete(bg, run.ID)
	if err != nil {
		return err
	}
	if next != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("lessongen.subtask_id", next.SubtaskID))
		if err := c.writeSubtask(ctx, run, next, token); err != nil {
			return err
		}
		if next, err = c.subtasks.FirstIncomplete(bg, run.ID); err != nil {
			return err
		}
	}
	if next == nil {
		return c.finalize(bg.Ctx, run, token)
	}
	return nil
}

func (c *runCoordinator) writeSubtask(ctx context.Context, run *types.Run, st *types.Subtask, token string) error {
	bg := dbctx.New(ctx).Detached()
	all, err := c.subtasks.ListByRun(bg, run.ID)
	if err != nil {
		return err
	}
	lesson, err := c.lessons.GetByID(bg, run.LessonID)
	if err != nil {
		return err
	}
	if lesson == nil {
		return fmt.Errorf("%w: lesson %s", types.ErrNotFound, run.LessonID)
	}
	var toc []types.TOCChapter
	if err := json.Unmarshal(lesson.TOC, &toc); err != nil {
		return fmt.Errorf("decode lesson toc: %w", err)
	}
	spec, err := specOf(st)
	if err != nil {
		return err
	}
	var prior []string
	for _, s := range all {
		if s.Order >= st.Order || s.Status != types.SubtaskCompleted {
			continue
		}
		res, err := resultOf(s)
		if err != nil {
			return err
		}
		if res != nil {
			prior = append(prior, res.ContentChunk)
		}
	}

	ref := map[string]any{"subtaskId": st.SubtaskID, "order": st.Order, "totalSubtasks": run.TotalSubtasks}
	if _, err := c.progress.Publish(bg, run.ID, types.EventSubtaskStarted, types.AgentWriter, ref); err != nil {
		return err
	}

	res, werr := c.writer.Write(ctx, writer.Input{
		Domain:          lesson.Domain,
		TOC:             toc,
		Subtask:         spec,
		TotalSubtasks:   run.TotalSubtasks,
		Continuity:      continuity.Extract(continuity.Join(prior), c.cfg.ContinuityMaxTokens),
		ContinuityHints: run.ContinuityHints,
	})
	if werr != nil {
		if ctx.Err() != nil {
			// The caller went away; that is not an attempt against the subtask.
			c.log.Info("Subtask write abandoned", "run_id", run.ID, "subtask_id", st.SubtaskID, "error", ctx.Err())
			return fmt.Errorf("subtask %s: %w", st.SubtaskID, ctx.Err())
		}
		return c.recordFailure(bg, run, st, token, werr)
	}

	resultJSON, err := toJSON(res)
	if err != nil {
		return err
	}
	hash := assemble.Hash(res.ContentChunk)
	var done *types.RunEvent
	err = c.db.WithContext(bg.Ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := bg.WithTx(tx)
		ok, err := c.runs.AdvanceCursor(tdbc, run.ID, token, st.Order)
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if err := c.subtasks.UpdateFields(tdbc, st.ID, map[string]interface{}{
			"status":       types.SubtaskCompleted,
			"result":       resultJSON,
			"content_hash": hash,
			"last_error":   "",
		}); err != nil {
			return err
		}
		done, err = c.progress.Record(tdbc, run.ID, types.EventSubtaskComplete, types.AgentWriter, map[string]any{
			"subtaskId":     st.SubtaskID,
			"order":         st.Order,
			"totalSubtasks": run.TotalSubtasks,
			"contentHash":   hash,
			"sections":      len(res.Sections),
		})
		return err
	})
	if errors.Is(err, errLeaseLost) {
		c.log.Info("Discarding late subtask result", "run_id", run.ID, "subtask_id", st.SubtaskID)
		return nil
	}
	if err != nil {
		return err
	}
	c.progress.Broadcast(bg.Ctx, done)
	c.log.Info("Subtask completed", "run_id", run.ID, "subtask_id", st.SubtaskID, "order", st.Order)
	return nil
}

// recordFailure marks the subtask failed and leaves the run generating so the
// next resume retries only this subtask, unless attempts are exhausted.
func (c *runCoordinator) recordFailure(bg dbctx.Context, run *types.Run, st *types.Subtask, token string, werr error) error {
	var attempts int
	var failed *types.RunEvent
	err := c.db.WithContext(bg.Ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := bg.WithTx(tx)
		ok, err := c.runs.UpdateIfLeased(tdbc, run.ID, token, map[string]interface{}{"last_error": werr.Error()})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if attempts, err = c.subtasks.MarkFailed(tdbc, st.ID, werr.Error()); err != nil {
			return err
		}
		failed, err = c.progress.Record(tdbc, run.ID, types.EventSubtaskFailed, types.AgentWriter, map[string]any{
			"subtaskId":     st.SubtaskID,
			"order":         st.Order,
			"totalSubtasks": run.TotalSubtasks,
			"attempts":      attempts,
			"error":         werr.Error(),
		})
		return err
	})
	if errors.Is(err, errLeaseLost) {
		// Cancelled while writing.
		return nil
	}
	if err != nil {
		return err
	}
	c.progress.Broadcast(bg.Ctx, failed)
	c.log.Warn("Subtask failed", "run_id", run.ID, "subtask_id", st.SubtaskID, "attempts", attempts, "error", werr)

	if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
		msg := fmt.Sprintf("subtask %s failed %d times: %v", st.SubtaskID, attempts, werr)
		if err := c.failRun(bg.Ctx, run, ErrorCodeWriting, msg, types.AgentWriter, st.SubtaskID); err != nil {
			return err
		}
	}
	return werr
}

func (c *runCoordinator) finalize(ctx context.Context, run *types.Run, token string) error {
	dbc := dbctx.New(ctx)
	rows, err := c.subtasks.ListByRun(dbc, run.ID)
	if err != nil {
		return err
	}
	specs := make([]types.SubtaskSpec, 0, len(rows))
	for _, r := range rows {
		spec, err := specOf(r)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	assembled, report, err := assemble.Finalize(specs)
	var aerr *types.AssemblyError
	if errors.As(err, &aerr) {
		if ferr := c.failRun(ctx, run, ErrorCodeAssembly, aerr.Error(), types.AgentAssembler, aerr.SubtaskID); ferr != nil {
			return ferr
		}
		return err
	}
	if err != nil {
		return err
	}

	outlineJSON, err := toJSON(assembled.Outline)
	if err != nil {
		return err
	}
	sectionsJSON, err := toJSON(assembled.Sections)
	if err != nil {
		return err
	}
	warnings := make([]string, 0, len(report.Warnings()))
	for _, w := range report.Warnings() {
		warnings = append(warnings, w.Message)
	}
	warningsJSON, err := toJSON(warnings)
	if err != nil {
		return err
	}

	now := time.Now()
	var events []*types.RunEvent
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.New(ctx).WithTx(tx)
		ok, err := c.runs.UpdateIfLeased(tdbc, run.ID, token, map[string]interface{}{
			"state":        types.StateCompleted,
			"cursor_pos":   run.TotalSubtasks,
			"completed_at": now,
			"last_error":   "",
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if err := c.lessons.UpdateFields(tdbc, run.LessonID, map[string]interface{}{
			"outline":      outlineJSON,
			"sections":     sectionsJSON,
			"content":      assembled.Content,
			"content_hash": assembled.ContentHash,
			"warnings":     warningsJSON,
			"status":       types.LessonDone,
		}); err != nil {
			return err
		}
		ev, err := c.progress.Record(tdbc, run.ID, types.EventAssembled, types.AgentAssembler, map[string]any{
			"contentHash": assembled.ContentHash,
			"sections":    len(assembled.Sections),
			"warnings":    warnings,
		})
		if err != nil {
			return err
		}
		events = append(events, ev)
		ev, err = c.progress.Record(tdbc, run.ID, types.EventCompleted, types.AgentAssembler, map[string]any{
			"lessonId":      run.LessonID,
			"contentHash":   assembled.ContentHash,
			"totalSubtasks": run.TotalSubtasks,
		})
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if errors.Is(err, errLeaseLost) {
		return nil
	}
	if err != nil {
		return err
	}
	c.progress.Broadcast(ctx, events...)
	c.log.Info("Run completed", "run_id", run.ID, "lesson_id", run.LessonID, "content_hash", assembled.ContentHash)

	if lesson, err := c.lessons.GetByID(dbc, run.LessonID); err == nil && lesson != nil {
		done := *run
		done.State = types.StateCompleted
		done.CompletedAt = &now
		go c.notifier.RunDone(ctx, &done, lesson)
	}
	return nil
}

// failRun moves a live run to error and records the closing event.
func (c *runCoordinator) failRun(ctx context.Context, run *types.Run, code, msg string, agent types.Agent, subtaskID string) error {
	var ev *types.RunEvent
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.New(ctx).WithTx(tx)
		ok, err := c.runs.UpdateFieldsIfState(tdbc, run.ID, []types.State{types.StateSplitting, types.StateGenerating}, map[string]interface{}{
			"state":      types.StateError,
			"error_code": code,
			"last_error": msg,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if err := c.lessons.UpdateFields(tdbc, run.LessonID, map[string]interface{}{"status": types.LessonError}); err != nil {
			return err
		}
		ev, err = c.progress.Record(tdbc, run.ID, types.EventError, agent, map[string]any{
			"code":      code,
			"message":   msg,
			"subtaskId": subtaskID,
		})
		return err
	})
	if errors.Is(err, errLeaseLost) {
		return nil
	}
	if err != nil {
		return err
	}
	c.progress.Broadcast(ctx, ev)
	c.log.Error("Run failed", "run_id", run.ID, "code", code, "error", msg)
	failed := *run
	failed.State = types.StateError
	go c.notifier.RunFailed(ctx, &failed, code, msg)
	return nil
}

// Cancel is one-way and allowed from any state, completed included; a repeat
// cancel returns the snapshot. A late writer result for a cancelled run is
// discarded because the lease token is cleared here.
func (c *runCoordinator) Cancel(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	dbc := dbctx.New(ctx)
	run, err := c.loadRun(dbc, runID)
	if err != nil {
		return nil, err
	}
	if !types.CanTransition(run.State, types.StateCancelled) {
		return c.snapshot(dbc, run, 0)
	}

	var ev *types.RunEvent
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tdbc := dbctx.New(ctx).WithTx(tx)
		ok, err := c.runs.UpdateFieldsUnlessState(tdbc, runID, []types.State{types.StateCancelled}, map[string]interface{}{
			"state":                 types.StateCancelled,
			"processing":            false,
			"processing_subtask_id": "",
			"lease_token":           "",
			"lease_until":           nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if err := c.lessons.UpdateFields(tdbc, run.LessonID, map[string]interface{}{"status": types.LessonCancelled}); err != nil {
			return err
		}
		ev, err = c.progress.Record(tdbc, runID, types.EventCancelled, "", map[string]any{"previousState": run.State})
		return err
	})
	if errors.Is(err, errLeaseLost) {
		// A concurrent cancel won.
		return c.snapshotByID(dbc, runID)
	}
	if err != nil {
		return nil, err
	}
	c.progress.Broadcast(ctx, ev)
	if c.scheduler != nil {
		if err := c.scheduler.Stop(ctx, runID); err != nil {
			c.log.Warn("Scheduler stop failed", "run_id", runID, "error", err)
		}
	}
	c.log.Ctx(ctx).Info("Run cancelled", "run_id", runID)
	return c.snapshotByID(dbc, runID)
}

func (c *runCoordinator) Get(ctx context.Context, runID uuid.UUID, afterSeq int64) (*RunSnapshot, error) {
	dbc := dbctx.New(ctx)
	run, err := c.loadRun(dbc, runID)
	if err != nil {
		return nil, err
	}
	return c.snapshot(dbc, run, afterSeq)
}

func (c *runCoordinator) Step(ctx context.Context, runID uuid.UUID) (bool, error) {
	snap, err := c.Resume(ctx, runID)
	if err == nil {
		return snap.Run.State.Terminal(), nil
	}
	run, lerr := c.runs.GetByID(dbctx.New(ctx).Detached(), runID)
	if lerr != nil {
		return false, lerr
	}
	if run == nil {
		return true, err
	}
	if run.State.Terminal() {
		return true, nil
	}
	if errors.Is(err, types.ErrRunConflict) || errors.Is(err, types.ErrWritingFailed) {
		return false, nil
	}
	return false, err
}

func (c *runCoordinator) loadRun(dbc dbctx.Context, runID uuid.UUID) (*types.Run, error) {
	run, err := c.runs.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run == nil || !ownerAllowed(dbc.Ctx, run.OwnerUserID) {
		return nil, fmt.Errorf("%w: run %s", types.ErrNotFound, runID)
	}
	return run, nil
}

func (c *runCoordinator) snapshotByID(dbc dbctx.Context, runID uuid.UUID) (*RunSnapshot, error) {
	run, err := c.runs.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s", types.ErrNotFound, runID)
	}
	return c.snapshot(dbc, run, 0)
}

func (c *runCoordinator) snapshot(dbc dbctx.Context, run *types.Run, afterSeq int64) (*RunSnapshot, error) {
	rows, err := c.subtasks.ListByRun(dbc, run.ID)
	if err != nil {
		return nil, err
	}
	events, err := c.progress.Events(dbc, run.ID, afterSeq)
	if err != nil {
		return nil, err
	}
	snap := &RunSnapshot{
		Run:      run,
		Subtasks: make([]SubtaskView, 0, len(rows)),
		Progress: Progress{Total: run.TotalSubtasks},
		Events:   events,
		LastSeq:  afterSeq,
	}
	if len(events) > 0 {
		snap.LastSeq = events[len(events)-1].Seq
	}
	for _, r := range rows {
		var rg types.SubtaskRange
		if len(r.Range) > 0 {
			if err := json.Unmarshal(r.Range, &rg); err != nil {
				return nil, fmt.Errorf("decode subtask range: %w", err)
			}
		}
		if r.Status == types.SubtaskCompleted {
			snap.Progress.Completed++
		}
		snap.Subtasks = append(snap.Subtasks, SubtaskView{
			SubtaskID:    r.SubtaskID,
			Order:        r.Order,
			BlockID:      r.BlockID,
			Range:        rg,
			TargetTokens: r.TargetTokens,
			Status:       r.Status,
			Attempts:     r.Attempts,
			ContentHash:  r.ContentHash,
			LastError:    r.LastError,
		})
	}
	if run.State == types.StateCompleted {
		if snap.Lesson, err = c.lessons.GetByID(dbc, run.LessonID); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func specOf(st *types.Subtask) (types.SubtaskSpec, error) {
	spec := types.SubtaskSpec{
		SubtaskID:    st.SubtaskID,
		Order:        st.Order,
		BlockID:      st.BlockID,
		TargetTokens: st.TargetTokens,
		Status:       st.Status,
	}
	if len(st.Range) > 0 {
		if err := json.Unmarshal(st.Range, &spec.Range); err != nil {
			return spec, fmt.Errorf("decode range of %s: %w", st.SubtaskID, err)
		}
	}
	if len(st.LengthHints) > 0 {
		if err := json.Unmarshal(st.LengthHints, &spec.LengthHints); err != nil {
			return spec, fmt.Errorf("decode length hints of %s: %w", st.SubtaskID, err)
		}
	}
	res, err := resultOf(st)
	if err != nil {
		return spec, err
	}
	spec.Result = res
	return spec, nil
}

func resultOf(st *types.Subtask) (*types.SubtaskResult, error) {
	if len(st.Result) == 0 || string(st.Result) == "null" {
		return nil, nil
	}
	var res types.SubtaskResult
	if err := json.Unmarshal(st.Result, &res); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", st.SubtaskID, err)
	}
	return &res, nil
}
