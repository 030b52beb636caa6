package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	"github.com/yungbote/lessongen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/assemble"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/writer"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/realtime"
)

type fakeWriter struct {
	mu     sync.Mutex
	calls  map[string]int
	inputs []writer.Input
	// fail[subtaskID] is how many calls for that subtask fail before one succeeds;
	// a negative value fails forever.
	fail   map[string]int
	during func(in writer.Input)
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{calls: map[string]int{}, fail: map[string]int{}}
}

func chunkFor(id string) string {
	return fmt.Sprintf("<h2>%s</h2>\n<p>%s</p>", id, strings.Repeat("Fractions describe parts of a whole. ", 3))
}

func (f *fakeWriter) Write(ctx context.Context, in writer.Input) (types.SubtaskResult, error) {
	id := in.Subtask.SubtaskID
	f.mu.Lock()
	f.calls[id]++
	f.inputs = append(f.inputs, in)
	left := f.fail[id]
	if left > 0 {
		f.fail[id] = left - 1
	}
	hook := f.during
	f.mu.Unlock()

	if hook != nil {
		hook(in)
	}
	if left != 0 {
		return types.SubtaskResult{}, fmt.Errorf("%w: %s: model unavailable", types.ErrWritingFailed, id)
	}
	return types.SubtaskResult{
		OutlineDelta: []string{"Part " + id},
		Sections:     []types.LessonSection{{ID: "sec-" + id, Title: "Part " + id, HTML: chunkFor(id)}},
		ContentChunk: chunkFor(id),
	}, nil
}

func (f *fakeWriter) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type harness struct {
	db       *gorm.DB
	coord    RunCoordinator
	progress ProgressChannel
	runs     repos.RunRepo
	subtasks repos.SubtaskRepo
	lessons  repos.LessonRepo
	writer   *fakeWriter
	lesson   *types.Lesson
}

func newHarness(t *testing.T, cfg RunConfig) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	plans := repos.NewPlanRepo(db, log)
	lessons := repos.NewLessonRepo(db, log)
	runs := repos.NewRunRepo(db, log)
	subtasks := repos.NewSubtaskRepo(db, log)
	events := repos.NewRunEventRepo(db, log)
	hub := realtime.NewHub(log)
	progress := NewProgressChannel(log, hub, nil, events, runs)

	draft := testutil.SampleDraft()
	plan := testutil.SeedPlan(t, ctx, db, uuid.New(), draft)
	lesson := testutil.SeedLesson(t, ctx, db, plan, draft)

	w := newFakeWriter()
	coord := NewRunCoordinator(db, log, cfg, w, progress, nil, plans, lessons, runs, subtasks)
	return &harness{db: db, coord: coord, progress: progress, runs: runs, subtasks: subtasks, lessons: lessons, writer: w, lesson: lesson}
}

func (h *harness) split(t *testing.T) *RunSnapshot {
	t.Helper()
	snap, err := h.coord.Split(context.Background(), h.lesson.ID)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return snap
}

func eventTypes(evs []*types.RunEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, string(ev.Type))
	}
	return out
}

func TestRunCompletesOneSubtaskPerResume(t *testing.T) {
	h := newHarness(t, RunConfig{MaxAttempts: 3})
	ctx := context.Background()
	snap := h.split(t)
	runID := snap.Run.ID

	if snap.Run.State != types.StateGenerating || snap.Progress.Total != 2 {
		t.Fatalf("after split: state=%s progress=%+v", snap.Run.State, snap.Progress)
	}

	snap, err := h.coord.Resume(ctx, runID)
	if err != nil {
		t.Fatalf("Resume #1: %v", err)
	}
	if snap.Run.State != types.StateGenerating || snap.Progress.Completed != 1 || snap.Run.Cursor != 1 {
		t.Fatalf("after first resume: state=%s progress=%+v cursor=%d", snap.Run.State, snap.Progress, snap.Run.Cursor)
	}
	if snap.Run.Processing {
		t.Fatalf("lease not released")
	}

	snap, err = h.coord.Resume(ctx, runID)
	if err != nil {
		t.Fatalf("Resume #2: %v", err)
	}
	if snap.Run.State != types.StateCompleted || snap.Lesson == nil {
		t.Fatalf("run not completed: %+v", snap.Run)
	}
	want := assemble.Hash(chunkFor("subtask-1") + "\n\n" + chunkFor("subtask-2"))
	if snap.Lesson.ContentHash != want || snap.Lesson.Status != types.LessonDone {
		t.Fatalf("lesson: status=%s hash=%s", snap.Lesson.Status, snap.Lesson.ContentHash)
	}

	got := strings.Join(eventTypes(snap.Events), ",")
	if got != "planned,subtask_started,subtask_complete,subtask_started,subtask_complete,assembled,completed" {
		t.Fatalf("events: %s", got)
	}
	for i, ev := range snap.Events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}

	if len(h.writer.inputs) != 2 {
		t.Fatalf("writer calls: %d", len(h.writer.inputs))
	}
	if h.writer.inputs[0].Continuity != "" {
		t.Fatalf("first subtask got continuity %q", h.writer.inputs[0].Continuity)
	}
	if !strings.Contains(h.writer.inputs[1].Continuity, "parts of a whole") {
		t.Fatalf("second subtask continuity: %q", h.writer.inputs[1].Continuity)
	}

	// Terminal runs answer with their snapshot and do no work.
	snap, err = h.coord.Resume(ctx, runID)
	if err != nil || snap.Run.State != types.StateCompleted {
		t.Fatalf("resume after completion: err=%v", err)
	}
	if len(h.writer.inputs) != 2 {
		t.Fatalf("terminal resume called the writer")
	}
}

func TestRunRetriesOnlyFailedSubtask(t *testing.T) {
	h := newHarness(t, RunConfig{MaxAttempts: 3})
	ctx := context.Background()
	h.writer.fail["subtask-2"] = 1
	runID := h.split(t).Run.ID

	if _, err := h.coord.Resume(ctx, runID); err != nil {
		t.Fatalf("Resume #1: %v", err)
	}
	_, err := h.coord.Resume(ctx, runID)
	if !errors.Is(err, types.ErrWritingFailed) {
		t.Fatalf("Resume #2: want ErrWritingFailed, got %v", err)
	}
	snap, err := h.coord.Get(ctx, runID, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Run.State != types.StateGenerating || snap.Subtasks[1].Status != types.SubtaskFailed || snap.Subtasks[1].Attempts != 1 {
		t.Fatalf("after failure: run=%s subtask=%+v", snap.Run.State, snap.Subtasks[1])
	}
	if snap.Subtasks[0].Status != types.SubtaskCompleted {
		t.Fatalf("completed subtask changed: %+v", snap.Subtasks[0])
	}

	snap, err = h.coord.Resume(ctx, runID)
	if err != nil {
		t.Fatalf("Resume #3: %v", err)
	}
	if snap.Run.State != types.StateCompleted {
		t.Fatalf("run: %s", snap.Run.State)
	}
	if h.writer.count("subtask-1") != 1 || h.writer.count("subtask-2") != 2 {
		t.Fatalf("calls: %v", h.writer.calls)
	}
}

func TestRunErrorsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, RunConfig{MaxAttempts: 2})
	ctx := context.Background()
	h.writer.fail["subtask-1"] = -1
	runID := h.split(t).Run.ID

	for i := 0; i < 2; i++ {
		if _, err := h.coord.Resume(ctx, runID); !errors.Is(err, types.ErrWritingFailed) {
			t.Fatalf("Resume #%d: %v", i+1, err)
		}
	}
	snap, err := h.coord.Resume(ctx, runID)
	if err != nil {
		t.Fatalf("resume of errored run: %v", err)
	}
	if snap.Run.State != types.StateError || snap.Run.ErrorCode != ErrorCodeWriting {
		t.Fatalf("run: state=%s code=%s", snap.Run.State, snap.Run.ErrorCode)
	}
	if last := snap.Events[len(snap.Events)-1]; last.Type != types.EventError {
		t.Fatalf("last event: %s", last.Type)
	}
	if h.writer.count("subtask-1") != 2 {
		t.Fatalf("writer calls: %d", h.writer.count("subtask-1"))
	}
	lesson, _ := h.lessons.GetByID(dbctx.Context{Ctx: ctx}, h.lesson.ID)
	if lesson.Status != types.LessonError {
		t.Fatalf("lesson status: %s", lesson.Status)
	}

	// An errored run can be split again into a fresh run.
	again := h.split(t)
	if again.Run.ID == runID || again.Run.State != types.StateGenerating {
		t.Fatalf("resplit: %+v", again.Run)
	}
}

func TestConcurrentResumeConflicts(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID

	if ok, err := h.runs.ClaimLease(dbctx.Context{Ctx: ctx}, runID, "other-holder", "subtask-1", time.Minute); err != nil || !ok {
		t.Fatalf("ClaimLease: ok=%v err=%v", ok, err)
	}
	_, err := h.coord.Resume(ctx, runID)
	if !errors.Is(err, types.ErrRunConflict) {
		t.Fatalf("want ErrRunConflict, got %v", err)
	}
	if len(h.writer.inputs) != 0 {
		t.Fatalf("writer called during conflict")
	}
	run, _ := h.runs.GetByID(dbctx.Context{Ctx: ctx}, runID)
	if run.State != types.StateGenerating || run.LeaseToken != "other-holder" {
		t.Fatalf("conflict disturbed the run: %+v", run)
	}
	done, err := h.coord.Step(ctx, runID)
	if done || err != nil {
		t.Fatalf("Step during conflict: done=%v err=%v", done, err)
	}
}

func TestCancelDiscardsLateWrite(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID

	h.writer.during = func(in writer.Input) {
		if _, err := h.coord.Cancel(ctx, runID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}
	snap, err := h.coord.Resume(ctx, runID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if snap.Run.State != types.StateCancelled || snap.Run.Processing {
		t.Fatalf("run: state=%s processing=%v", snap.Run.State, snap.Run.Processing)
	}
	if snap.Subtasks[0].Status != types.SubtaskPending || snap.Progress.Completed != 0 {
		t.Fatalf("late write persisted: %+v", snap.Subtasks[0])
	}
	for _, ev := range snap.Events {
		if ev.Type == types.EventSubtaskComplete {
			t.Fatalf("late write emitted subtask_complete")
		}
	}
	if last := snap.Events[len(snap.Events)-1]; last.Type != types.EventCancelled {
		t.Fatalf("last event: %s", last.Type)
	}

	h.writer.during = nil
	if _, err := h.coord.Cancel(ctx, runID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if _, err := h.coord.Resume(ctx, runID); err != nil {
		t.Fatalf("Resume of cancelled run: %v", err)
	}
	if h.writer.count("subtask-1") != 1 {
		t.Fatalf("writer called after cancel")
	}
}

func TestCancelCompletedRun(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID
	for i := 0; i < 2; i++ {
		if _, err := h.coord.Resume(ctx, runID); err != nil {
			t.Fatalf("Resume: %v", err)
		}
	}
	snap, err := h.coord.Cancel(ctx, runID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if snap.Run.State != types.StateCancelled {
		t.Fatalf("state: want=cancelled got=%s", snap.Run.State)
	}
	lesson, err := h.lessons.GetByID(dbctx.New(ctx), h.lesson.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if lesson.Status != types.LessonCancelled {
		t.Fatalf("lesson status: want=%s got=%s", types.LessonCancelled, lesson.Status)
	}

	again, err := h.coord.Cancel(ctx, runID)
	if err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}
	if again.Run.State != types.StateCancelled {
		t.Fatalf("repeat state: %s", again.Run.State)
	}

	evs, err := h.progress.Events(dbctx.New(ctx), runID, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	cancelled := 0
	for _, ev := range evs {
		if ev.Type == types.EventCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Fatalf("cancelled events: want=1 got=%d (%v)", cancelled, eventTypes(evs))
	}
	if last := evs[len(evs)-1]; last.Type != types.EventCancelled {
		t.Fatalf("last event: want=cancelled got=%s", last.Type)
	}
}

func TestSplitIsIdempotent(t *testing.T) {
	h := newHarness(t, RunConfig{})
	first := h.split(t)
	second := h.split(t)
	if first.Run.ID != second.Run.ID {
		t.Fatalf("split created a second run")
	}
	if len(second.Subtasks) != 2 || second.Subtasks[0].SubtaskID != "subtask-1" {
		t.Fatalf("subtasks: %+v", second.Subtasks)
	}
}

func TestStepReportsDone(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID
	steps := 0
	for {
		done, err := h.coord.Step(ctx, runID)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		steps++
		if done {
			break
		}
		if steps > 5 {
			t.Fatalf("run never finished")
		}
	}
	if steps != 2 {
		t.Fatalf("steps: %d", steps)
	}
}

func TestOwnerMismatchIsNotFound(t *testing.T) {
	h := newHarness(t, RunConfig{})
	runID := h.split(t).Run.ID
	if err := h.runs.UpdateFields(dbctx.Context{Ctx: context.Background()}, runID, map[string]interface{}{"owner_user_id": uuid.New()}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	ctx := withUser(uuid.New())
	if _, err := h.coord.Get(ctx, runID, 0); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

type fakeScheduler struct {
	mu        sync.Mutex
	active    map[uuid.UUID]bool
	scheduled int
	nudged    int
	stopped   int
}

func (f *fakeScheduler) Schedule(ctx context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[runID] = true
	f.scheduled++
	return nil
}

func (f *fakeScheduler) Nudge(ctx context.Context, runID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[runID] {
		return false, nil
	}
	f.nudged++
	return true, nil
}

func (f *fakeScheduler) Stop(ctx context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, runID)
	f.stopped++
	return nil
}

func TestStartSchedulesOnceThenNudges(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID

	if _, err := h.coord.Start(ctx, runID); !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("start without scheduler: want ErrInvalidState, got %v", err)
	}

	sched := &fakeScheduler{active: map[uuid.UUID]bool{}}
	h.coord.SetScheduler(sched)
	if _, err := h.coord.Start(ctx, runID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.coord.Start(ctx, runID); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if sched.scheduled != 1 || sched.nudged != 1 {
		t.Fatalf("want one schedule and one nudge, got scheduled=%d nudged=%d", sched.scheduled, sched.nudged)
	}

	if _, err := h.coord.Cancel(ctx, runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if sched.stopped != 1 || sched.active[runID] {
		t.Fatalf("cancel did not stop the driver: stopped=%d", sched.stopped)
	}
	if _, err := h.coord.Start(ctx, runID); err != nil {
		t.Fatalf("Start on cancelled run: %v", err)
	}
	if sched.scheduled != 1 {
		t.Fatalf("cancelled run was rescheduled")
	}
}

func TestAbandonedResumeDoesNotCountAttempt(t *testing.T) {
	h := newHarness(t, RunConfig{MaxAttempts: 1})
	runID := h.split(t).Run.ID

	ctx, cancel := context.WithCancel(context.Background())
	h.writer.fail["subtask-1"] = 1
	h.writer.during = func(in writer.Input) { cancel() }
	if _, err := h.coord.Resume(ctx, runID); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	h.writer.during = nil

	bg := context.Background()
	rows, err := h.subtasks.ListByRun(dbctx.New(bg), runID)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if rows[0].Attempts != 0 || rows[0].Status == types.SubtaskFailed {
		t.Fatalf("abandoned write counted: attempts=%d status=%s", rows[0].Attempts, rows[0].Status)
	}

	snap, err := h.coord.Resume(bg, runID)
	if err != nil {
		t.Fatalf("Resume after abandon: %v", err)
	}
	if snap.Run.State != types.StateGenerating || snap.Progress.Completed != 1 {
		t.Fatalf("want subtask-1 done and run generating, got state=%s completed=%d", snap.Run.State, snap.Progress.Completed)
	}
	evs, err := h.progress.Events(dbctx.New(bg), runID, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	for _, ev := range evs {
		if ev.Type == types.EventSubtaskFailed {
			t.Fatalf("abandoned write recorded a failure: %v", eventTypes(evs))
		}
	}
}
