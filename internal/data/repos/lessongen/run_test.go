package lessongen

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
)

func seedRun(t *testing.T) (dbctx.Context, RunRepo, SubtaskRepo, *types.Run, []*types.Subtask) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	draft := testutil.SampleDraft()
	plan := testutil.SeedPlan(t, ctx, tx, uuid.New(), draft)
	lesson := testutil.SeedLesson(t, ctx, tx, plan, draft)
	run, subs := testutil.SeedRun(t, ctx, tx, lesson.ID, []types.SubtaskSpec{
		{SubtaskID: "subtask-1", Order: 1},
		{SubtaskID: "subtask-2", Order: 2},
	})
	log := testutil.Logger(t)
	return dbctx.Context{Ctx: ctx, Tx: tx}, NewRunRepo(db, log), NewSubtaskRepo(db, log), run, subs
}

func TestRunLeaseIsExclusive(t *testing.T) {
	dbc, runs, _, run, _ := seedRun(t)

	ok, err := runs.ClaimLease(dbc, run.ID, "tok-a", "subtask-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = runs.ClaimLease(dbc, run.ID, "tok-b", "subtask-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}

	// Releasing with the wrong token is a no-op.
	if err := runs.ReleaseLease(dbc, run.ID, "tok-b"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	got, _ := runs.GetByID(dbc, run.ID)
	if !got.Processing || got.ProcessingSubtaskID != "subtask-1" {
		t.Fatalf("lease lost: %+v", got)
	}

	if err := runs.ReleaseLease(dbc, run.ID, "tok-a"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	ok, err = runs.ClaimLease(dbc, run.ID, "tok-b", "subtask-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim after release: ok=%v err=%v", ok, err)
	}
}

func TestRunLeaseExpires(t *testing.T) {
	dbc, runs, _, run, _ := seedRun(t)
	if ok, _ := runs.ClaimLease(dbc, run.ID, "tok-a", "subtask-1", time.Minute); !ok {
		t.Fatalf("claim failed")
	}
	if err := runs.UpdateFields(dbc, run.ID, map[string]interface{}{"lease_until": time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if ok, _ := runs.ClaimLease(dbc, run.ID, "tok-b", "subtask-1", time.Minute); !ok {
		t.Fatalf("expired lease should be claimable")
	}
	// The stale holder can no longer advance the cursor.
	if ok, _ := runs.AdvanceCursor(dbc, run.ID, "tok-a", 1); ok {
		t.Fatalf("stale token advanced cursor")
	}
	if ok, _ := runs.AdvanceCursor(dbc, run.ID, "tok-b", 1); !ok {
		t.Fatalf("holder could not advance cursor")
	}
}

func TestRunCancelledRejectsClaimAndAdvance(t *testing.T) {
	dbc, runs, _, run, _ := seedRun(t)
	if ok, _ := runs.ClaimLease(dbc, run.ID, "tok", "subtask-1", time.Minute); !ok {
		t.Fatalf("claim failed")
	}
	ok, err := runs.UpdateFieldsUnlessState(dbc, run.ID, []types.State{types.StateCompleted, types.StateCancelled}, map[string]interface{}{
		"state": types.StateCancelled,
	})
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	if ok, _ := runs.AdvanceCursor(dbc, run.ID, "tok", 1); ok {
		t.Fatalf("cancelled run advanced")
	}
	if err := runs.ReleaseLease(dbc, run.ID, "tok"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	if ok, _ := runs.ClaimLease(dbc, run.ID, "tok2", "subtask-1", time.Minute); ok {
		t.Fatalf("cancelled run claimed")
	}
	// A second cancel is a no-op.
	ok, _ = runs.UpdateFieldsUnlessState(dbc, run.ID, []types.State{types.StateCompleted, types.StateCancelled}, map[string]interface{}{
		"state": types.StateCancelled,
	})
	if ok {
		t.Fatalf("second cancel changed a row")
	}
}

func TestRunListResumable(t *testing.T) {
	dbc, runs, _, run, _ := seedRun(t)
	list, err := runs.ListResumable(dbc, 10)
	if err != nil || len(list) != 1 || list[0].ID != run.ID {
		t.Fatalf("ListResumable: %v %v", list, err)
	}
	_, _ = runs.ClaimLease(dbc, run.ID, "tok", "subtask-1", time.Minute)
	list, _ = runs.ListResumable(dbc, 10)
	if len(list) != 0 {
		t.Fatalf("leased run listed")
	}
}

func TestSubtaskFirstIncompleteAndFailures(t *testing.T) {
	dbc, _, subs, run, rows := seedRun(t)

	first, err := subs.FirstIncomplete(dbc, run.ID)
	if err != nil || first == nil || first.SubtaskID != "subtask-1" {
		t.Fatalf("FirstIncomplete: %+v %v", first, err)
	}
	if err := subs.UpdateFields(dbc, rows[0].ID, map[string]interface{}{"status": types.SubtaskCompleted}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	n, err := subs.MarkFailed(dbc, rows[1].ID, "boom")
	if err != nil || n != 1 {
		t.Fatalf("MarkFailed: n=%d err=%v", n, err)
	}
	n, _ = subs.MarkFailed(dbc, rows[1].ID, "boom again")
	if n != 2 {
		t.Fatalf("attempts: %d", n)
	}
	next, _ := subs.FirstIncomplete(dbc, run.ID)
	if next == nil || next.SubtaskID != "subtask-2" || next.Status != types.SubtaskFailed {
		t.Fatalf("failed subtask should be next: %+v", next)
	}
	// Completed subtasks are never downgraded.
	_, _ = subs.MarkFailed(dbc, rows[0].ID, "late")
	list, _ := subs.ListByRun(dbc, run.ID)
	if list[0].Status != types.SubtaskCompleted {
		t.Fatalf("completed subtask downgraded")
	}
	_ = subs.UpdateFields(dbc, rows[1].ID, map[string]interface{}{"status": types.SubtaskCompleted})
	if done, _ := subs.FirstIncomplete(dbc, run.ID); done != nil {
		t.Fatalf("expected none incomplete, got %+v", done)
	}
}
