package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	"github.com/yungbote/lessongen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/realtime"
)

func drain(t *testing.T, ch <-chan realtime.Message) []realtime.Message {
	t.Helper()
	var out []realtime.Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("stream did not close; got %d messages", len(out))
		}
	}
}

func assertDense(t *testing.T, msgs []realtime.Message, from int64) {
	t.Helper()
	for i, m := range msgs {
		if m.Seq != from+int64(i) {
			t.Fatalf("message %d: seq %d, want %d", i, m.Seq, from+int64(i))
		}
	}
}

func TestSubscribeReplaysFinishedRun(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID
	for i := 0; i < 2; i++ {
		if _, err := h.coord.Resume(ctx, runID); err != nil {
			t.Fatalf("Resume: %v", err)
		}
	}

	ch, err := h.progress.Subscribe(ctx, uuid.Nil, runID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	msgs := drain(t, ch)
	if len(msgs) != 7 || msgs[6].Event != string(types.EventCompleted) {
		t.Fatalf("replay: %d messages", len(msgs))
	}
	assertDense(t, msgs, 1)

	ch, err = h.progress.Subscribe(ctx, uuid.Nil, runID, 3)
	if err != nil {
		t.Fatalf("Subscribe after 3: %v", err)
	}
	msgs = drain(t, ch)
	if len(msgs) != 4 {
		t.Fatalf("resume from seq 3: %d messages", len(msgs))
	}
	assertDense(t, msgs, 4)
}

func TestSubscribeFollowsLiveRun(t *testing.T) {
	h := newHarness(t, RunConfig{})
	ctx := context.Background()
	runID := h.split(t).Run.ID

	ch, err := h.progress.Subscribe(ctx, uuid.Nil, runID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	go func() {
		for i := 0; i < 2; i++ {
			if _, err := h.coord.Resume(ctx, runID); err != nil {
				t.Errorf("Resume: %v", err)
				return
			}
		}
	}()
	msgs := drain(t, ch)
	if len(msgs) != 7 {
		t.Fatalf("live stream: %d messages", len(msgs))
	}
	assertDense(t, msgs, 1)
	if msgs[0].Event != string(types.EventPlanned) || msgs[6].Event != string(types.EventCompleted) {
		t.Fatalf("first=%s last=%s", msgs[0].Event, msgs[6].Event)
	}
}

type strippingEmitter struct{ hub *realtime.Hub }

func (e *strippingEmitter) Emit(ctx context.Context, msg realtime.Message) {
	msg.Data = nil
	e.hub.Broadcast(msg)
}

func TestSubscribeRefetchesStrippedEvents(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	draft := testutil.SampleDraft()
	plan := testutil.SeedPlan(t, ctx, db, uuid.New(), draft)
	lesson := testutil.SeedLesson(t, ctx, db, plan, draft)
	run, _ := testutil.SeedRun(t, ctx, db, lesson.ID, []types.SubtaskSpec{{SubtaskID: "subtask-1", Order: 1}})

	hub := realtime.NewHub(log)
	runs := repos.NewRunRepo(db, log)
	pc := NewProgressChannel(log, hub, &strippingEmitter{hub: hub}, repos.NewRunEventRepo(db, log), runs)

	ch, err := pc.Subscribe(ctx, uuid.Nil, run.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	dbc := dbctx.Context{Ctx: ctx}
	for _, typ := range []types.EventType{types.EventSubtaskStarted, types.EventSubtaskComplete, types.EventCompleted} {
		if _, err := pc.Publish(dbc, run.ID, typ, types.AgentWriter, map[string]any{"subtaskId": "subtask-1"}); err != nil {
			t.Fatalf("Publish %s: %v", typ, err)
		}
	}
	msgs := drain(t, ch)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	assertDense(t, msgs, 1)
	for _, m := range msgs {
		data, ok := m.Data.(map[string]any)
		if !ok || data["subtaskId"] != "subtask-1" {
			t.Fatalf("seq %d delivered without body: %#v", m.Seq, m.Data)
		}
	}
}
