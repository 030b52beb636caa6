package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime"
	"github.com/yungbote/lessongen-backend/internal/realtime/bus"
)

// Emitter pushes a persisted event to live subscribers.
type Emitter interface {
	Emit(ctx context.Context, msg realtime.Message)
}

type HubEmitter struct{ Hub *realtime.Hub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.Message) {
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes to the cross-process bus; each process's forwarder
// feeds its own hub.
type BusEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *BusEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("Progress bus publish failed", "run_id", msg.RunID, "seq", msg.Seq, "error", err)
	}
}

// ProgressChannel records run events durably and delivers them live. The
// store is the source of truth; live delivery only wakes subscribers up.
type ProgressChannel interface {
	// Record persists an event, inside dbc.Tx when one is set. Call Broadcast
	// after the transaction commits.
	Record(dbc dbctx.Context, runID uuid.UUID, typ types.EventType, agent types.Agent, data map[string]any) (*types.RunEvent, error)
	Broadcast(ctx context.Context, events ...*types.RunEvent)
	Publish(dbc dbctx.Context, runID uuid.UUID, typ types.EventType, agent types.Agent, data map[string]any) (*types.RunEvent, error)
	Events(dbc dbctx.Context, runID uuid.UUID, afterSeq int64) ([]*types.RunEvent, error)
	Subscribe(ctx context.Context, userID uuid.UUID, runID uuid.UUID, afterSeq int64) (<-chan realtime.Message, error)
}

type progressChannel struct {
	log    *logger.Logger
	hub    *realtime.Hub
	emit   Emitter
	events repos.RunEventRepo
	runs   repos.RunRepo
}

func NewProgressChannel(baseLog *logger.Logger, hub *realtime.Hub, emit Emitter, events repos.RunEventRepo, runs repos.RunRepo) ProgressChannel {
	if emit == nil {
		emit = &HubEmitter{Hub: hub}
	}
	return &progressChannel{
		log:    baseLog.With("service", "ProgressChannel"),
		hub:    hub,
		emit:   emit,
		events: events,
		runs:   runs,
	}
}

func (p *progressChannel) Record(dbc dbctx.Context, runID uuid.UUID, typ types.EventType, agent types.Agent, data map[string]any) (*types.RunEvent, error) {
	var raw datatypes.JSON
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", typ, err)
		}
		raw = datatypes.JSON(b)
	}
	return p.events.Append(dbc, &types.RunEvent{RunID: runID, Type: typ, Agent: agent, Data: raw})
}

func (p *progressChannel) Broadcast(ctx context.Context, events ...*types.RunEvent) {
	for _, ev := range events {
		if ev == nil {
			continue
		}
		p.emit.Emit(ctx, toMessage(ev))
	}
}

func (p *progressChannel) Publish(dbc dbctx.Context, runID uuid.UUID, typ types.EventType, agent types.Agent, data map[string]any) (*types.RunEvent, error) {
	ev, err := p.Record(dbc, runID, typ, agent, data)
	if err != nil {
		return nil, err
	}
	p.Broadcast(dbc.Ctx, ev)
	return ev, nil
}

func (p *progressChannel) Events(dbc dbctx.Context, runID uuid.UUID, afterSeq int64) ([]*types.RunEvent, error) {
	var out []*types.RunEvent
	for {
		page, err := p.events.ListAfter(dbc, runID, afterSeq, 500)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < 500 {
			return out, nil
		}
		afterSeq = page[len(page)-1].Seq
	}
}

// Subscribe returns every event with seq > afterSeq in order, then live
// events, and closes after a closing event, on ctx end, or when the hub drops
// the subscriber. Subscribing happens before the replay read so nothing falls
// between the two.
func (p *progressChannel) Subscribe(ctx context.Context, userID uuid.UUID, runID uuid.UUID, afterSeq int64) (<-chan realtime.Message, error) {
	client := p.hub.NewClient(userID)
	p.hub.AddChannel(client, realtime.RunChannel(runID))

	dbc := dbctx.New(ctx)
	backlog, err := p.Events(dbc, runID, afterSeq)
	if err != nil {
		p.hub.CloseClient(client)
		return nil, err
	}

	out := make(chan realtime.Message, 16)
	go func() {
		defer close(out)
		defer p.hub.CloseClient(client)

		last := afterSeq
		send := func(ev *types.RunEvent) bool {
			if ev.Seq <= last {
				return true
			}
			last = ev.Seq
			select {
			case out <- toMessage(ev):
			case <-ctx.Done():
				return false
			}
			return !ev.Type.Closes()
		}
		sendAll := func(evs []*types.RunEvent) bool {
			for _, ev := range evs {
				if !send(ev) {
					return false
				}
			}
			return true
		}

		if !sendAll(backlog) {
			return
		}
		// A terminal run already has its closing event persisted, so a
		// subscriber that has seen everything is done.
		if run, err := p.runs.GetByID(dbc, runID); err == nil && run != nil && run.State.Terminal() {
			rest, err := p.Events(dbc, runID, last)
			if err == nil {
				sendAll(rest)
			}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.Outbound:
				if msg.Seq <= last {
					continue
				}
				if msg.Seq == last+1 && msg.Data != nil {
					if !send(fromMessage(msg)) {
						return
					}
					continue
				}
				// Gap or stripped body: read the authoritative rows.
				rest, err := p.Events(dbc, runID, last)
				if err != nil {
					p.log.Warn("Progress replay failed", "run_id", runID, "error", err)
					return
				}
				if !sendAll(rest) {
					return
				}
			}
		}
	}()
	return out, nil
}

func toMessage(ev *types.RunEvent) realtime.Message {
	var data any
	if len(ev.Data) > 0 {
		var m map[string]any
		if err := json.Unmarshal(ev.Data, &m); err == nil {
			data = m
		}
	}
	return realtime.Message{
		Channel: realtime.RunChannel(ev.RunID),
		RunID:   ev.RunID,
		Seq:     ev.Seq,
		Event:   string(ev.Type),
		Agent:   string(ev.Agent),
		Data:    data,
		At:      ev.CreatedAt,
	}
}

func fromMessage(m realtime.Message) *types.RunEvent {
	var raw datatypes.JSON
	if m.Data != nil {
		if b, err := json.Marshal(m.Data); err == nil {
			raw = datatypes.JSON(b)
		}
	}
	return &types.RunEvent{
		RunID:     m.RunID,
		Seq:       m.Seq,
		Type:      types.EventType(m.Event),
		Agent:     types.Agent(m.Agent),
		Data:      raw,
		CreatedAt: m.At,
	}
}
