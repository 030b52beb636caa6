package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for realtime message")
	}
	return Message{}
}

func TestHubReconnectAndOrdering(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := RunChannel(uuid.New())

	clientA := hub.NewClient(uuid.New())
	hub.AddChannel(clientA, channel)

	hub.Broadcast(Message{Channel: channel, Seq: 1, Event: "subtask_started"})
	hub.Broadcast(Message{Channel: channel, Seq: 2, Event: "subtask_complete"})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Seq != 1 {
		t.Fatalf("first seq: %d", got.Seq)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Seq != 2 {
		t.Fatalf("second seq: %d", got.Seq)
	}

	hub.CloseClient(clientA)
	select {
	case <-clientA.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("clientA not done after close")
	}
	if hub.Subscribers(channel) != 0 {
		t.Fatalf("closed client still subscribed")
	}
	// Closing twice is safe.
	hub.CloseClient(clientA)

	clientB := hub.NewClient(uuid.New())
	hub.AddChannel(clientB, channel)
	hub.Broadcast(Message{Channel: channel, Seq: 3, Event: "completed"})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != "completed" {
		t.Fatalf("reconnect event: %s", got.Event)
	}
}

func TestHubDropsLaggingClient(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := RunChannel(uuid.New())
	slow := hub.NewClient(uuid.New())
	hub.AddChannel(slow, channel)

	for i := 0; i <= outboundBuffer; i++ {
		hub.Broadcast(Message{Channel: channel, Seq: int64(i + 1)})
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("lagging client should be dropped")
	}
}

func TestHubIgnoresOtherChannels(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient(uuid.New())
	hub.AddChannel(c, RunChannel(uuid.New()))
	hub.Broadcast(Message{Channel: RunChannel(uuid.New()), Seq: 1})
	hub.Broadcast(Message{Seq: 2})
	select {
	case m := <-c.Outbound:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
