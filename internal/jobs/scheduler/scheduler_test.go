package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestLocalStepsUntilDone(t *testing.T) {
	var calls atomic.Int32
	s := NewLocal(logger.Nop(), Config{Interval: time.Millisecond}, func(ctx context.Context, id uuid.UUID) (bool, error) {
		return calls.Add(1) >= 3, nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	runID := uuid.New()
	if err := s.Schedule(ctx, runID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule(ctx, runID); err != nil {
		t.Fatalf("Schedule twice: %v", err)
	}
	waitFor(t, func() bool { return !s.Active(runID) })
	s.Wait()
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 steps, got %d", got)
	}
}

func TestLocalStopCancelsLoop(t *testing.T) {
	var calls atomic.Int32
	s := NewLocal(logger.Nop(), Config{Interval: time.Millisecond}, func(ctx context.Context, id uuid.UUID) (bool, error) {
		calls.Add(1)
		return false, nil
	}, nil)
	runID := uuid.New()
	if err := s.Schedule(context.Background(), runID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() >= 2 })
	if err := s.Stop(context.Background(), runID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	s.Wait()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("loop kept stepping after Stop")
	}
}

func TestLocalSurvivesPanic(t *testing.T) {
	var calls atomic.Int32
	s := NewLocal(logger.Nop(), Config{Interval: time.Millisecond}, func(ctx context.Context, id uuid.UUID) (bool, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return true, nil
	}, nil)
	runID := uuid.New()
	if err := s.Schedule(context.Background(), runID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Wait()
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected a retry after panic, got %d calls", got)
	}
}

func TestLocalRejectsAfterShutdown(t *testing.T) {
	s := NewLocal(logger.Nop(), Config{}, func(ctx context.Context, id uuid.UUID) (bool, error) { return true, nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Start(ctx)
	cancel()
	if err := s.Schedule(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error after shutdown")
	}
}

func TestLocalNudgeStepsImmediately(t *testing.T) {
	var calls atomic.Int32
	s := NewLocal(logger.Nop(), Config{Interval: time.Hour}, func(ctx context.Context, id uuid.UUID) (bool, error) {
		calls.Add(1)
		return false, nil
	}, nil)
	runID := uuid.New()
	if woke, err := s.Nudge(context.Background(), runID); err != nil || woke {
		t.Fatalf("nudge before schedule: woke=%v err=%v", woke, err)
	}
	if err := s.Schedule(context.Background(), runID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	woke, err := s.Nudge(context.Background(), runID)
	if err != nil || !woke {
		t.Fatalf("nudge: woke=%v err=%v", woke, err)
	}
	waitFor(t, func() bool { return calls.Load() == 2 })
	_ = s.Stop(context.Background(), runID)
	s.Wait()
}

func TestLocalStaleLoopKeepsRescheduledRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s := NewLocal(logger.Nop(), Config{Interval: time.Millisecond}, func(ctx context.Context, id uuid.UUID) (bool, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return false, nil
	}, nil)
	runID := uuid.New()
	if err := s.Schedule(context.Background(), runID); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	<-entered
	if err := s.Stop(context.Background(), runID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Schedule(context.Background(), runID); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	// The first loop exits only now, after its replacement is registered.
	close(release)
	waitFor(t, func() bool { return calls.Load() >= 5 })
	time.Sleep(20 * time.Millisecond)
	if !s.Active(runID) {
		t.Fatalf("exiting loop unregistered the rescheduled one")
	}
	before := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() == before {
		t.Fatalf("rescheduled loop stopped stepping")
	}
	_ = s.Stop(context.Background(), runID)
	s.Wait()
}
