package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// StepFunc advances a run once and reports whether it is terminal.
type StepFunc func(ctx context.Context, runID uuid.UUID) (bool, error)

type Config struct {
	Interval time.Duration
	// RecoverOrphans re-schedules generating runs found at startup. Only one
	// process should have it on when several share a database.
	RecoverOrphans bool
}

func ConfigFromEnv() Config {
	return Config{
		Interval:       envutil.Millis("SCHEDULER_INTERVAL_MS", 2*time.Second),
		RecoverOrphans: envutil.Bool("SCHEDULER_RECOVER_ORPHANS", false),
	}
}

// Local drives runs in-process with one ticker goroutine per run. It is used
// when no Temporal cluster is configured.
type Local struct {
	log  *logger.Logger
	cfg  Config
	step StepFunc
	runs repos.RunRepo

	mu     sync.Mutex
	base   context.Context
	active map[uuid.UUID]*runLoop
	wg     sync.WaitGroup
}

type runLoop struct {
	cancel context.CancelFunc
	wake   chan struct{}
}

func NewLocal(baseLog *logger.Logger, cfg Config, step StepFunc, runs repos.RunRepo) *Local {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Local{
		log:    baseLog.With("component", "LocalRunScheduler"),
		cfg:    cfg,
		step:   step,
		runs:   runs,
		base:   context.Background(),
		active: make(map[uuid.UUID]*runLoop),
	}
}

// Start binds scheduled loops to ctx and optionally picks up runs left
// generating by a previous process. It returns once recovery is queued.
func (s *Local) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if !s.cfg.RecoverOrphans || s.runs == nil {
		return nil
	}
	runs, err := s.runs.ListResumable(dbctx.New(ctx), 100)
	if err != nil {
		return fmt.Errorf("list resumable runs: %w", err)
	}
	for _, r := range runs {
		if err := s.Schedule(ctx, r.ID); err != nil {
			return err
		}
	}
	if len(runs) > 0 {
		s.log.Info("Recovered runs", "count", len(runs))
	}
	return nil
}

// Schedule is idempotent per run.
func (s *Local) Schedule(ctx context.Context, runID uuid.UUID) error {
	if s.step == nil {
		return fmt.Errorf("local scheduler has no step func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.Err() != nil {
		return s.base.Err()
	}
	if _, ok := s.active[runID]; ok {
		return nil
	}
	loopCtx, cancel := context.WithCancel(s.base)
	l := &runLoop{cancel: cancel, wake: make(chan struct{}, 1)}
	s.active[runID] = l
	s.wg.Add(1)
	go s.loop(loopCtx, runID, l)
	s.log.Info("Run scheduled", "run_id", runID)
	return nil
}

func (s *Local) Stop(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	l, ok := s.active[runID]
	delete(s.active, runID)
	s.mu.Unlock()
	if ok {
		l.cancel()
	}
	return nil
}

// Nudge makes a running loop step now instead of at its next tick. It
// reports false when no loop is driving runID.
func (s *Local) Nudge(ctx context.Context, runID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.active[runID]
	if !ok {
		return false, nil
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// Active reports whether a loop is currently driving runID.
func (s *Local) Active(runID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}

// Wait blocks until every loop has exited.
func (s *Local) Wait() { s.wg.Wait() }

func (s *Local) loop(ctx context.Context, runID uuid.UUID, l *runLoop) {
	defer s.wg.Done()
	defer s.forget(runID, l)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if s.tick(ctx, runID) {
			s.log.Info("Run loop finished", "run_id", runID)
			return
		}
		select {
		case <-ctx.Done():
			s.log.Info("Run loop stopped", "run_id", runID)
			return
		case <-ticker.C:
		case <-l.wake:
		}
	}
}

func (s *Local) tick(ctx context.Context, runID uuid.UUID) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Run step panic", "run_id", runID, "panic", r)
			done = false
		}
	}()
	if ctx.Err() != nil {
		return true
	}
	done, err := s.step(ctx, runID)
	if err != nil && ctx.Err() == nil {
		s.log.Warn("Run step failed", "run_id", runID, "error", err)
	}
	return done
}

// forget removes l only if it is still the loop registered for runID; a
// reschedule after Stop may already have replaced it.
func (s *Local) forget(runID uuid.UUID, l *runLoop) {
	s.mu.Lock()
	if cur, ok := s.active[runID]; ok && cur == l {
		delete(s.active, runID)
	}
	s.mu.Unlock()
	l.cancel()
}
