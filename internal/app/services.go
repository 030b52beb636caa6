package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lessongen-backend/internal/jobs/scheduler"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/planner"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/writer"
	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime"
	"github.com/yungbote/lessongen-backend/internal/services"
	"github.com/yungbote/lessongen-backend/internal/temporalx"
	"github.com/yungbote/lessongen-backend/internal/temporalx/lessonrun"
	"github.com/yungbote/lessongen-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Plans    services.PlanService
	Runs     services.RunCoordinator
	Progress services.ProgressChannel

	// Exactly one of these drives scheduled runs.
	Worker *temporalworker.Runner
	Local  *scheduler.Local
}

func wireServices(db *gorm.DB, log *logger.Logger, reposet Repos, clients Clients, hub *realtime.Hub, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	var emit services.Emitter = &services.HubEmitter{Hub: hub}
	if clients.Bus != nil {
		emit = &services.BusEmitter{Bus: clients.Bus, Log: log}
	}
	progress := services.NewProgressChannel(log, hub, emit, reposet.RunEvent, reposet.Run)

	telegram, err := services.NewTelegramNotifier(log)
	if err != nil {
		return Services{}, fmt.Errorf("init telegram notifier: %w", err)
	}
	notifier := services.NewRunNotifiers(telegram, services.NewArchiveNotifier(log, clients.Archive))

	plannerAdapter := planner.New(log, clients.LLM, envutil.Millis("PLANNER_TIMEOUT_MS", planner.DefaultTimeout))
	writerAdapter := writer.New(log, clients.LLM, envutil.Millis("WRITER_TIMEOUT_MS", writer.DefaultTimeout))

	plans := services.NewPlanService(db, log, plannerAdapter, reposet.Plan, reposet.Lesson)
	runs := services.NewRunCoordinator(db, log, services.RunConfigFromEnv(), writerAdapter, progress, notifier,
		reposet.Plan, reposet.Lesson, reposet.Run, reposet.Subtask)

	step := instrumentStep(runs.Step, metrics)
	out := Services{Plans: plans, Runs: runs, Progress: progress}

	if clients.Temporal != nil {
		tcfg := temporalx.LoadConfig()
		worker, err := temporalworker.NewRunner(log, clients.Temporal, tcfg, lessonrun.StepFunc(step))
		if err != nil {
			return Services{}, err
		}
		out.Worker = worker
		runs.SetScheduler(lessonrun.NewScheduler(log, clients.Temporal, tcfg.TaskQueue,
			envutil.Millis("SCHEDULER_INTERVAL_MS", lessonrun.DefaultInterval).Milliseconds()))
	} else {
		out.Local = scheduler.NewLocal(log, scheduler.ConfigFromEnv(), scheduler.StepFunc(step), reposet.Run)
		runs.SetScheduler(out.Local)
	}
	return out, nil
}

func instrumentStep(step func(context.Context, uuid.UUID) (bool, error), m *observability.Metrics) func(context.Context, uuid.UUID) (bool, error) {
	return func(ctx context.Context, runID uuid.UUID) (bool, error) {
		done, err := step(ctx, runID)
		switch {
		case err != nil:
			m.ObserveRunStep("error")
		case done:
			m.ObserveRunStep("done")
		default:
			m.ObserveRunStep("pending")
		}
		return done, err
	}
}
