package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/gcp"
	"github.com/yungbote/lessongen-backend/internal/platform/llm"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime/bus"
	"github.com/yungbote/lessongen-backend/internal/temporalx"
)

type Clients struct {
	LLM      llm.Client
	Temporal temporalsdkclient.Client
	// Bus is nil in local mode; the hub is then fed directly.
	Bus     bus.Bus
	Archive gcp.ArchiveBucket
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, dsn string, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	gen, err := llm.New(ctx, log)
	if err != nil {
		return out, fmt.Errorf("init llm client: %w", err)
	}
	out.LLM = instrumentLLM(gen, metrics)

	switch cfg.ProgressBus {
	case "redis":
		out.Bus, err = bus.NewRedisBus(log)
	case "postgres":
		if dsn == "" {
			return out, fmt.Errorf("PROGRESS_BUS=postgres needs a Postgres store")
		}
		out.Bus, err = bus.NewPostgresBus(ctx, log, dsn)
	case "", "local":
	default:
		err = fmt.Errorf("unknown PROGRESS_BUS %q", cfg.ProgressBus)
	}
	if err != nil {
		return out, fmt.Errorf("init progress bus: %w", err)
	}

	if out.Temporal, err = temporalx.NewClient(log); err != nil {
		return out, fmt.Errorf("init temporal: %w", err)
	}
	if out.Archive, err = gcp.NewArchiveBucket(ctx, log); err != nil {
		return out, fmt.Errorf("init archive bucket: %w", err)
	}
	return out, nil
}

func (c Clients) Close() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Archive != nil {
		_ = c.Archive.Close()
	}
}
