package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime"
)

// NOTIFY payloads are capped at 8000 bytes by Postgres.
const maxNotifyPayload = 7900

type pgBus struct {
	log     *logger.Logger
	dsn     string
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresBus uses LISTEN/NOTIFY on the primary store, so multi-process
// deployments get cross-process progress without Redis.
func NewPostgresBus(ctx context.Context, log *logger.Logger, dsn string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres progress bus needs a postgres DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return &pgBus{
		log:     log.With("service", "PostgresProgressBus"),
		dsn:     dsn,
		pool:    pool,
		channel: envutil.String("PG_NOTIFY_CHANNEL", "lessongen_progress"),
	}, nil
}

func (b *pgBus) Publish(ctx context.Context, msg realtime.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(raw) > maxNotifyPayload {
		// Subscribers replay from the store on a seq gap, so the body can go.
		msg.Data = nil
		if raw, err = json.Marshal(msg); err != nil {
			return err
		}
	}
	_, err = b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(raw))
	return err
}

func (b *pgBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("pgx listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return fmt.Errorf("listen %s: %w", b.channel, err)
	}

	go func() {
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.log.Warn("Postgres progress listener stopped", "error", err)
				}
				return
			}
			msg, err := decode([]byte(n.Payload))
			if err != nil {
				b.log.Warn("Bad postgres progress payload", "error", err)
				continue
			}
			onMsg(msg)
		}
	}()
	return nil
}

func (b *pgBus) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}
