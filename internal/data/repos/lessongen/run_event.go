package lessongen

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

const appendRetries = 5

type RunEventRepo interface {
	Append(dbc dbctx.Context, ev *types.RunEvent) (*types.RunEvent, error)
	ListAfter(dbc dbctx.Context, runID uuid.UUID, afterSeq int64, limit int) ([]*types.RunEvent, error)
	LastSeq(dbc dbctx.Context, runID uuid.UUID) (int64, error)
}

type runEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunEventRepo(db *gorm.DB, baseLog *logger.Logger) RunEventRepo {
	return &runEventRepo{db: db, log: baseLog.With("repo", "RunEventRepo")}
}

// Append assigns the next dense seq for the run and inserts the event.
// Concurrent appends race on the (run_id, seq) unique index; the loser
// recomputes and retries.
func (r *runEventRepo) Append(dbc dbctx.Context, ev *types.RunEvent) (*types.RunEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
			var last int64
			if err := txx.Model(&types.RunEvent{}).
				Where("run_id = ?", ev.RunID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			ev.ID = uuid.Nil
			ev.Seq = last + 1
			return txx.Create(ev).Error
		})
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		r.log.Debug("Run event seq collision, retrying", "run_id", ev.RunID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("append run event: seq contention on run %s", ev.RunID)
}

func (r *runEventRepo) ListAfter(dbc dbctx.Context, runID uuid.UUID, afterSeq int64, limit int) ([]*types.RunEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 500
	}
	var out []*types.RunEvent
	if err := transaction.WithContext(dbc.Ctx).
		Where("run_id = ? AND seq > ?", runID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *runEventRepo) LastSeq(dbc dbctx.Context, runID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var last int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.RunEvent{}).
		Where("run_id = ?", runID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error; err != nil {
		return 0, err
	}
	return last, nil
}
