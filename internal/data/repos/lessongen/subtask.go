package lessongen

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type SubtaskRepo interface {
	Create(dbc dbctx.Context, subtasks []*types.Subtask) ([]*types.Subtask, error)
	ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Subtask, error)
	FirstIncomplete(dbc dbctx.Context, runID uuid.UUID) (*types.Subtask, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) (int, error)
}

type subtaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubtaskRepo(db *gorm.DB, baseLog *logger.Logger) SubtaskRepo {
	return &subtaskRepo{db: db, log: baseLog.With("repo", "SubtaskRepo")}
}

func (r *subtaskRepo) Create(dbc dbctx.Context, subtasks []*types.Subtask) ([]*types.Subtask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(subtasks) == 0 {
		return []*types.Subtask{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&subtasks).Error; err != nil {
		return nil, err
	}
	return subtasks, nil
}

func (r *subtaskRepo) ListByRun(dbc dbctx.Context, runID uuid.UUID) ([]*types.Subtask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Subtask
	if err := transaction.WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("ord ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FirstIncomplete returns the lowest-order subtask that is not completed,
// or nil when every subtask is done.
func (r *subtaskRepo) FirstIncomplete(dbc dbctx.Context, runID uuid.UUID) (*types.Subtask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var st types.Subtask
	err := transaction.WithContext(dbc.Ctx).
		Where("run_id = ? AND status <> ?", runID, types.SubtaskCompleted).
		Order("ord ASC").
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *subtaskRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Subtask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkFailed records a failed attempt and returns the new attempt count.
// A completed subtask is never downgraded.
func (r *subtaskRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var attempts int
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.Subtask{}).
			Where("id = ? AND status <> ?", id, types.SubtaskCompleted).
			Updates(map[string]interface{}{
				"status":     types.SubtaskFailed,
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": lastError,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		var st types.Subtask
		if err := txx.Select("attempts").Where("id = ?", id).First(&st).Error; err != nil {
			return err
		}
		attempts = st.Attempts
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}
