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

type RunRepo interface {
	Create(dbc dbctx.Context, run *types.Run) (*types.Run, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Run, error)
	GetLatestByLesson(dbc dbctx.Context, lessonID uuid.UUID) (*types.Run, error)
	ListResumable(dbc dbctx.Context, limit int) ([]*types.Run, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfState(dbc dbctx.Context, id uuid.UUID, allowed []types.State, updates map[string]interface{}) (bool, error)
	UpdateFieldsUnlessState(dbc dbctx.Context, id uuid.UUID, disallowed []types.State, updates map[string]interface{}) (bool, error)
	ClaimLease(dbc dbctx.Context, id uuid.UUID, token string, subtaskID string, leaseFor time.Duration) (bool, error)
	ReleaseLease(dbc dbctx.Context, id uuid.UUID, token string) error
	AdvanceCursor(dbc dbctx.Context, id uuid.UUID, token string, cursor int) (bool, error)
	UpdateIfLeased(dbc dbctx.Context, id uuid.UUID, token string, updates map[string]interface{}) (bool, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *runRepo) Create(dbc dbctx.Context, run *types.Run) (*types.Run, error) {
	if err := r.tx(dbc).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Run, error) {
	var run types.Run
	err := r.tx(dbc).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) GetLatestByLesson(dbc dbctx.Context, lessonID uuid.UUID) (*types.Run, error) {
	var run types.Run
	err := r.tx(dbc).
		Where("lesson_id = ?", lessonID).
		Order("created_at DESC").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

// ListResumable returns generating runs nobody currently holds.
func (r *runRepo) ListResumable(dbc dbctx.Context, limit int) ([]*types.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Run
	err := r.tx(dbc).
		Where("state = ?", types.StateGenerating).
		Where("processing = ? OR lease_until IS NULL OR lease_until < ?", false, time.Now()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *runRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	_, err := r.update(dbc, id, updates, nil)
	return err
}

func (r *runRepo) UpdateFieldsIfState(dbc dbctx.Context, id uuid.UUID, allowed []types.State, updates map[string]interface{}) (bool, error) {
	return r.update(dbc, id, updates, func(q *gorm.DB) *gorm.DB {
		return q.Where("state IN ?", allowed)
	})
}

func (r *runRepo) UpdateFieldsUnlessState(dbc dbctx.Context, id uuid.UUID, disallowed []types.State, updates map[string]interface{}) (bool, error) {
	return r.update(dbc, id, updates, func(q *gorm.DB) *gorm.DB {
		if len(disallowed) == 1 {
			return q.Where("state <> ?", disallowed[0])
		}
		return q.Where("state NOT IN ?", disallowed)
	})
}

// ClaimLease marks the run as processing subtaskID for leaseFor. It succeeds
// only for a generating run with no live lease, so at most one caller at a
// time advances a run.
func (r *runRepo) ClaimLease(dbc dbctx.Context, id uuid.UUID, token string, subtaskID string, leaseFor time.Duration) (bool, error) {
	now := time.Now()
	return r.update(dbc, id, map[string]interface{}{
		"processing":            true,
		"processing_subtask_id": subtaskID,
		"lease_token":           token,
		"lease_until":           now.Add(leaseFor),
		"updated_at":            now,
	}, func(q *gorm.DB) *gorm.DB {
		return q.Where("state = ?", types.StateGenerating).
			Where("processing = ? OR lease_until IS NULL OR lease_until < ?", false, now)
	})
}

// ReleaseLease clears the lease if token still holds it.
func (r *runRepo) ReleaseLease(dbc dbctx.Context, id uuid.UUID, token string) error {
	_, err := r.update(dbc, id, map[string]interface{}{
		"processing":            false,
		"processing_subtask_id": "",
		"lease_token":           "",
		"lease_until":           nil,
	}, func(q *gorm.DB) *gorm.DB {
		return q.Where("lease_token = ?", token)
	})
	return err
}

// AdvanceCursor moves the cursor only while the run is still generating under
// token. A false result means the lease was lost or the run was cancelled.
func (r *runRepo) AdvanceCursor(dbc dbctx.Context, id uuid.UUID, token string, cursor int) (bool, error) {
	return r.update(dbc, id, map[string]interface{}{
		"cursor_pos": cursor,
		"last_error": "",
	}, func(q *gorm.DB) *gorm.DB {
		return q.Where("state = ? AND lease_token = ?", types.StateGenerating, token)
	})
}

// UpdateIfLeased applies updates only while token holds a generating run.
func (r *runRepo) UpdateIfLeased(dbc dbctx.Context, id uuid.UUID, token string, updates map[string]interface{}) (bool, error) {
	return r.update(dbc, id, updates, func(q *gorm.DB) *gorm.DB {
		return q.Where("state = ? AND lease_token = ?", types.StateGenerating, token)
	})
}

func (r *runRepo) update(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}, guard func(*gorm.DB) *gorm.DB) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.tx(dbc).Model(&types.Run{}).Where("id = ?", id)
	if guard != nil {
		q = guard(q)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
