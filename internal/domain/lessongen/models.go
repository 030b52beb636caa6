package lessongen

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan is one planner draft for a learning request. A replan creates a new
// row pointing at its parent.
type Plan struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID      `gorm:"type:uuid;index" json:"owner_user_id"`
	ParentPlanID *uuid.UUID     `gorm:"type:uuid;index" json:"parent_plan_id,omitempty"`
	Domain       Domain         `gorm:"column:domain;not null;index" json:"domain"`
	State        State          `gorm:"column:state;not null;index" json:"state"`
	Status       PlanStatus     `gorm:"column:status;not null;index" json:"status"`
	Request      datatypes.JSON `gorm:"column:request;type:jsonb" json:"request"`
	Draft        datatypes.JSON `gorm:"column:draft;type:jsonb" json:"draft,omitempty"`
	SoftIssues   datatypes.JSON `gorm:"column:soft_issues;type:jsonb" json:"soft_issues,omitempty"`
	Constraints  string         `gorm:"column:constraints" json:"constraints,omitempty"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Plan) TableName() string { return "lesson_plan" }

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Lesson is the shell created on plan acceptance; the assembled content lands
// here when a run completes.
type Lesson struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"plan_id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;index" json:"owner_user_id"`
	Domain      Domain         `gorm:"column:domain;not null" json:"domain"`
	Title       string         `gorm:"column:title" json:"title"`
	Status      LessonStatus   `gorm:"column:status;not null;index" json:"status"`
	TOCVersion  int            `gorm:"column:toc_version;not null" json:"toc_version"`
	TOC         datatypes.JSON `gorm:"column:toc;type:jsonb" json:"toc"`
	Outline     datatypes.JSON `gorm:"column:outline;type:jsonb" json:"outline,omitempty"`
	Sections    datatypes.JSON `gorm:"column:sections;type:jsonb" json:"sections,omitempty"`
	Content     string         `gorm:"column:content;type:text" json:"content,omitempty"`
	ContentHash string         `gorm:"column:content_hash;index" json:"content_hash,omitempty"`
	Warnings    datatypes.JSON `gorm:"column:warnings;type:jsonb" json:"warnings,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Lesson) TableName() string { return "lesson" }

func (l *Lesson) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Run is one resumable execution of a workload split.
type Run struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LessonID            uuid.UUID  `gorm:"type:uuid;not null;index" json:"lesson_id"`
	OwnerUserID         uuid.UUID  `gorm:"type:uuid;index" json:"owner_user_id"`
	State               State      `gorm:"column:state;not null;index" json:"state"`
	Cursor              int        `gorm:"column:cursor_pos;not null;default:0" json:"cursor"`
	TotalSubtasks       int        `gorm:"column:total_subtasks;not null;default:0" json:"total_subtasks"`
	ContinuityHints     string     `gorm:"column:continuity_hints" json:"continuity_hints,omitempty"`
	Processing          bool       `gorm:"column:processing;not null;default:false;index" json:"processing"`
	ProcessingSubtaskID string     `gorm:"column:processing_subtask_id" json:"processing_subtask_id,omitempty"`
	LeaseToken          string     `gorm:"column:lease_token;index" json:"-"`
	LeaseUntil          *time.Time `gorm:"column:lease_until;index" json:"lease_until,omitempty"`
	LastError           string     `gorm:"column:last_error" json:"last_error,omitempty"`
	ErrorCode           string     `gorm:"column:error_code" json:"error_code,omitempty"`
	CompletedAt         *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (Run) TableName() string { return "lesson_run" }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Subtask is the persisted form of a SubtaskSpec belonging to a run.
type Subtask struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_run_subtask;uniqueIndex:idx_run_order" json:"run_id"`
	SubtaskID    string         `gorm:"column:subtask_id;not null;uniqueIndex:idx_run_subtask" json:"subtask_id"`
	Order        int            `gorm:"column:ord;not null;uniqueIndex:idx_run_order" json:"order"`
	BlockID      string         `gorm:"column:block_id" json:"block_id,omitempty"`
	Range        datatypes.JSON `gorm:"column:range_spec;type:jsonb" json:"range"`
	TargetTokens int            `gorm:"column:target_tokens;not null;default:0" json:"target_tokens"`
	LengthHints  datatypes.JSON `gorm:"column:length_hints;type:jsonb" json:"length_hints"`
	Status       SubtaskStatus  `gorm:"column:status;not null;index" json:"status"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	ContentHash  string         `gorm:"column:content_hash" json:"content_hash,omitempty"`
	LastError    string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (Subtask) TableName() string { return "lesson_subtask" }

func (s *Subtask) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// RunEvent is the append-only progress log. Seq is dense per run.
type RunEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_run_event_seq" json:"run_id"`
	Seq       int64          `gorm:"column:seq;not null;uniqueIndex:idx_run_event_seq" json:"seq"`
	Type      EventType      `gorm:"column:type;not null;index" json:"type"`
	Agent     Agent          `gorm:"column:agent" json:"agent,omitempty"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (RunEvent) TableName() string { return "lesson_run_event" }

func (e *RunEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AllModels lists every table owned by the pipeline, in migration order.
func AllModels() []any {
	return []any{&Plan{}, &Lesson{}, &Run{}, &Subtask{}, &RunEvent{}}
}
