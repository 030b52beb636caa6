package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/planner"
	"github.com/yungbote/lessongen-backend/internal/pkg/dbctx"
	"github.com/yungbote/lessongen-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// Planner is the planning step as the plan service sees it.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Result, error)
}

// PlanView is the caller-facing shape of a plan. Private planning data
// (estimates, cohesion blocks) stays on the row.
type PlanView struct {
	ID                      uuid.UUID             `json:"id"`
	ParentPlanID            *uuid.UUID            `json:"parent_plan_id,omitempty"`
	Domain                  types.Domain          `json:"domain"`
	State                   types.State           `json:"state"`
	Status                  types.PlanStatus      `json:"status"`
	Request                 types.LearningRequest `json:"request"`
	LearningOutcome         string                `json:"learning_outcome,omitempty"`
	RecommendedChapterCount int                   `json:"recommended_chapter_count,omitempty"`
	TOC                     []types.TOCChapter    `json:"toc"`
	TotalTokens             int                   `json:"total_tokens,omitempty"`
	SoftIssues              []string              `json:"soft_issues,omitempty"`
	Constraints             string                `json:"constraints,omitempty"`
	Error                   string                `json:"error,omitempty"`
	LessonID                *uuid.UUID            `json:"lesson_id,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
}

type PlanService interface {
	StartPlan(ctx context.Context, req types.LearningRequest) (*PlanView, error)
	Replan(ctx context.Context, planID uuid.UUID, constraints string) (*PlanView, error)
	Accept(ctx context.Context, planID uuid.UUID) (*types.Lesson, error)
	Get(ctx context.Context, planID uuid.UUID) (*PlanView, error)
	GetLesson(ctx context.Context, lessonID uuid.UUID) (*types.Lesson, error)
}

type planService struct {
	db      *gorm.DB
	log     *logger.Logger
	planner Planner
	plans   repos.PlanRepo
	lessons repos.LessonRepo
}

func NewPlanService(db *gorm.DB, baseLog *logger.Logger, p Planner, plans repos.PlanRepo, lessons repos.LessonRepo) PlanService {
	return &planService{
		db:      db,
		log:     baseLog.With("service", "PlanService"),
		planner: p,
		plans:   plans,
		lessons: lessons,
	}
}

func (s *planService) StartPlan(ctx context.Context, req types.LearningRequest) (*PlanView, error) {
	if req.Headline() == "" {
		return nil, fmt.Errorf("%w: topic or goal is required", types.ErrInvalidPlan)
	}
	req.Domain = req.ResolveDomain()
	return s.plan(ctx, req, nil, "", types.PlanProposed)
}

// Replan drafts a new plan from an existing one. The constraints are appended
// to the learner's preferences and also shown to the planner as feedback.
func (s *planService) Replan(ctx context.Context, planID uuid.UUID, constraints string) (*PlanView, error) {
	constraints = strings.TrimSpace(constraints)
	if constraints == "" {
		return nil, fmt.Errorf("%w: constraints are required", types.ErrInvalidPlan)
	}
	prev, err := s.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if prev.State != types.StateIdle || len(prev.Draft) == 0 {
		return nil, fmt.Errorf("%w: plan %s has no draft to refine", types.ErrInvalidState, planID)
	}
	var req types.LearningRequest
	if err := json.Unmarshal(prev.Request, &req); err != nil {
		return nil, fmt.Errorf("decode plan request: %w", err)
	}
	var draft types.PlannerDraft
	if err := json.Unmarshal(prev.Draft, &draft); err != nil {
		return nil, fmt.Errorf("decode plan draft: %w", err)
	}
	if req.Preferences == "" {
		req.Preferences = constraints
	} else {
		req.Preferences = req.Preferences + "\n" + constraints
	}
	parent := prev.ID
	return s.plan(ctx, req, &parentDraft{id: parent, draft: &draft}, constraints, types.PlanRefined)
}

type parentDraft struct {
	id    uuid.UUID
	draft *types.PlannerDraft
}

func (s *planService) plan(ctx context.Context, req types.LearningRequest, parent *parentDraft, constraints string, okStatus types.PlanStatus) (*PlanView, error) {
	dbc := dbctx.New(ctx)
	reqJSON, err := toJSON(req)
	if err != nil {
		return nil, err
	}
	row := &types.Plan{
		OwnerUserID: ownerFrom(ctx),
		Domain:      req.ResolveDomain(),
		State:       types.StatePlanning,
		Status:      types.PlanProposed,
		Request:     reqJSON,
		Constraints: constraints,
	}
	pr := planner.Request{Learning: req, Feedback: constraints}
	if parent != nil {
		row.ParentPlanID = &parent.id
		pr.Previous = parent.draft
	}
	if _, err := s.plans.Create(dbc, row); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	res, planErr := s.planner.Plan(ctx, pr)
	if planErr != nil {
		s.log.Warn("Planning failed", "plan_id", row.ID, "error", planErr)
		if err := s.plans.UpdateFields(dbctx.New(ctx).Detached(), row.ID, map[string]interface{}{
			"state":  types.StateIdle,
			"status": types.PlanFailed,
			"error":  planErr.Error(),
		}); err != nil {
			s.log.Error("Failed to record planning failure", "plan_id", row.ID, "error", err)
		}
		return nil, planErr
	}

	draftJSON, err := toJSON(res.Draft)
	if err != nil {
		return nil, err
	}
	issuesJSON, err := toJSON(res.SoftIssues)
	if err != nil {
		return nil, err
	}
	if err := s.plans.UpdateFields(dbc, row.ID, map[string]interface{}{
		"state":       types.StateIdle,
		"status":      okStatus,
		"draft":       draftJSON,
		"soft_issues": issuesJSON,
		"error":       "",
	}); err != nil {
		return nil, fmt.Errorf("save plan draft: %w", err)
	}
	row.State, row.Status, row.Draft, row.SoftIssues = types.StateIdle, okStatus, draftJSON, issuesJSON
	s.log.Ctx(ctx).Info("Plan drafted", "plan_id", row.ID, "domain", row.Domain, "chapters", len(res.Draft.TOC), "soft_issues", len(res.SoftIssues))
	return planView(row, nil)
}

// Accept freezes the plan's TOC into a lesson shell. Accepting twice returns
// the same lesson.
func (s *planService) Accept(ctx context.Context, planID uuid.UUID) (*types.Lesson, error) {
	var lesson *types.Lesson
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx).WithTx(tx)
		plan, err := s.plans.GetByID(dbc, planID)
		if err != nil {
			return err
		}
		if plan == nil || !ownerAllowed(ctx, plan.OwnerUserID) {
			return fmt.Errorf("%w: plan %s", types.ErrNotFound, planID)
		}
		if plan.Status == types.PlanAccepted {
			lesson, err = s.lessons.GetByPlanID(dbc, plan.ID)
			if err != nil {
				return err
			}
			if lesson == nil {
				return fmt.Errorf("%w: accepted plan %s has no lesson", types.ErrInvalidState, planID)
			}
			return nil
		}
		if plan.Status == types.PlanFailed || len(plan.Draft) == 0 {
			return fmt.Errorf("%w: plan %s has no draft", types.ErrInvalidState, planID)
		}
		var draft types.PlannerDraft
		if err := json.Unmarshal(plan.Draft, &draft); err != nil {
			return fmt.Errorf("decode plan draft: %w", err)
		}
		if draft.PairCount() == 0 {
			return fmt.Errorf("%w: plan %s", types.ErrEmptyPlan, planID)
		}
		ok, err := s.plans.UpdateFieldsIfState(dbc, plan.ID, []types.State{types.StateIdle}, map[string]interface{}{
			"state":  types.StateAccepting,
			"status": types.PlanAccepted,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: plan %s is %s", types.ErrInvalidState, planID, plan.State)
		}
		tocJSON, err := toJSON(draft.TOC)
		if err != nil {
			return err
		}
		lesson = &types.Lesson{
			PlanID:      plan.ID,
			OwnerUserID: plan.OwnerUserID,
			Domain:      plan.Domain,
			Title:       lessonTitle(plan, draft),
			Status:      types.LessonTOCApproved,
			TOCVersion:  1,
			TOC:         tocJSON,
		}
		_, err = s.lessons.Create(dbc, lesson)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Ctx(ctx).Info("Plan accepted", "plan_id", planID, "lesson_id", lesson.ID)
	return lesson, nil
}

func (s *planService) Get(ctx context.Context, planID uuid.UUID) (*PlanView, error) {
	plan, err := s.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	var lesson *types.Lesson
	if plan.Status == types.PlanAccepted {
		if lesson, err = s.lessons.GetByPlanID(dbctx.New(ctx), plan.ID); err != nil {
			return nil, err
		}
	}
	return planView(plan, lesson)
}

func (s *planService) GetLesson(ctx context.Context, lessonID uuid.UUID) (*types.Lesson, error) {
	lesson, err := s.lessons.GetByID(dbctx.New(ctx), lessonID)
	if err != nil {
		return nil, err
	}
	if lesson == nil || !ownerAllowed(ctx, lesson.OwnerUserID) {
		return nil, fmt.Errorf("%w: lesson %s", types.ErrNotFound, lessonID)
	}
	return lesson, nil
}

func (s *planService) load(ctx context.Context, planID uuid.UUID) (*types.Plan, error) {
	plan, err := s.plans.GetByID(dbctx.New(ctx), planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !ownerAllowed(ctx, plan.OwnerUserID) {
		return nil, fmt.Errorf("%w: plan %s", types.ErrNotFound, planID)
	}
	return plan, nil
}

func planView(p *types.Plan, lesson *types.Lesson) (*PlanView, error) {
	v := &PlanView{
		ID:           p.ID,
		ParentPlanID: p.ParentPlanID,
		Domain:       p.Domain,
		State:        p.State,
		Status:       p.Status,
		TOC:          []types.TOCChapter{},
		Constraints:  p.Constraints,
		Error:        p.Error,
		CreatedAt:    p.CreatedAt,
	}
	if len(p.Request) > 0 {
		if err := json.Unmarshal(p.Request, &v.Request); err != nil {
			return nil, fmt.Errorf("decode plan request: %w", err)
		}
	}
	if len(p.Draft) > 0 {
		var d types.PlannerDraft
		if err := json.Unmarshal(p.Draft, &d); err != nil {
			return nil, fmt.Errorf("decode plan draft: %w", err)
		}
		v.TOC = d.TOC
		v.LearningOutcome = d.LearningOutcome
		v.RecommendedChapterCount = d.RecommendedChapterCount
		v.TotalTokens = d.TotalTokens
	}
	if len(p.SoftIssues) > 0 {
		_ = json.Unmarshal(p.SoftIssues, &v.SoftIssues)
	}
	if lesson != nil {
		id := lesson.ID
		v.LessonID = &id
	}
	return v, nil
}

func lessonTitle(p *types.Plan, d types.PlannerDraft) string {
	var req types.LearningRequest
	_ = json.Unmarshal(p.Request, &req)
	if h := req.Headline(); h != "" {
		return h
	}
	if d.LearningOutcome != "" {
		return d.LearningOutcome
	}
	if len(d.TOC) > 0 {
		return d.TOC[0].Title
	}
	return "Lesson"
}

func toJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return datatypes.JSON(b), nil
}

func ownerFrom(ctx context.Context) uuid.UUID {
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		return rd.UserID
	}
	return uuid.Nil
}

// ownerAllowed lets unauthenticated internal callers through and hides other
// users' rows from authenticated ones.
func ownerAllowed(ctx context.Context, owner uuid.UUID) bool {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return true
	}
	return rd.UserID == owner
}
