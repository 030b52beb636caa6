package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

func mustJSON(tb testing.TB, v any) datatypes.JSON {
	tb.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal fixture: %v", err)
	}
	return datatypes.JSON(b)
}

// SampleDraft is two chapters, five subtopics, 1000 tokens, no blocks.
func SampleDraft() types.PlannerDraft {
	est := types.EstimateTable{}
	toc := []types.TOCChapter{
		{ChapterID: "chap-1", Title: "Basics", Subtopics: []string{"a", "b", "c"}},
		{ChapterID: "chap-2", Title: "More", Subtopics: []string{"d", "e"}},
	}
	for _, ch := range toc {
		for i := range ch.Subtopics {
			est[types.SubtopicRef{ChapterID: ch.ChapterID, SubtopicIndex: i}] = types.Estimate{Words: 150, Tokens: 200}
		}
	}
	return types.PlannerDraft{TOC: toc, PerSubtopic: est, TotalTokens: 1000}
}

func SeedPlan(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, draft types.PlannerDraft) *types.Plan {
	tb.Helper()
	p := &types.Plan{
		OwnerUserID: ownerUserID,
		Domain:      types.DomainCBC,
		State:       types.StateIdle,
		Status:      types.PlanProposed,
		Request:     mustJSON(tb, types.LearningRequest{Topic: "fractions"}),
		Draft:       mustJSON(tb, draft),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	return p
}

func SeedLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, plan *types.Plan, draft types.PlannerDraft) *types.Lesson {
	tb.Helper()
	l := &types.Lesson{
		PlanID:      plan.ID,
		OwnerUserID: plan.OwnerUserID,
		Domain:      plan.Domain,
		Title:       "lesson",
		Status:      types.LessonTOCApproved,
		TOCVersion:  1,
		TOC:         mustJSON(tb, draft.TOC),
	}
	if err := tx.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed lesson: %v", err)
	}
	return l
}

// SeedRun creates a generating run with one pending subtask per spec.
func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, specs []types.SubtaskSpec) (*types.Run, []*types.Subtask) {
	tb.Helper()
	run := &types.Run{
		LessonID:      lessonID,
		State:         types.StateGenerating,
		TotalSubtasks: len(specs),
	}
	if err := tx.WithContext(ctx).Create(run).Error; err != nil {
		tb.Fatalf("seed run: %v", err)
	}
	rows := make([]*types.Subtask, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, &types.Subtask{
			RunID:        run.ID,
			SubtaskID:    s.SubtaskID,
			Order:        s.Order,
			BlockID:      s.BlockID,
			Range:        mustJSON(tb, s.Range),
			TargetTokens: s.TargetTokens,
			LengthHints:  mustJSON(tb, s.LengthHints),
			Status:       types.SubtaskPending,
		})
	}
	if len(rows) > 0 {
		if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
			tb.Fatalf("seed subtasks: %v", err)
		}
	}
	return run, rows
}
