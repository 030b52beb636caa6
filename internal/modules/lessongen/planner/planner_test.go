package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type fakeLLM struct {
	calls  int
	system string
	user   string
	resp   map[string]any
	err    error
	block  bool
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.calls++
	f.system, f.user = system, user
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func ref(ch string, i int) map[string]any {
	return map[string]any{"chapterId": ch, "subtopicIndex": i}
}

func validResponse() map[string]any {
	return map[string]any{
		"public": map[string]any{
			"learningOutcome":         "Add fractions",
			"recommendedChapterCount": 2,
			"toc": []any{
				map[string]any{"chapterId": "chap-1", "title": "Basics", "subtopics": []any{"a", "b", "c"}, "description": "", "learningGoals": []any{}},
				map[string]any{"chapterId": "chap-2", "title": "More", "subtopics": []any{"d", "e"}, "description": "", "learningGoals": []any{}},
			},
		},
		"private": map[string]any{
			"estimates": map[string]any{
				"totalWords":  750,
				"totalTokens": 1000,
				"perSubtopic": []any{
					map[string]any{"chapterId": "chap-1", "subtopicIndex": 0, "words": 150, "tokens": 200},
					map[string]any{"chapterId": "chap-1", "subtopicIndex": 1, "words": 150, "tokens": 200},
					map[string]any{"chapterId": "chap-1", "subtopicIndex": 2, "words": 75, "tokens": 100},
					map[string]any{"chapterId": "chap-2", "subtopicIndex": 0, "words": 150, "tokens": 250},
				},
			},
			"chunking": map[string]any{
				"cohesionBlocks": []any{
					map[string]any{"blockId": "b1", "items": []any{ref("chap-1", 0), ref("chap-1", 2)}, "targetTokens": 300, "rationale": "pair"},
				},
			},
			"sequencingRationale": "simple first",
			"continuityHints":     "use pizza examples",
		},
	}
}

func TestPlanParsesDraft(t *testing.T) {
	f := &fakeLLM{resp: validResponse()}
	a := New(logger.Nop(), f, time.Second)
	res, err := a.Plan(context.Background(), Request{Learning: lessongen.LearningRequest{Topic: "fractions", Grade: "Grade 5"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	d := res.Draft
	if len(d.TOC) != 2 || d.PairCount() != 5 || d.TotalTokens != 1000 {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if got := d.PerSubtopic[lessongen.SubtopicRef{ChapterID: "chap-1", SubtopicIndex: 1}]; got.Tokens != 200 {
		t.Fatalf("estimate: %+v", got)
	}
	if len(d.CohesionBlocks) != 1 || len(d.CohesionBlocks[0].Items) != 2 {
		t.Fatalf("blocks: %+v", d.CohesionBlocks)
	}
	if d.ContinuityHints != "use pizza examples" {
		t.Fatalf("hints: %q", d.ContinuityHints)
	}
	// chap-2[1] had no estimate.
	if len(res.SoftIssues) != 1 || !strings.Contains(res.SoftIssues[0], "chap-2[1]") {
		t.Fatalf("soft issues: %v", res.SoftIssues)
	}
	if _, ok := d.PerSubtopic[lessongen.SubtopicRef{ChapterID: "chap-2", SubtopicIndex: 1}]; !ok {
		t.Fatalf("missing estimate should default to zero entry")
	}
	if !strings.Contains(f.system, "CBC") || !strings.Contains(f.user, "fractions") {
		t.Fatalf("prompt not rendered for cbc: %q", f.system)
	}
	if res.PromptFingerprint == "" {
		t.Fatalf("missing fingerprint")
	}
}

func TestPlanReplanCarriesFeedback(t *testing.T) {
	f := &fakeLLM{resp: validResponse()}
	a := New(logger.Nop(), f, time.Second)
	prev := &lessongen.PlannerDraft{TOC: []lessongen.TOCChapter{{ChapterID: "chap-9", Title: "Old", Subtopics: []string{"x"}}}}
	if _, err := a.Plan(context.Background(), Request{
		Learning: lessongen.LearningRequest{Goal: "ship a web app"},
		Previous: prev,
		Feedback: "fewer chapters",
	}); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !strings.Contains(f.user, "fewer chapters") || !strings.Contains(f.user, "chap-9") {
		t.Fatalf("replan prompt: %q", f.user)
	}
	if !strings.Contains(f.system, "job-ready") {
		t.Fatalf("goal without grade should plan as upskill: %q", f.system)
	}
}

func TestPlanFailures(t *testing.T) {
	emptyTOC := validResponse()
	emptyTOC["public"].(map[string]any)["toc"] = []any{}

	noSubtopics := validResponse()
	noSubtopics["public"].(map[string]any)["toc"] = []any{
		map[string]any{"chapterId": "chap-1", "title": "x", "subtopics": []any{}},
	}

	badBlock := validResponse()
	badBlock["private"].(map[string]any)["chunking"] = map[string]any{
		"cohesionBlocks": []any{map[string]any{"blockId": "b", "items": []any{ref("chap-3", 0)}}},
	}

	wrongShape := map[string]any{"public": "nope"}

	cases := map[string]*fakeLLM{
		"transport":    {err: errors.New("connection reset")},
		"empty toc":    {resp: emptyTOC},
		"no subtopics": {resp: noSubtopics},
		"bad block":    {resp: badBlock},
		"wrong shape":  {resp: wrongShape},
	}
	for name, f := range cases {
		a := New(logger.Nop(), f, time.Second)
		_, err := a.Plan(context.Background(), Request{Learning: lessongen.LearningRequest{Topic: "x"}})
		if !errors.Is(err, lessongen.ErrPlanningFailed) {
			t.Fatalf("%s: want ErrPlanningFailed, got %v", name, err)
		}
	}
}

func TestPlanTimeout(t *testing.T) {
	f := &fakeLLM{block: true}
	a := New(logger.Nop(), f, 20*time.Millisecond)
	_, err := a.Plan(context.Background(), Request{Learning: lessongen.LearningRequest{Topic: "x"}})
	if !errors.Is(err, lessongen.ErrPlanningFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want planning timeout, got %v", err)
	}
}

func TestParseDefaultsTotalFromEstimates(t *testing.T) {
	r := validResponse()
	r["private"].(map[string]any)["estimates"].(map[string]any)["totalTokens"] = 0
	d, soft, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.TotalTokens != 750 {
		t.Fatalf("total: %d", d.TotalTokens)
	}
	if len(soft) != 2 {
		t.Fatalf("soft: %v", soft)
	}
}

func TestPlanLogsEachSoftIssue(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	a := New(log, &fakeLLM{resp: validResponse()}, time.Second)
	res, err := a.Plan(context.Background(), Request{Learning: lessongen.LearningRequest{Topic: "fractions", Grade: "Grade 5"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	entries := logs.FilterMessage("Planner soft issue").All()
	if len(entries) != len(res.SoftIssues) || len(entries) == 0 {
		t.Fatalf("want one warning per soft issue (%d), got %d", len(res.SoftIssues), len(entries))
	}
	if got, _ := entries[0].ContextMap()["issue"].(string); got != res.SoftIssues[0] {
		t.Fatalf("issue field: want=%q got=%q", res.SoftIssues[0], got)
	}
}
