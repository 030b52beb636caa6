package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/prompts"
	"github.com/yungbote/lessongen-backend/internal/modules/lessongen/split"
	"github.com/yungbote/lessongen-backend/internal/platform/llm"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

const DefaultTimeout = 180 * time.Second

// Input is everything one writer call sees.
type Input struct {
	Domain          lessongen.Domain
	TOC             []lessongen.TOCChapter
	Subtask         lessongen.SubtaskSpec
	TotalSubtasks   int
	Continuity      string
	ContinuityHints string
}

// Writer is the contract the run coordinator depends on.
type Writer interface {
	Write(ctx context.Context, in Input) (lessongen.SubtaskResult, error)
}

type Adapter struct {
	log     *logger.Logger
	llm     llm.Client
	timeout time.Duration
}

func New(log *logger.Logger, client llm.Client, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{log: log.With("service", "WriterAdapter"), llm: client, timeout: timeout}
}

// Write generates one subtask's content. It never retries; failures wrap
// lessongen.ErrWritingFailed and are recorded by the caller.
func (a *Adapter) Write(ctx context.Context, in Input) (lessongen.SubtaskResult, error) {
	ctx, span := otel.Tracer("lessongen/writer").Start(ctx, "writer.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("lessongen.subtask_id", in.Subtask.SubtaskID),
		attribute.Int("lessongen.order", in.Subtask.Order),
		attribute.Int("lessongen.target_tokens", in.Subtask.TargetTokens),
	)

	res, err := a.write(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn("Writer call failed", "subtask_id", in.Subtask.SubtaskID, "error", err)
		return lessongen.SubtaskResult{}, err
	}
	return res, nil
}

func (a *Adapter) write(ctx context.Context, in Input) (lessongen.SubtaskResult, error) {
	fail := func(err error) (lessongen.SubtaskResult, error) {
		return lessongen.SubtaskResult{}, fmt.Errorf("%w: %s: %w", lessongen.ErrWritingFailed, in.Subtask.SubtaskID, err)
	}
	pin, err := BuildInput(in)
	if err != nil {
		return fail(err)
	}
	p, err := prompts.Build(prompts.WriterChunk, pin)
	if err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	obj, err := a.llm.GenerateJSON(callCtx, p.System, p.User, p.SchemaName, p.Schema)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%v: %w", err, context.DeadlineExceeded)
		}
		return fail(err)
	}
	res, err := Parse(obj)
	if err != nil {
		return fail(err)
	}
	return res, nil
}

// BuildInput renders the prompt fields for one subtask.
func BuildInput(in Input) (prompts.Input, error) {
	profile, err := prompts.ProfileFor(in.Domain)
	if err != nil {
		return prompts.Input{}, err
	}
	refs, err := split.Expand(in.TOC, in.Subtask.Range)
	if err != nil {
		return prompts.Input{}, err
	}
	titles := make(map[string]lessongen.TOCChapter, len(in.TOC))
	for _, ch := range in.TOC {
		titles[ch.ChapterID] = ch
	}
	type assigned struct {
		ChapterID     string `json:"chapter_id"`
		Chapter       string `json:"chapter"`
		SubtopicIndex int    `json:"subtopic_index"`
		Subtopic      string `json:"subtopic"`
	}
	list := make([]assigned, 0, len(refs))
	for _, r := range refs {
		ch := titles[r.ChapterID]
		list = append(list, assigned{
			ChapterID:     r.ChapterID,
			Chapter:       ch.Title,
			SubtopicIndex: r.SubtopicIndex,
			Subtopic:      ch.Subtopics[r.SubtopicIndex],
		})
	}
	tocJSON, err := json.Marshal(in.TOC)
	if err != nil {
		return prompts.Input{}, err
	}
	subJSON, err := json.Marshal(list)
	if err != nil {
		return prompts.Input{}, err
	}
	hintsJSON, err := json.Marshal(in.Subtask.LengthHints)
	if err != nil {
		return prompts.Input{}, err
	}
	words := 0
	for _, h := range in.Subtask.LengthHints {
		words += h.TargetWords
	}
	return prompts.Input{
		Profile:         profile,
		TOCJSON:         string(tocJSON),
		RangeLabel:      RangeLabel(in.Subtask.Range),
		SubtopicsJSON:   string(subJSON),
		LengthHintsJSON: string(hintsJSON),
		TargetTokens:    in.Subtask.TargetTokens,
		TargetWords:     words,
		Order:           in.Subtask.Order,
		TotalSubtasks:   in.TotalSubtasks,
		Continuity:      in.Continuity,
		ContinuityHints: strings.TrimSpace(in.ContinuityHints),
	}, nil
}

// RangeLabel renders a range as chap-1[0..2] or chap-1[2]..chap-2[1].
func RangeLabel(r lessongen.SubtaskRange) string {
	if r.StartChapterID == r.EndChapterID {
		return fmt.Sprintf("%s[%d..%d]", r.StartChapterID, r.StartSubtopicIndex, r.EndSubtopicIndex)
	}
	return fmt.Sprintf("%s[%d]..%s[%d]", r.StartChapterID, r.StartSubtopicIndex, r.EndChapterID, r.EndSubtopicIndex)
}

type wireSection struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	HTML         string `json:"html"`
	Image        string `json:"image"`
	QuizAnchorID string `json:"quizAnchorId"`
}

type wireChunk struct {
	OutlineDelta []string      `json:"outlineDelta"`
	Sections     []wireSection `json:"sections"`
	ContentChunk string        `json:"contentChunk"`
}

// Parse validates a writer response before it can be persisted.
func Parse(obj map[string]any) (lessongen.SubtaskResult, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return lessongen.SubtaskResult{}, fmt.Errorf("re-encode response: %w", err)
	}
	var w wireChunk
	if err := json.Unmarshal(raw, &w); err != nil {
		return lessongen.SubtaskResult{}, fmt.Errorf("response does not match chunk shape: %w", err)
	}
	if strings.TrimSpace(w.ContentChunk) == "" {
		return lessongen.SubtaskResult{}, fmt.Errorf("contentChunk is empty")
	}
	out := lessongen.SubtaskResult{ContentChunk: w.ContentChunk}
	for _, o := range w.OutlineDelta {
		if o = strings.TrimSpace(o); o != "" {
			out.OutlineDelta = append(out.OutlineDelta, o)
		}
	}
	for i, s := range w.Sections {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.HTML) == "" {
			return lessongen.SubtaskResult{}, fmt.Errorf("section %d is missing id, title or body", i)
		}
		out.Sections = append(out.Sections, lessongen.LessonSection{
			ID:           strings.TrimSpace(s.ID),
			Title:        strings.TrimSpace(s.Title),
			HTML:         s.HTML,
			Image:        strings.TrimSpace(s.Image),
			QuizAnchorID: strings.TrimSpace(s.QuizAnchorID),
		})
	}
	return out, nil
}
