package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

type wireRef struct {
	ChapterID     string `json:"chapterId"`
	SubtopicIndex int    `json:"subtopicIndex"`
}

type wireResponse struct {
	Public struct {
		LearningOutcome         string `json:"learningOutcome"`
		RecommendedChapterCount int    `json:"recommendedChapterCount"`
		TOC                     []struct {
			ChapterID     string   `json:"chapterId"`
			Title         string   `json:"title"`
			Subtopics     []string `json:"subtopics"`
			Description   string   `json:"description"`
			LearningGoals []string `json:"learningGoals"`
		} `json:"toc"`
	} `json:"public"`
	Private struct {
		Estimates struct {
			TotalTokens int `json:"totalTokens"`
			PerSubtopic []struct {
				wireRef
				Words  int `json:"words"`
				Tokens int `json:"tokens"`
			} `json:"perSubtopic"`
		} `json:"estimates"`
		Chunking struct {
			CohesionBlocks []struct {
				BlockID      string    `json:"blockId"`
				Items        []wireRef `json:"items"`
				TargetTokens int       `json:"targetTokens"`
				Rationale    string    `json:"rationale"`
			} `json:"cohesionBlocks"`
		} `json:"chunking"`
		SequencingRationale string `json:"sequencingRationale"`
		ContinuityHints     string `json:"continuityHints"`
	} `json:"private"`
}

// Parse translates a planner response object into a PlannerDraft. Schema
// violations are returned as errors; missing estimates default to zero and
// are reported as soft issues.
func Parse(obj map[string]any) (*lessongen.PlannerDraft, []string, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("re-encode response: %w", err)
	}
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, nil, fmt.Errorf("response does not match plan shape: %w", err)
	}

	if len(w.Public.TOC) == 0 {
		return nil, nil, fmt.Errorf("toc is empty")
	}
	draft := &lessongen.PlannerDraft{
		LearningOutcome:         strings.TrimSpace(w.Public.LearningOutcome),
		RecommendedChapterCount: w.Public.RecommendedChapterCount,
		SequencingRationale:     strings.TrimSpace(w.Private.SequencingRationale),
		ContinuityHints:         strings.TrimSpace(w.Private.ContinuityHints),
		PerSubtopic:             lessongen.EstimateTable{},
	}
	subtopics := map[string]int{}
	for i, ch := range w.Public.TOC {
		id := strings.TrimSpace(ch.ChapterID)
		if id == "" {
			return nil, nil, fmt.Errorf("toc[%d] has no chapterId", i)
		}
		if _, dup := subtopics[id]; dup {
			return nil, nil, fmt.Errorf("duplicate chapterId %q", id)
		}
		if len(ch.Subtopics) == 0 {
			return nil, nil, fmt.Errorf("chapter %q has no subtopics", id)
		}
		subtopics[id] = len(ch.Subtopics)
		draft.TOC = append(draft.TOC, lessongen.TOCChapter{
			ChapterID:     id,
			Title:         strings.TrimSpace(ch.Title),
			Subtopics:     ch.Subtopics,
			Description:   strings.TrimSpace(ch.Description),
			LearningGoals: ch.LearningGoals,
		})
	}
	valid := func(r wireRef) bool {
		n, ok := subtopics[strings.TrimSpace(r.ChapterID)]
		return ok && r.SubtopicIndex >= 0 && r.SubtopicIndex < n
	}

	var soft []string
	sum := 0
	for _, e := range w.Private.Estimates.PerSubtopic {
		if !valid(e.wireRef) {
			soft = append(soft, fmt.Sprintf("estimate for unknown subtopic %s[%d] ignored", e.ChapterID, e.SubtopicIndex))
			continue
		}
		ref := lessongen.SubtopicRef{ChapterID: strings.TrimSpace(e.ChapterID), SubtopicIndex: e.SubtopicIndex}
		draft.PerSubtopic[ref] = lessongen.Estimate{Words: max(e.Words, 0), Tokens: max(e.Tokens, 0)}
		sum += max(e.Tokens, 0)
	}
	for _, ch := range draft.TOC {
		for i := range ch.Subtopics {
			ref := lessongen.SubtopicRef{ChapterID: ch.ChapterID, SubtopicIndex: i}
			if _, ok := draft.PerSubtopic[ref]; !ok {
				draft.PerSubtopic[ref] = lessongen.Estimate{}
				soft = append(soft, fmt.Sprintf("missing estimate for %s[%d], defaulted to 0", ch.ChapterID, i))
			}
		}
	}
	draft.TotalTokens = w.Private.Estimates.TotalTokens
	if draft.TotalTokens <= 0 {
		draft.TotalTokens = sum
		if sum > 0 {
			soft = append(soft, "totalTokens missing, using sum of estimates")
		}
	}

	for i, b := range w.Private.Chunking.CohesionBlocks {
		id := strings.TrimSpace(b.BlockID)
		if id == "" {
			id = fmt.Sprintf("block-%d", i+1)
		}
		block := lessongen.CohesionBlock{
			BlockID:      id,
			TargetTokens: max(b.TargetTokens, 0),
			Rationale:    strings.TrimSpace(b.Rationale),
		}
		for _, it := range b.Items {
			if !valid(it) {
				return nil, nil, fmt.Errorf("cohesion block %q references unknown subtopic %s[%d]", id, it.ChapterID, it.SubtopicIndex)
			}
			block.Items = append(block.Items, lessongen.SubtopicRef{ChapterID: strings.TrimSpace(it.ChapterID), SubtopicIndex: it.SubtopicIndex})
		}
		if len(block.Items) == 0 {
			soft = append(soft, fmt.Sprintf("cohesion block %q has no items, dropped", id))
			continue
		}
		draft.CohesionBlocks = append(draft.CohesionBlocks, block)
	}
	return draft, soft, nil
}
