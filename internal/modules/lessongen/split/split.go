package split

import (
	"fmt"
	"math"
	"sort"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

const DefaultContinuityHints = "Maintain natural progression and avoid splitting tightly coupled subtopics."

// Split turns a planner draft into an ordered, budgeted list of subtasks whose
// ranges partition every (chapter, subtopic) pair of the TOC exactly once.
//
// Without cohesion blocks it emits one subtask per chapter with an even share
// of the token budget. With blocks it keeps block order and cuts each block
// into maximal contiguous runs, so a block with an index gap yields several
// subtasks.
func Split(draft lessongen.PlannerDraft) (lessongen.WorkloadSplit, error) {
	if len(draft.TOC) == 0 || draft.PairCount() == 0 {
		return lessongen.WorkloadSplit{}, lessongen.ErrEmptyPlan
	}
	toc, err := indexTOC(draft.TOC)
	if err != nil {
		return lessongen.WorkloadSplit{}, err
	}

	var subtasks []lessongen.SubtaskSpec
	if len(draft.CohesionBlocks) == 0 {
		subtasks = byChapter(draft)
	} else {
		subtasks, err = byBlocks(draft, toc)
		if err != nil {
			return lessongen.WorkloadSplit{}, err
		}
	}

	if err := CheckPartition(draft.TOC, subtasks); err != nil {
		return lessongen.WorkloadSplit{}, err
	}

	hints := draft.ContinuityHints
	if hints == "" {
		hints = DefaultContinuityHints
	}
	return lessongen.WorkloadSplit{Subtasks: subtasks, ContinuityHints: hints}, nil
}

func byChapter(draft lessongen.PlannerDraft) []lessongen.SubtaskSpec {
	nonEmpty := 0
	for _, ch := range draft.TOC {
		if len(ch.Subtopics) > 0 {
			nonEmpty++
		}
	}
	share := int(math.Round(float64(draft.TotalTokens) / float64(nonEmpty)))

	out := make([]lessongen.SubtaskSpec, 0, nonEmpty)
	for _, ch := range draft.TOC {
		if len(ch.Subtopics) == 0 {
			continue
		}
		order := len(out) + 1
		out = append(out, lessongen.SubtaskSpec{
			SubtaskID: subtaskID(order),
			Order:     order,
			Range: lessongen.SubtaskRange{
				StartChapterID:     ch.ChapterID,
				EndChapterID:       ch.ChapterID,
				StartSubtopicIndex: 0,
				EndSubtopicIndex:   len(ch.Subtopics) - 1,
			},
			TargetTokens: share,
			LengthHints:  hintsFor(draft.PerSubtopic, ch.ChapterID, 0, len(ch.Subtopics)-1),
			Status:       lessongen.SubtaskPending,
		})
	}
	return out
}

func byBlocks(draft lessongen.PlannerDraft, toc map[string]int) ([]lessongen.SubtaskSpec, error) {
	var out []lessongen.SubtaskSpec
	for _, block := range draft.CohesionBlocks {
		items, err := sortedItems(block, draft.TOC, toc)
		if err != nil {
			return nil, err
		}
		for _, run := range contiguousRuns(items) {
			first, last := run[0], run[len(run)-1]
			hints := hintsFor(draft.PerSubtopic, first.ChapterID, first.SubtopicIndex, last.SubtopicIndex)
			target := block.TargetTokens
			if target <= 0 {
				target = 0
				for _, h := range hints {
					target += h.TargetTokens
				}
			}
			order := len(out) + 1
			out = append(out, lessongen.SubtaskSpec{
				SubtaskID: subtaskID(order),
				Order:     order,
				BlockID:   block.BlockID,
				Range: lessongen.SubtaskRange{
					StartChapterID:     first.ChapterID,
					EndChapterID:       last.ChapterID,
					StartSubtopicIndex: first.SubtopicIndex,
					EndSubtopicIndex:   last.SubtopicIndex,
				},
				TargetTokens: target,
				LengthHints:  hints,
				Status:       lessongen.SubtaskPending,
			})
		}
	}
	return out, nil
}

// sortedItems validates a block's items against the TOC, drops repeats and
// orders them by (chapterId, subtopicIndex).
func sortedItems(block lessongen.CohesionBlock, chapters []lessongen.TOCChapter, toc map[string]int) ([]lessongen.SubtopicRef, error) {
	seen := make(map[lessongen.SubtopicRef]bool, len(block.Items))
	items := make([]lessongen.SubtopicRef, 0, len(block.Items))
	for _, it := range block.Items {
		pos, ok := toc[it.ChapterID]
		if !ok {
			return nil, fmt.Errorf("%w: block %s references unknown chapter %q", lessongen.ErrInvalidPlan, block.BlockID, it.ChapterID)
		}
		if it.SubtopicIndex < 0 || it.SubtopicIndex >= len(chapters[pos].Subtopics) {
			return nil, fmt.Errorf("%w: block %s references %s[%d] outside the chapter", lessongen.ErrInvalidPlan, block.BlockID, it.ChapterID, it.SubtopicIndex)
		}
		if seen[it] {
			continue
		}
		seen[it] = true
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
	return items, nil
}

// contiguousRuns partitions sorted items into maximal runs of one chapter with
// consecutive indices.
func contiguousRuns(items []lessongen.SubtopicRef) [][]lessongen.SubtopicRef {
	var runs [][]lessongen.SubtopicRef
	var cur []lessongen.SubtopicRef
	for _, it := range items {
		if len(cur) > 0 {
			prev := cur[len(cur)-1]
			if prev.ChapterID != it.ChapterID || it.SubtopicIndex != prev.SubtopicIndex+1 {
				runs = append(runs, cur)
				cur = nil
			}
		}
		cur = append(cur, it)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func hintsFor(est lessongen.EstimateTable, chapterID string, from, to int) []lessongen.LengthHint {
	hints := make([]lessongen.LengthHint, 0, to-from+1)
	for i := from; i <= to; i++ {
		e := est[lessongen.SubtopicRef{ChapterID: chapterID, SubtopicIndex: i}]
		hints = append(hints, lessongen.LengthHint{
			ChapterID:     chapterID,
			SubtopicIndex: i,
			TargetTokens:  e.Tokens,
			TargetWords:   e.Words,
		})
	}
	return hints
}

func subtaskID(order int) string { return fmt.Sprintf("subtask-%d", order) }

func indexTOC(chapters []lessongen.TOCChapter) (map[string]int, error) {
	pos := make(map[string]int, len(chapters))
	for i, ch := range chapters {
		if ch.ChapterID == "" {
			return nil, fmt.Errorf("%w: chapter %d has no id", lessongen.ErrInvalidPlan, i)
		}
		if _, dup := pos[ch.ChapterID]; dup {
			return nil, fmt.Errorf("%w: duplicate chapter id %q", lessongen.ErrInvalidPlan, ch.ChapterID)
		}
		pos[ch.ChapterID] = i
	}
	return pos, nil
}
