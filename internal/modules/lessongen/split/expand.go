package split

import (
	"fmt"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

// Expand lists every (chapter, subtopic) pair a range covers, in TOC order.
// A cross-chapter range runs from its start index to the end of the start
// chapter, through every middle chapter, and into the end chapter up to its
// end index.
func Expand(toc []lessongen.TOCChapter, r lessongen.SubtaskRange) ([]lessongen.SubtopicRef, error) {
	pos, err := indexTOC(toc)
	if err != nil {
		return nil, err
	}
	startPos, ok := pos[r.StartChapterID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown start chapter %q", lessongen.ErrInvalidPlan, r.StartChapterID)
	}
	endPos, ok := pos[r.EndChapterID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown end chapter %q", lessongen.ErrInvalidPlan, r.EndChapterID)
	}
	if endPos < startPos {
		return nil, fmt.Errorf("%w: range ends at %s before it starts at %s", lessongen.ErrInvalidPlan, r.EndChapterID, r.StartChapterID)
	}

	var out []lessongen.SubtopicRef
	for p := startPos; p <= endPos; p++ {
		ch := toc[p]
		from, to := 0, len(ch.Subtopics)-1
		if p == startPos {
			from = r.StartSubtopicIndex
		}
		if p == endPos {
			to = r.EndSubtopicIndex
		}
		badStart := p == startPos && (from < 0 || from >= len(ch.Subtopics))
		badEnd := p == endPos && (to < 0 || to >= len(ch.Subtopics))
		if badStart || badEnd || (p == startPos && p == endPos && from > to) {
			return nil, fmt.Errorf("%w: range %s[%d]..%s[%d] is out of bounds", lessongen.ErrInvalidPlan,
				r.StartChapterID, r.StartSubtopicIndex, r.EndChapterID, r.EndSubtopicIndex)
		}
		for i := from; i <= to; i++ {
			out = append(out, lessongen.SubtopicRef{ChapterID: ch.ChapterID, SubtopicIndex: i})
		}
	}
	return out, nil
}

// CheckPartition verifies the subtasks cover every TOC pair exactly once.
func CheckPartition(toc []lessongen.TOCChapter, subtasks []lessongen.SubtaskSpec) error {
	owner := make(map[lessongen.SubtopicRef]string)
	for _, st := range subtasks {
		refs, err := Expand(toc, st.Range)
		if err != nil {
			return fmt.Errorf("subtask %s: %w", st.SubtaskID, err)
		}
		for _, ref := range refs {
			if prev, dup := owner[ref]; dup {
				return fmt.Errorf("%w: %s[%d] covered by both %s and %s", lessongen.ErrInvalidPlan,
					ref.ChapterID, ref.SubtopicIndex, prev, st.SubtaskID)
			}
			owner[ref] = st.SubtaskID
		}
	}
	for _, ch := range toc {
		for i := range ch.Subtopics {
			if _, ok := owner[lessongen.SubtopicRef{ChapterID: ch.ChapterID, SubtopicIndex: i}]; !ok {
				return fmt.Errorf("%w: %s[%d] is not covered by any subtask", lessongen.ErrInvalidPlan, ch.ChapterID, i)
			}
		}
	}
	return nil
}
