package lessongen

import (
	"encoding/json"
	"sort"
	"strings"
)

// Domain selects the curriculum flavour a request is planned and written for.
type Domain string

const (
	DomainCBC     Domain = "cbc"
	DomainGCSE    Domain = "gcse"
	DomainUpskill Domain = "upskill"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainCBC, DomainGCSE, DomainUpskill:
		return true
	default:
		return false
	}
}

// LearningRequest is forwarded as-is to the planner prompt.
type LearningRequest struct {
	Domain            Domain `json:"domain,omitempty"`
	Goal              string `json:"goal,omitempty"`
	Topic             string `json:"topic,omitempty"`
	Subject           string `json:"subject,omitempty"`
	Grade             string `json:"grade,omitempty"`
	Level             string `json:"level,omitempty"`
	Timeline          string `json:"timeline,omitempty"`
	HoursPerWeek      int    `json:"hours_per_week,omitempty"`
	Preferences       string `json:"preferences,omitempty"`
	Motivation        string `json:"motivation,omitempty"`
	Specification     string `json:"specification,omitempty"`
	CurriculumContext string `json:"curriculum_context,omitempty"`
}

// ResolveDomain returns the explicit tag, or infers one from the grade and goal.
func (r LearningRequest) ResolveDomain() Domain {
	if r.Domain.Valid() {
		return r.Domain
	}
	grade := strings.ToLower(strings.TrimSpace(r.Grade))
	switch {
	case strings.Contains(grade, "gcse"), strings.Contains(grade, "igcse"), strings.HasPrefix(grade, "year "):
		return DomainGCSE
	case grade == "" && strings.TrimSpace(r.Goal) != "":
		return DomainUpskill
	default:
		return DomainCBC
	}
}

// Headline is the best single-line description of what is being learned.
func (r LearningRequest) Headline() string {
	if t := strings.TrimSpace(r.Topic); t != "" {
		return t
	}
	return strings.TrimSpace(r.Goal)
}

type TOCChapter struct {
	ChapterID     string   `json:"chapter_id"`
	Title         string   `json:"title"`
	Subtopics     []string `json:"subtopics"`
	Description   string   `json:"description,omitempty"`
	LearningGoals []string `json:"learning_goals,omitempty"`
}

// SubtopicRef addresses one subtopic by chapter and 0-based index.
type SubtopicRef struct {
	ChapterID     string `json:"chapter_id"`
	SubtopicIndex int    `json:"subtopic_index"`
}

func (r SubtopicRef) Less(o SubtopicRef) bool {
	if r.ChapterID != o.ChapterID {
		return r.ChapterID < o.ChapterID
	}
	return r.SubtopicIndex < o.SubtopicIndex
}

type CohesionBlock struct {
	BlockID      string        `json:"block_id"`
	Items        []SubtopicRef `json:"items"`
	TargetTokens int           `json:"target_tokens"`
	Rationale    string        `json:"rationale,omitempty"`
}

type Estimate struct {
	Words  int `json:"words"`
	Tokens int `json:"tokens"`
}

// EstimateTable maps a subtopic to its size estimate. It serializes as a list.
type EstimateTable map[SubtopicRef]Estimate

type estimateRow struct {
	ChapterID     string `json:"chapter_id"`
	SubtopicIndex int    `json:"subtopic_index"`
	Words         int    `json:"words"`
	Tokens        int    `json:"tokens"`
}

func (t EstimateTable) MarshalJSON() ([]byte, error) {
	rows := make([]estimateRow, 0, len(t))
	for ref, est := range t {
		rows = append(rows, estimateRow{
			ChapterID:     ref.ChapterID,
			SubtopicIndex: ref.SubtopicIndex,
			Words:         est.Words,
			Tokens:        est.Tokens,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a := SubtopicRef{rows[i].ChapterID, rows[i].SubtopicIndex}
		return a.Less(SubtopicRef{rows[j].ChapterID, rows[j].SubtopicIndex})
	})
	return json.Marshal(rows)
}

func (t *EstimateTable) UnmarshalJSON(b []byte) error {
	var rows []estimateRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	out := make(EstimateTable, len(rows))
	for _, r := range rows {
		out[SubtopicRef{ChapterID: r.ChapterID, SubtopicIndex: r.SubtopicIndex}] = Estimate{Words: r.Words, Tokens: r.Tokens}
	}
	*t = out
	return nil
}

type PlannerDraft struct {
	TOC                     []TOCChapter    `json:"toc"`
	CohesionBlocks          []CohesionBlock `json:"cohesion_blocks"`
	PerSubtopic             EstimateTable   `json:"per_subtopic"`
	TotalTokens             int             `json:"total_tokens"`
	SequencingRationale     string          `json:"sequencing_rationale,omitempty"`
	LearningOutcome         string          `json:"learning_outcome,omitempty"`
	RecommendedChapterCount int             `json:"recommended_chapter_count,omitempty"`
	ContinuityHints         string          `json:"continuity_hints,omitempty"`
}

// PairCount is the number of (chapter, subtopic) pairs in the TOC.
func (d PlannerDraft) PairCount() int {
	n := 0
	for _, ch := range d.TOC {
		n += len(ch.Subtopics)
	}
	return n
}

type SubtaskRange struct {
	StartChapterID     string `json:"start_chapter_id"`
	EndChapterID       string `json:"end_chapter_id"`
	StartSubtopicIndex int    `json:"start_subtopic_index"`
	EndSubtopicIndex   int    `json:"end_subtopic_index"`
}

type LengthHint struct {
	ChapterID     string `json:"chapter_id"`
	SubtopicIndex int    `json:"subtopic_index"`
	TargetTokens  int    `json:"target_tokens"`
	TargetWords   int    `json:"target_words,omitempty"`
}

type LessonSection struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	HTML         string `json:"html"`
	Image        string `json:"image,omitempty"`
	QuizAnchorID string `json:"quiz_anchor_id,omitempty"`
}

type SubtaskResult struct {
	OutlineDelta []string        `json:"outline_delta"`
	Sections     []LessonSection `json:"sections"`
	ContentChunk string          `json:"content_chunk"`
}

// SubtaskSpec is one unit of writing work as produced by the splitter.
type SubtaskSpec struct {
	SubtaskID    string         `json:"subtask_id"`
	Order        int            `json:"order"`
	BlockID      string         `json:"block_id,omitempty"`
	Range        SubtaskRange   `json:"range"`
	TargetTokens int            `json:"target_tokens"`
	LengthHints  []LengthHint   `json:"length_hints"`
	Status       SubtaskStatus  `json:"status"`
	Result       *SubtaskResult `json:"result,omitempty"`
}

type WorkloadSplit struct {
	Subtasks        []SubtaskSpec `json:"subtasks"`
	ContinuityHints string        `json:"continuity_hints"`
}

type AssembledLesson struct {
	Outline     []string        `json:"outline"`
	Sections    []LessonSection `json:"sections"`
	Content     string          `json:"content"`
	ContentHash string          `json:"content_hash"`
}

type IssueSeverity string

const (
	IssueFatal   IssueSeverity = "fatal"
	IssueWarning IssueSeverity = "warning"
)

type ValidationIssue struct {
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

type ValidationReport struct {
	Issues []ValidationIssue `json:"issues"`
}

func (r ValidationReport) Fatal() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == IssueFatal {
			out = append(out, is)
		}
	}
	return out
}

func (r ValidationReport) Warnings() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == IssueWarning {
			out = append(out, is)
		}
	}
	return out
}

func (r ValidationReport) OK() bool { return len(r.Fatal()) == 0 }
