package assemble

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

// MinContentLength is the shortest trimmed content accepted as a lesson.
const MinContentLength = 100

var headingRe = regexp.MustCompile(`(?i)<h[1-6][\s>]`)

// Assemble merges completed subtasks into one lesson. It never returns a
// partial lesson: the first subtask (by order) that is not completed or has no
// result aborts with an *AssemblyError naming it.
func Assemble(subtasks []lessongen.SubtaskSpec) (lessongen.AssembledLesson, error) {
	sorted := make([]lessongen.SubtaskSpec, len(subtasks))
	copy(sorted, subtasks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, st := range sorted {
		if st.Status != lessongen.SubtaskCompleted || st.Result == nil {
			return lessongen.AssembledLesson{}, &lessongen.AssemblyError{SubtaskID: st.SubtaskID}
		}
	}

	out := lessongen.AssembledLesson{
		Outline:  []string{},
		Sections: []lessongen.LessonSection{},
	}
	chunks := make([]string, 0, len(sorted))
	for _, st := range sorted {
		out.Outline = append(out.Outline, st.Result.OutlineDelta...)
		out.Sections = append(out.Sections, st.Result.Sections...)
		chunks = append(chunks, st.Result.ContentChunk)
	}
	out.Content = strings.Join(chunks, "\n\n")
	out.ContentHash = Hash(out.Content)
	return out, nil
}

// Hash is the hex sha256 digest used for lesson and chunk identity.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate reports structural problems. Fatal issues block completion;
// warnings are informational.
func Validate(lesson lessongen.AssembledLesson) lessongen.ValidationReport {
	var rep lessongen.ValidationReport
	fatal := func(msg string) {
		rep.Issues = append(rep.Issues, lessongen.ValidationIssue{Severity: lessongen.IssueFatal, Message: msg})
	}

	if len(lesson.Outline) == 0 {
		fatal("Outline is empty")
	}
	if len(lesson.Sections) == 0 {
		fatal("No sections found")
	}
	if len(strings.TrimSpace(lesson.Content)) < MinContentLength {
		fatal("Content is too short or empty")
	}
	for i, s := range lesson.Sections {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.HTML) == "" {
			fatal("Section " + sectionLabel(i, s) + " is missing required fields")
		}
	}
	if lesson.Content != "" && !headingRe.MatchString(lesson.Content) {
		rep.Issues = append(rep.Issues, lessongen.ValidationIssue{
			Severity: lessongen.IssueWarning,
			Message:  "No headings found in content",
		})
	}
	return rep
}

// Finalize assembles and validates in one step; fatal validation issues are
// returned as an *AssemblyError carrying the messages.
func Finalize(subtasks []lessongen.SubtaskSpec) (lessongen.AssembledLesson, lessongen.ValidationReport, error) {
	lesson, err := Assemble(subtasks)
	if err != nil {
		return lessongen.AssembledLesson{}, lessongen.ValidationReport{}, err
	}
	rep := Validate(lesson)
	if !rep.OK() {
		msgs := make([]string, 0, len(rep.Fatal()))
		for _, is := range rep.Fatal() {
			msgs = append(msgs, is.Message)
		}
		return lesson, rep, &lessongen.AssemblyError{Issues: msgs}
	}
	return lesson, rep, nil
}

func sectionLabel(i int, s lessongen.LessonSection) string {
	if s.ID != "" {
		return s.ID
	}
	return "#" + strconv.Itoa(i+1)
}
