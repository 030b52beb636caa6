package assemble

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

func completed(order int) lessongen.SubtaskSpec {
	id := fmt.Sprintf("subtask-%d", order)
	return lessongen.SubtaskSpec{
		SubtaskID: id,
		Order:     order,
		Status:    lessongen.SubtaskCompleted,
		Result: &lessongen.SubtaskResult{
			OutlineDelta: []string{"point " + id},
			Sections: []lessongen.LessonSection{
				{ID: "sec-" + id, Title: "Section " + id, HTML: "<h2>" + id + "</h2><p>body</p>"},
			},
			ContentChunk: "<h2>" + id + "</h2>" + strings.Repeat("<p>Lorem ipsum dolor sit amet.</p>", 4),
		},
	}
}

func TestAssembleConcatenatesInOrder(t *testing.T) {
	in := []lessongen.SubtaskSpec{completed(3), completed(1), completed(2)}
	lesson, err := Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(lesson.Outline) != 3 || lesson.Outline[0] != "point subtask-1" || lesson.Outline[2] != "point subtask-3" {
		t.Fatalf("outline: %v", lesson.Outline)
	}
	if len(lesson.Sections) != 3 || lesson.Sections[1].ID != "sec-subtask-2" {
		t.Fatalf("sections: %+v", lesson.Sections)
	}
	want := in[1].Result.ContentChunk + "\n\n" + in[2].Result.ContentChunk + "\n\n" + in[0].Result.ContentChunk
	if lesson.Content != want {
		t.Fatalf("content not joined in order")
	}
	if lesson.ContentHash != Hash(want) || len(lesson.ContentHash) != 64 {
		t.Fatalf("content hash: %s", lesson.ContentHash)
	}
	if in[0].Order != 3 {
		t.Fatalf("input slice must not be reordered")
	}
}

func TestAssembleHashDeterministic(t *testing.T) {
	a, err := Assemble([]lessongen.SubtaskSpec{completed(1), completed(2)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	b, err := Assemble([]lessongen.SubtaskSpec{completed(1), completed(2)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if a.ContentHash != b.ContentHash {
		t.Fatalf("hash differs for identical input: %s vs %s", a.ContentHash, b.ContentHash)
	}
}

// Every non-empty subset of missing subtasks, across every ordering of the
// input, must name the lowest-order missing subtask.
func TestAssembleNamesFirstIncompleteSubtask(t *testing.T) {
	const n = 4
	perms := permutations([]int{1, 2, 3, 4})
	for mask := 1; mask < 1<<n; mask++ {
		first := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				first = i + 1
				break
			}
		}
		for _, perm := range perms {
			var in []lessongen.SubtaskSpec
			for _, order := range perm {
				st := completed(order)
				if mask&(1<<(order-1)) != 0 {
					if order%2 == 0 {
						st.Status = lessongen.SubtaskFailed
					} else {
						st.Result = nil
					}
				}
				in = append(in, st)
			}
			_, err := Assemble(in)
			var ae *lessongen.AssemblyError
			if !errors.As(err, &ae) {
				t.Fatalf("mask=%b perm=%v: want AssemblyError got %v", mask, perm, err)
			}
			if want := fmt.Sprintf("subtask-%d", first); ae.SubtaskID != want {
				t.Fatalf("mask=%b perm=%v: want %s got %s", mask, perm, want, ae.SubtaskID)
			}
			if !errors.Is(err, lessongen.ErrAssembly) {
				t.Fatalf("AssemblyError must unwrap to ErrAssembly")
			}
		}
	}
}

func TestValidate(t *testing.T) {
	good, err := Assemble([]lessongen.SubtaskSpec{completed(1), completed(2)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if rep := Validate(good); !rep.OK() || len(rep.Issues) != 0 {
		t.Fatalf("good lesson: %+v", rep.Issues)
	}

	noHeadings := good
	noHeadings.Content = strings.Repeat("plain text without markup. ", 10)
	rep := Validate(noHeadings)
	if !rep.OK() || len(rep.Warnings()) != 1 {
		t.Fatalf("missing headings should only warn: %+v", rep.Issues)
	}

	bad := lessongen.AssembledLesson{
		Sections: []lessongen.LessonSection{{ID: "s1", Title: "", HTML: "<p>x</p>"}},
		Content:  "tiny",
	}
	rep = Validate(bad)
	if rep.OK() {
		t.Fatalf("bad lesson passed validation")
	}
	if len(rep.Fatal()) != 3 {
		t.Fatalf("want 3 fatal issues (outline, length, section) got %+v", rep.Fatal())
	}
}

func TestFinalizeRejectsFatalIssues(t *testing.T) {
	st := completed(1)
	st.Result.ContentChunk = "<h1>x</h1>"
	_, _, err := Finalize([]lessongen.SubtaskSpec{st})
	var ae *lessongen.AssemblyError
	if !errors.As(err, &ae) || ae.SubtaskID != "" || len(ae.Issues) == 0 {
		t.Fatalf("want validation AssemblyError got %v", err)
	}
}

func permutations(xs []int) [][]int {
	if len(xs) <= 1 {
		return [][]int{append([]int(nil), xs...)}
	}
	var out [][]int
	for i := range xs {
		rest := make([]int, 0, len(xs)-1)
		rest = append(rest, xs[:i]...)
		rest = append(rest, xs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{xs[i]}, p...))
		}
	}
	return out
}
