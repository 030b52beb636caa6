package prompts

import (
	"strings"
	"testing"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

func TestProfilesCoverEveryDomain(t *testing.T) {
	for _, d := range []lessongen.Domain{lessongen.DomainCBC, lessongen.DomainGCSE, lessongen.DomainUpskill} {
		p, err := ProfileFor(d)
		if err != nil {
			t.Fatalf("ProfileFor(%s): %v", d, err)
		}
		if p.Domain != d || p.CurriculumName == "" || len(p.Pedagogy) == 0 {
			t.Fatalf("incomplete profile for %s: %+v", d, p)
		}
	}
	p, err := ProfileFor("unknown")
	if err != nil || p.Domain != lessongen.DomainCBC {
		t.Fatalf("fallback: %+v %v", p, err)
	}
}

func TestParseProfilesRejectsUnknownDomain(t *testing.T) {
	if _, err := ParseProfiles([]byte("ib:\n  curriculum_name: x\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildWriterPrompt(t *testing.T) {
	prof, _ := ProfileFor(lessongen.DomainGCSE)
	p, err := Build(WriterChunk, Input{
		Profile:       prof,
		TOCJSON:       `[{"chapter_id":"chap-1"}]`,
		RangeLabel:    "chap-1[0..2]",
		Order:         2,
		TotalSubtasks: 3,
		TargetTokens:  500,
		Continuity:    "previous tail",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.System, prof.WriterLabel) {
		t.Fatalf("system missing label: %q", p.System)
	}
	if !strings.Contains(p.User, "Part 2 of 3: chap-1[0..2]") || !strings.Contains(p.User, "previous tail") {
		t.Fatalf("user prompt: %q", p.User)
	}
	if strings.Contains(p.User, "Continuity hints") {
		t.Fatalf("empty hints should be omitted")
	}
	if p.SchemaName != "lesson_chunk" || p.Schema["type"] != "object" {
		t.Fatalf("schema: %s %v", p.SchemaName, p.Schema["type"])
	}
}

func TestFingerprintStable(t *testing.T) {
	prof, _ := ProfileFor(lessongen.DomainCBC)
	in := Input{Profile: prof, RequestJSON: `{"topic":"fractions"}`, Headline: "fractions"}
	a, _ := Build(PlannerDraft, in)
	b, _ := Build(PlannerDraft, in)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint differs")
	}
	in.Feedback = "shorter"
	c, _ := Build(PlannerDraft, in)
	if c.Fingerprint() == a.Fingerprint() {
		t.Fatalf("feedback should change fingerprint")
	}
}

func TestSchemasAreStrict(t *testing.T) {
	var walk func(path string, s map[string]any)
	walk = func(path string, s map[string]any) {
		if s["type"] == "object" {
			props := s["properties"].(map[string]any)
			req := s["required"].([]string)
			if len(req) != len(props) || s["additionalProperties"] != false {
				t.Fatalf("%s: not strict", path)
			}
			for k, v := range props {
				walk(path+"."+k, v.(map[string]any))
			}
		}
		if items, ok := s["items"].(map[string]any); ok {
			walk(path+"[]", items)
		}
	}
	walk("planner", PlannerSchema())
	walk("writer", WriterSchema())
}
