package prompts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

type Name string

const (
	PlannerDraft Name = "lesson_planner_draft"
	WriterChunk  Name = "lesson_writer_chunk"
)

// Prompt is a rendered request ready for llm.Client.GenerateJSON.
type Prompt struct {
	Name       Name
	Version    int
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

func (p Prompt) Fingerprint() string {
	h := sha256.Sum256([]byte(
		string(p.Name) + "|" +
			strconv.Itoa(p.Version) + "|" +
			strings.TrimSpace(p.System) + "|" +
			strings.TrimSpace(p.User),
	))
	return hex.EncodeToString(h[:])
}

// Input is the superset of fields either prompt renders.
// Missing fields render empty (missingkey=zero).
type Input struct {
	Profile Profile

	// Planner
	RequestJSON       string
	Headline          string
	CurriculumContext string
	Feedback          string
	PreviousDraftJSON string

	// Writer
	TOCJSON         string
	RangeLabel      string
	SubtopicsJSON   string
	LengthHintsJSON string
	TargetTokens    int
	TargetWords     int
	Order           int
	TotalSubtasks   int
	Continuity      string
	ContinuityHints string
}

type spec struct {
	name       Name
	version    int
	schemaName string
	schema     func() map[string]any
	system     string
	user       string
}

type compiled struct {
	spec
	sys  *template.Template
	user *template.Template
}

var registry = map[Name]compiled{}

func register(s spec) {
	sysT := template.Must(template.New("system").Option("missingkey=zero").Parse(s.system))
	userT := template.Must(template.New("user").Option("missingkey=zero").Parse(s.user))
	registry[s.name] = compiled{spec: s, sys: sysT, user: userT}
}

// Build renders the named prompt against in.
func Build(name Name, in Input) (Prompt, error) {
	c, ok := registry[name]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt: %s", name)
	}
	render := func(t *template.Template) (string, error) {
		var b bytes.Buffer
		if err := t.Execute(&b, in); err != nil {
			return "", fmt.Errorf("%s render: %w", name, err)
		}
		return strings.TrimSpace(b.String()), nil
	}
	sys, err := render(c.sys)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render(c.user)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Name:       c.name,
		Version:    c.version,
		System:     sys,
		User:       user,
		SchemaName: c.schemaName,
		Schema:     c.schema(),
	}, nil
}

func init() {
	register(spec{
		name:       PlannerDraft,
		version:    1,
		schemaName: "lesson_plan",
		schema:     PlannerSchema,
		system: `
You are an expert curriculum planner for {{.Profile.CurriculumName}}.
Design a table of contents for one lesson and size every subtopic.
{{.Profile.PlannerNote}}

Rules:
- chapterId values are unique and stable (chap-1, chap-2, ...).
- Every chapter has at least one subtopic; subtopics are addressed by 0-based index.
- private.estimates.perSubtopic has one entry per (chapterId, subtopicIndex).
- cohesionBlocks group subtopics that should be written together; use an empty list when none apply.
- Every cohesion block item must reference a subtopic present in the toc.
- continuityHints describe tone, terminology and running examples the writer must keep consistent.`,
		user: `
Learning request:
{{.RequestJSON}}

Focus: {{.Headline}}
{{- if .CurriculumContext}}

Curriculum context:
{{.CurriculumContext}}
{{- end}}
{{- if .PreviousDraftJSON}}

Previous draft:
{{.PreviousDraftJSON}}
{{- end}}
{{- if .Feedback}}

Learner feedback to address in this revision:
{{.Feedback}}
{{- end}}`,
	})

	register(spec{
		name:       WriterChunk,
		version:    1,
		schemaName: "lesson_chunk",
		schema:     WriterSchema,
		system: `
You write {{.Profile.WriterLabel}} lesson content.
{{.Profile.ContextNote}}
Cover, where they fit: {{range $i, $p := .Profile.Pedagogy}}{{if $i}}, {{end}}{{$p}}{{end}}.

Rules:
- Write only the assigned subtopics, in order, and nothing from other parts of the table of contents.
- Each section has a unique id, a title and an html body with at least one heading.
- contentChunk is the full HTML of this part, continuing seamlessly from the previous excerpt.
- outlineDelta lists the outline entries this part adds.`,
		user: `
Table of contents:
{{.TOCJSON}}

Part {{.Order}} of {{.TotalSubtasks}}: {{.RangeLabel}}
Assigned subtopics:
{{.SubtopicsJSON}}

Target length: about {{.TargetTokens}} tokens{{if .TargetWords}} ({{.TargetWords}} words){{end}}.
Per-subtopic length hints:
{{.LengthHintsJSON}}
{{- if .ContinuityHints}}

Continuity hints:
{{.ContinuityHints}}
{{- end}}
{{- if .Continuity}}

The previous part ended with:
"""
{{.Continuity}}
"""
{{- end}}`,
	})
}
