package prompts

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

//go:embed profiles.yaml
var profilesYAML []byte

// Profile carries the per-domain framing shared by planner and writer prompts.
type Profile struct {
	Domain         lessongen.Domain `yaml:"-"`
	CurriculumName string           `yaml:"curriculum_name"`
	WriterLabel    string           `yaml:"writer_label"`
	PlannerNote    string           `yaml:"planner_note"`
	ContextNote    string           `yaml:"context_note"`
	Pedagogy       []string         `yaml:"pedagogy"`
}

var (
	profilesOnce sync.Once
	profiles     map[lessongen.Domain]Profile
	profilesErr  error
)

// ParseProfiles decodes a YAML document keyed by domain tag.
func ParseProfiles(raw []byte) (map[lessongen.Domain]Profile, error) {
	var byName map[string]Profile
	if err := yaml.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("parse domain profiles: %w", err)
	}
	out := make(map[lessongen.Domain]Profile, len(byName))
	for name, p := range byName {
		d := lessongen.Domain(name)
		if !d.Valid() {
			return nil, fmt.Errorf("unknown domain %q in profiles", name)
		}
		p.Domain = d
		out[d] = p
	}
	return out, nil
}

// ProfileFor returns the built-in profile of d, falling back to cbc.
func ProfileFor(d lessongen.Domain) (Profile, error) {
	profilesOnce.Do(func() {
		profiles, profilesErr = ParseProfiles(profilesYAML)
	})
	if profilesErr != nil {
		return Profile{}, profilesErr
	}
	if p, ok := profiles[d]; ok {
		return p, nil
	}
	return profiles[lessongen.DomainCBC], nil
}
