package lessongen

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPlanningFailed = errors.New("planning failed")
	ErrEmptyPlan      = errors.New("plan has no subtopics")
	ErrInvalidPlan    = errors.New("plan is inconsistent")
	ErrWritingFailed  = errors.New("writing failed")
	ErrAssembly       = errors.New("assembly failed")
	ErrRunConflict    = errors.New("run already in progress")
	ErrAuthExpired    = errors.New("auth expired")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
)

// AssemblyError names the subtask that blocked assembly, or carries the fatal
// validation issues when every subtask was complete.
type AssemblyError struct {
	SubtaskID string
	Issues    []string
}

func (e *AssemblyError) Error() string {
	if e == nil {
		return ""
	}
	if e.SubtaskID != "" {
		return fmt.Sprintf("cannot assemble: subtask %s is not completed", e.SubtaskID)
	}
	return "assembled lesson failed validation: " + strings.Join(e.Issues, "; ")
}

func (e *AssemblyError) Unwrap() error { return ErrAssembly }
