package lessongen

// State is a pipeline state. Plans move through idle/planning/accepting,
// runs through splitting/generating and the terminal states.
type State string

const (
	StateIdle       State = "idle"
	StatePlanning   State = "planning"
	StateAccepting  State = "accepting"
	StateSplitting  State = "splitting"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

var transitions = map[State][]State{
	StateIdle:       {StatePlanning, StateAccepting},
	StatePlanning:   {StateIdle},
	StateAccepting:  {StateSplitting},
	StateSplitting:  {StateGenerating},
	StateGenerating: {StateGenerating, StateCompleted},
}

// CanTransition reports whether from -> to is a legal move. Error is reachable
// from any non-terminal state and cancellation from any state but itself.
func CanTransition(from, to State) bool {
	switch to {
	case StateError:
		return !from.Terminal()
	case StateCancelled:
		return from != StateCancelled
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states never make progress again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
)

type PlanStatus string

const (
	PlanProposed PlanStatus = "proposed"
	PlanRefined  PlanStatus = "refined"
	PlanAccepted PlanStatus = "accepted"
	PlanFailed   PlanStatus = "failed"
)

type LessonStatus string

const (
	LessonTOCApproved LessonStatus = "toc_approved"
	LessonGenerating  LessonStatus = "generating"
	LessonDone        LessonStatus = "done"
	LessonError       LessonStatus = "error"
	LessonCancelled   LessonStatus = "cancelled"
)

type EventType string

const (
	EventPlanned         EventType = "planned"
	EventSubtaskStarted  EventType = "subtask_started"
	EventSubtaskComplete EventType = "subtask_complete"
	EventSubtaskFailed   EventType = "subtask_failed"
	EventAssembled       EventType = "assembled"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
	EventCancelled       EventType = "cancelled"
)

// Closes reports whether a progress stream ends after delivering this event.
func (e EventType) Closes() bool {
	return e == EventCompleted || e == EventError || e == EventCancelled
}

type Agent string

const (
	AgentPlanner   Agent = "planner"
	AgentWriter    Agent = "writer"
	AgentAssembler Agent = "assembler"
)
