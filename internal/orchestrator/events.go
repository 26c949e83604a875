package orchestrator

import "time"

// EventType tags an Event
type EventType string

const (
	EventStage    EventType = "stage"
	EventFinished EventType = "finished"
	EventError    EventType = "error"
)

// Event reports one completed stage, the terminal outcome, or a fatal failure.
// Stage events only populate the fields their stage changed.
type Event struct {
	RunID     string    `json:"run_id"`
	Sequence  int       `json:"sequence"`
	Type      EventType `json:"type"`
	Stage     Stage     `json:"stage"`
	Cycle     int       `json:"cycle"`
	Iteration int       `json:"iteration"`
	Progress  float64   `json:"progress"`
	Timestamp time.Time `json:"timestamp"`

	Artifact    string `json:"yaml_content,omitempty"`
	Explanation string `json:"architecture_explanation,omitempty"`

	RenderSucceeded *bool           `json:"diagram_generated,omitempty"`
	RenderFeedback  *RenderFeedback `json:"render_feedback,omitempty"`
	ImagePath       string          `json:"image_path,omitempty"`

	ValidationResult string   `json:"validation_result,omitempty"`
	Score            *float64 `json:"score,omitempty"`

	Outcome *Outcome   `json:"outcome,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// Terminal reports whether no further events follow
func (e Event) Terminal() bool {
	return e.Type == EventFinished || e.Type == EventError
}

// ErrorInfo is the event form of a StageError
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Trace   string    `json:"traceback,omitempty"`
}

// Outcome summarises a finished run
type Outcome struct {
	Accepted         bool            `json:"accepted"`
	Reason           Reason          `json:"reason,omitempty"`
	Score            float64         `json:"score"`
	Artifact         string          `json:"yaml_content"`
	Explanation      string          `json:"architecture_explanation,omitempty"`
	ValidationResult string          `json:"validation_result,omitempty"`
	RenderFeedback   *RenderFeedback `json:"render_feedback,omitempty"`
	Image            *Image          `json:"image,omitempty"`
	Cycles           int             `json:"cycles"`
	Iterations       int             `json:"iterations"`
	Duration         time.Duration   `json:"duration"`
	Error            *ErrorInfo      `json:"error,omitempty"`
}

// EventCallback receives events in order. It runs on the orchestrator goroutine.
type EventCallback func(ev Event)

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }
