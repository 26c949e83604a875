package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage identifies a position in the refinement state machine
type Stage string

const (
	// StageStart is the initial position of every run
	StageStart Stage = "start"

	// StageGenerate asks the Generator for a new artifact
	StageGenerate Stage = "generate"

	// StageRender turns the artifact into an image
	StageRender Stage = "render"

	// StageValidate critiques and scores the rendered artifact
	StageValidate Stage = "validate"

	// StageFinish is terminal
	StageFinish Stage = "finish"
)

// Stages returns the executable stages in cycle order
func Stages() []Stage {
	return []Stage{StageGenerate, StageRender, StageValidate}
}

// Progress returns the fraction of a cycle completed once the stage is done.
func (s Stage) Progress() float64 {
	switch s {
	case StageGenerate:
		return 0.33
	case StageRender:
		return 0.66
	case StageValidate:
		return 0.8
	case StageFinish:
		return 1.0
	default:
		return 0
	}
}

// Message is one entry of the conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RenderFeedback is the structured output of the renderer
type RenderFeedback struct {
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
	Suggestions []string `json:"suggestions"`
}

// Empty reports whether the feedback carries no entries
func (f *RenderFeedback) Empty() bool {
	return f == nil || len(f.Warnings)+len(f.Errors)+len(f.Suggestions) == 0
}

// Clone returns a deep copy
func (f *RenderFeedback) Clone() *RenderFeedback {
	if f == nil {
		return nil
	}
	return &RenderFeedback{
		Warnings:    append([]string(nil), f.Warnings...),
		Errors:      append([]string(nil), f.Errors...),
		Suggestions: append([]string(nil), f.Suggestions...),
	}
}

// Image is a handle to a rendered diagram
type Image struct {
	Path      string `json:"path,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"-"`
}

// WorkflowState is the record threaded through every stage of one run.
// It is owned by a single run and must never be shared across runs.
type WorkflowState struct {
	RunID               string          `json:"run_id"`
	Requirement         string          `json:"requirement"`
	ConversationHistory []Message       `json:"conversation_history"`
	Artifact            string          `json:"artifact"`
	Explanation         string          `json:"explanation"`
	RenderSucceeded     bool            `json:"render_succeeded"`
	RenderFeedback      *RenderFeedback `json:"render_feedback,omitempty"`
	Image               *Image          `json:"image,omitempty"`
	ValidationResult    string          `json:"validation_result"`
	Score               float64         `json:"score"`
	PreviousValidation  string          `json:"previous_validation"`
	PreviousScore       float64         `json:"previous_score"`
	IterationCount      int             `json:"iteration_count"`
	Cycle               int             `json:"cycle"`
	CurrentStage        Stage           `json:"current_stage"`
	NextStage           Stage           `json:"next_stage"`
	ModelID             string          `json:"model_id"`
	StartedAt           time.Time       `json:"started_at"`
}

// NewWorkflowState creates the state for a fresh run
func NewWorkflowState(runID, requirement, modelID string) *WorkflowState {
	return &WorkflowState{
		RunID:        runID,
		Requirement:  requirement,
		ModelID:      modelID,
		CurrentStage: StageStart,
		StartedAt:    time.Now(),
	}
}

func (s *WorkflowState) appendHistory(role, content string) {
	s.ConversationHistory = append(s.ConversationHistory, Message{Role: role, Content: content})
}

// History returns a copy of the conversation history
func (s *WorkflowState) History() []Message {
	return append([]Message(nil), s.ConversationHistory...)
}

// Defaults for Config
const (
	DefaultAcceptThreshold = 90.0
	DefaultMaxCycles       = 5
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid refinement config")

// Config controls acceptance and termination of the refinement loop
type Config struct {
	// AcceptThreshold is the minimum score that accepts an artifact (inclusive)
	AcceptThreshold float64 `json:"accept_threshold" koanf:"accept_threshold"`

	// MaxCycles bounds the number of Generate→Render→Validate cycles
	MaxCycles int `json:"max_cycles" koanf:"max_cycles"`

	// MaxIterations, when set, is the raw cap on Decision Function calls and overrides MaxCycles
	MaxIterations int `json:"max_iterations,omitempty" koanf:"max_iterations"`

	// RefineKeywords force another cycle when the critique mentions any of them, even above
	// the threshold. Matching is case-insensitive. Empty disables the check.
	RefineKeywords []string `json:"refine_keywords,omitempty" koanf:"refine_keywords"`

	// StageTimeout bounds each collaborator call. Zero means no timeout.
	StageTimeout time.Duration `json:"stage_timeout,omitempty" koanf:"stage_timeout"`
}

// DefaultConfig returns the threshold-only configuration
func DefaultConfig() Config {
	return Config{
		AcceptThreshold: DefaultAcceptThreshold,
		MaxCycles:       DefaultMaxCycles,
	}
}

// IterationsForCycles converts a cycle budget into a Decision Function cap.
// Cycle n ends with decision call 3n+1, which is where the budget check fires.
func IterationsForCycles(cycles int) int {
	return cycles*len(Stages()) + 1
}

// IterationCap returns the number of Decision Function calls after which a run finishes
func (c Config) IterationCap() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	cycles := c.MaxCycles
	if cycles <= 0 {
		cycles = DefaultMaxCycles
	}
	return IterationsForCycles(cycles)
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 100 {
		return fmt.Errorf("%w: accept_threshold must be within [0,100], got %v", ErrInvalidConfig, c.AcceptThreshold)
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("%w: max_cycles must be >= 0, got %d", ErrInvalidConfig, c.MaxCycles)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be >= 0, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.StageTimeout < 0 {
		return fmt.Errorf("%w: stage_timeout must be >= 0", ErrInvalidConfig)
	}
	for _, kw := range c.RefineKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("%w: refine_keywords must not contain blank entries", ErrInvalidConfig)
		}
	}
	return nil
}

// WithDefaults fills zero values with defaults
func (c Config) WithDefaults() Config {
	if c.AcceptThreshold == 0 {
		c.AcceptThreshold = DefaultAcceptThreshold
	}
	if c.MaxCycles == 0 {
		c.MaxCycles = DefaultMaxCycles
	}
	return c
}

// Accepts reports whether the validated state meets the acceptance criteria
func (c Config) Accepts(s *WorkflowState) bool {
	if s.ValidationResult == "" {
		return false
	}
	if s.Score < c.AcceptThreshold {
		return false
	}
	return matchKeyword(s.ValidationResult, c.RefineKeywords) == ""
}

func matchKeyword(text string, keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}
