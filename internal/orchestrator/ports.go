package orchestrator

import "context"

// GenerateRequest is the input of the Generator port
type GenerateRequest struct {
	RunID              string
	Requirement        string
	PreviousValidation string
	PreviousScore      float64
	ModelID            string
	Cycle              int
	History            []Message
}

// Refining reports whether the request carries guidance from a prior cycle
func (r GenerateRequest) Refining() bool {
	return r.PreviousValidation != ""
}

// Generator produces a raw response containing a marker-delimited artifact
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// RenderResult is the output of the Renderer port.
// Success=false with feedback is a content problem, not an invocation failure.
type RenderResult struct {
	Success  bool
	Feedback RenderFeedback
	Image    *Image
}

// Renderer turns an artifact into an image
type Renderer interface {
	Render(ctx context.Context, artifact string) (*RenderResult, error)
}

// ValidateRequest is the input of the Validator port
type ValidateRequest struct {
	RunID       string
	Requirement string
	Artifact    string
	Explanation string
	Feedback    RenderFeedback
	Image       *Image
	ModelID     string
}

// Validator critiques an artifact and embeds a "Score: NN" label in its response
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, artifact string) (*RenderResult, error)

func (f RendererFunc) Render(ctx context.Context, artifact string) (*RenderResult, error) {
	return f(ctx, artifact)
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(ctx context.Context, req ValidateRequest) (string, error)

func (f ValidatorFunc) Validate(ctx context.Context, req ValidateRequest) (string, error) {
	return f(ctx, req)
}
