// Package agent implements the Generator and Validator ports on top of an llm.Client.
package agent

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/archagent/internal/exemplar"
	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
	"go.uber.org/zap"
)

// ExemplarFinder returns accepted designs similar to a requirement.
type ExemplarFinder interface {
	Similar(ctx context.Context, requirement string, k int) ([]exemplar.Exemplar, error)
}

// Options tune both agents.
type Options struct {
	Temperature float64
	MaxTokens   int
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// ValidatorModel overrides the model used for reviews.
	ValidatorModel string
	Exemplars      ExemplarFinder
	ExemplarK      int
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.ExemplarK <= 0 {
		o.ExemplarK = 2
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Generator asks the model for a diagram-as-code design.
type Generator struct {
	client llm.Client
	opts   Options
}

var _ orchestrator.Generator = (*Generator)(nil)

// NewGenerator creates a Generator.
func NewGenerator(client llm.Client, opts Options) *Generator {
	return &Generator{client: client, opts: opts.withDefaults()}
}

// Generate builds a fresh design or, when refining, replays the previous design and
// the reviewer's critique so the model revises instead of starting over.
func (g *Generator) Generate(ctx context.Context, req orchestrator.GenerateRequest) (string, error) {
	var examples []exemplar.Exemplar
	if g.opts.Exemplars != nil && !req.Refining() {
		found, err := g.opts.Exemplars.Similar(ctx, req.Requirement, g.opts.ExemplarK)
		if err != nil {
			// Retrieval is best effort.
			g.opts.Logger.Warn("exemplar lookup failed", zap.String("run.id", req.RunID), zap.Error(err))
		} else {
			examples = found
		}
	}

	msgs := []llm.Message{{Role: llm.RoleUser, Content: requirementPrompt(req.Requirement, examples)}}
	if req.Refining() {
		if prev := lastAssistant(req.History); prev != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: prev})
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: refinementPrompt(req.PreviousScore, req.PreviousValidation)})
		} else {
			msgs[0].Content += "\n\n" + refinementPrompt(req.PreviousScore, req.PreviousValidation)
		}
	}

	out, err := g.client.Complete(ctx, &llm.Request{
		Model:       g.model(req.ModelID),
		System:      ArchitectSystemPrompt(),
		Messages:    msgs,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate (cycle %d): %w", req.Cycle, err)
	}
	g.opts.Logger.Debug("design generated",
		zap.String("run.id", req.RunID),
		zap.Int("cycle", req.Cycle),
		zap.Int("exemplars", len(examples)),
		zap.Int("response.bytes", len(out)))
	return out, nil
}

func (g *Generator) model(requested string) string {
	if requested != "" {
		return llm.NormalizeModelID(requested)
	}
	return g.opts.DefaultModel
}

func lastAssistant(history []orchestrator.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == string(llm.RoleAssistant) {
			return history[i].Content
		}
	}
	return ""
}

// Validator asks the model to critique a rendered design and score it.
type Validator struct {
	client llm.Client
	opts   Options
}

var _ orchestrator.Validator = (*Validator)(nil)

// NewValidator creates a Validator.
func NewValidator(client llm.Client, opts Options) *Validator {
	return &Validator{client: client, opts: opts.withDefaults()}
}

// Validate sends the requirement, design, renderer feedback and the rendered image.
func (v *Validator) Validate(ctx context.Context, req orchestrator.ValidateRequest) (string, error) {
	model := v.opts.ValidatorModel
	if model == "" && req.ModelID != "" {
		model = llm.NormalizeModelID(req.ModelID)
	}
	if model == "" {
		model = v.opts.DefaultModel
	}

	lr := &llm.Request{
		Model:       model,
		System:      ValidatorSystemPrompt(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: reviewPrompt(req)}},
		Temperature: v.opts.Temperature,
		MaxTokens:   v.opts.MaxTokens,
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		mt := req.Image.MediaType
		if mt == "" {
			mt = "image/png"
		}
		lr.Images = []llm.Image{{MediaType: mt, Data: req.Image.Data}}
	}

	out, err := v.client.Complete(ctx, lr)
	if err != nil {
		return "", fmt.Errorf("validate: %w", err)
	}
	return out, nil
}
