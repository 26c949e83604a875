package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/llm"
	"github.com/fyrsmithlabs/archagent/internal/runstore"
	"github.com/fyrsmithlabs/archagent/internal/service"
)

// ===== design_architecture =====

type designInput struct {
	Requirement string `json:"requirement" jsonschema:"Natural-language description of the AWS architecture to design"`
	ModelID     string `json:"model_id,omitempty" jsonschema:"Model used for generation and critique (default: configured model)"`
	MaxCycles   int    `json:"max_cycles,omitempty" jsonschema:"Maximum generate-render-validate cycles (default: configured budget)"`
}

// runOutput is the tool view of a recorded run.
type runOutput struct {
	ID          string  `json:"id" jsonschema:"Run ID"`
	Status      string  `json:"status" jsonschema:"pending, running, completed or failed"`
	Accepted    bool    `json:"accepted" jsonschema:"Whether the final design met the acceptance criteria"`
	Reason      string  `json:"reason,omitempty" jsonschema:"Why the run stopped (accepted, budget_exhausted)"`
	Score       float64 `json:"score" jsonschema:"Critique score of the final design (0-100)"`
	Cycles      int     `json:"cycles" jsonschema:"Number of cycles executed"`
	YAML        string  `json:"yaml,omitempty" jsonschema:"Diagram-as-code YAML of the final design"`
	Explanation string  `json:"explanation,omitempty" jsonschema:"Architecture explanation from the generator"`
	Critique    string  `json:"critique,omitempty" jsonschema:"Final critique from the validator"`
	ErrorKind   string  `json:"error_kind,omitempty" jsonschema:"Failure classification for failed runs"`
	Error       string  `json:"error,omitempty" jsonschema:"Failure message for failed runs"`
}

func toOutput(run *runstore.Run) runOutput {
	out := runOutput{
		ID:          run.ID,
		Status:      string(run.Status),
		Accepted:    run.Accepted,
		Reason:      string(run.Reason),
		Score:       run.Score,
		Cycles:      run.Cycles,
		YAML:        run.Artifact,
		Explanation: run.Explanation,
		Critique:    run.Critique,
	}
	if run.Error != nil {
		out.ErrorKind = string(run.Error.Kind)
		out.Error = run.Error.Message
	}
	return out
}

// summary is the human-readable text content returned next to the structured output.
func summary(run *runstore.Run) string {
	var b strings.Builder
	switch {
	case run.Error != nil:
		fmt.Fprintf(&b, "Run %s failed at %s (%s): %s\n", run.ID, run.Error.Stage, run.Error.Kind, run.Error.Message)
	case run.Accepted:
		fmt.Fprintf(&b, "Run %s accepted with score %.0f after %d cycle(s).\n", run.ID, run.Score, run.Cycles)
	case run.Status.Terminal():
		fmt.Fprintf(&b, "Run %s finished without acceptance (%s), best score %.0f after %d cycle(s).\n", run.ID, run.Reason, run.Score, run.Cycles)
	default:
		fmt.Fprintf(&b, "Run %s is %s.\n", run.ID, run.Status)
	}
	if run.Artifact != "" {
		fmt.Fprintf(&b, "\n```yaml\n%s\n```\n", run.Artifact)
	}
	return b.String()
}

// ===== get_run =====

type getRunInput struct {
	ID string `json:"id" jsonschema:"Run ID returned by design_architecture"`
}

// ===== list_samples =====

type listSamplesInput struct{}

type listSamplesOutput struct {
	Samples []service.Sample `json:"samples" jsonschema:"Example requirements"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "design_architecture",
		Description: "Design an AWS architecture from a requirement. Iterates generate, render and critique until the design is accepted or the cycle budget runs out, then returns the diagram-as-code YAML.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args designInput) (*mcp.CallToolResult, runOutput, error) {
		done := s.track(ctx, "design_architecture")
		var toolErr error
		defer func() { done(toolErr) }()

		if strings.TrimSpace(args.Requirement) == "" {
			toolErr = fmt.Errorf("%w: requirement is required", errInvalidInput)
			return nil, runOutput{}, toolErr
		}
		if args.MaxCycles < 0 {
			toolErr = fmt.Errorf("%w: max_cycles must be >= 0", errInvalidInput)
			return nil, runOutput{}, toolErr
		}

		run, err := s.runs.Execute(ctx, service.StartRequest{
			Requirement: args.Requirement,
			ModelID:     llm.NormalizeModelID(args.ModelID),
			MaxCycles:   args.MaxCycles,
		})
		if err != nil {
			toolErr = fmt.Errorf("design run failed: %w", err)
			return nil, runOutput{}, toolErr
		}
		s.metrics.RecordDesign(ctx, run)
		s.logger.Info("design run finished via mcp",
			zap.String("run.id", run.ID),
			zap.Bool("accepted", run.Accepted),
			zap.Float64("score", run.Score),
		)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary(run)}},
		}, toOutput(run), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_run",
		Description: "Get a recorded design run by ID",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getRunInput) (*mcp.CallToolResult, runOutput, error) {
		done := s.track(ctx, "get_run")
		var toolErr error
		defer func() { done(toolErr) }()

		if strings.TrimSpace(args.ID) == "" {
			toolErr = fmt.Errorf("%w: id is required", errInvalidInput)
			return nil, runOutput{}, toolErr
		}
		run, err := s.runs.Get(ctx, args.ID)
		if err != nil {
			toolErr = fmt.Errorf("get run %s: %w", args.ID, err)
			return nil, runOutput{}, toolErr
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary(run)}},
		}, toOutput(run), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_samples",
		Description: "List example AWS architecture requirements",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ listSamplesInput) (*mcp.CallToolResult, listSamplesOutput, error) {
		done := s.track(ctx, "list_samples")
		defer done(nil)

		samples := service.Samples()
		titles := make([]string, len(samples))
		for i, smp := range samples {
			titles[i] = "- " + smp.Title
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: strings.Join(titles, "\n")}},
		}, listSamplesOutput{Samples: samples}, nil
	})
}

// track records an in-flight tool call and returns the func that completes it.
func (s *Server) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}
