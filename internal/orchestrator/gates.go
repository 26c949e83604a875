package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// Severity of a gate finding
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is a problem a gate detected in the artifact
type Finding struct {
	Gate     string   `json:"gate"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Gate inspects the state before a stage runs. Findings are merged into the render
// feedback so the Validator sees them; they never stop the run.
type Gate interface {
	Name() string
	Check(ctx context.Context, state *WorkflowState) ([]Finding, error)
}

// RunGates runs gates in order against state and merges their findings into the render
// feedback. A gate that cannot complete its check fails with KindUnexpectedState.
func RunGates(ctx context.Context, stage Stage, state *WorkflowState, gates []Gate) error {
	for _, g := range gates {
		findings, err := g.Check(ctx, state)
		if err != nil {
			return newStageError(KindUnexpectedState, stage, fmt.Sprintf("gate %s check failed", g.Name()), err)
		}
		applyFindings(state, findings)
	}
	return nil
}

func applyFindings(state *WorkflowState, findings []Finding) {
	if len(findings) == 0 {
		return
	}
	if state.RenderFeedback == nil {
		state.RenderFeedback = &RenderFeedback{}
	}
	for _, f := range findings {
		msg := fmt.Sprintf("[%s] %s", f.Gate, f.Message)
		if f.Severity == SeverityError {
			state.RenderFeedback.Errors = append(state.RenderFeedback.Errors, msg)
		} else {
			state.RenderFeedback.Warnings = append(state.RenderFeedback.Warnings, msg)
		}
	}
}

// SizeGate flags artifacts larger than MaxBytes
type SizeGate struct {
	MaxBytes int
}

// NewSizeGate creates a size gate
func NewSizeGate(maxBytes int) *SizeGate {
	return &SizeGate{MaxBytes: maxBytes}
}

func (g *SizeGate) Name() string { return "artifact-size" }

func (g *SizeGate) Check(_ context.Context, state *WorkflowState) ([]Finding, error) {
	if g.MaxBytes <= 0 || len(state.Artifact) <= g.MaxBytes {
		return nil, nil
	}
	return []Finding{{
		Gate:     g.Name(),
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("artifact is %d bytes, limit is %d; simplify the diagram", len(state.Artifact), g.MaxBytes),
	}}, nil
}

// MarkupGate flags delimiter or code fence residue left inside the artifact
type MarkupGate struct{}

// NewMarkupGate creates a markup residue gate
func NewMarkupGate() *MarkupGate {
	return &MarkupGate{}
}

func (g *MarkupGate) Name() string { return "markup-residue" }

func (g *MarkupGate) Check(_ context.Context, state *WorkflowState) ([]Finding, error) {
	var findings []Finding
	for _, token := range []string{ArtifactStartMarker, ArtifactEndMarker, "```"} {
		if strings.Contains(state.Artifact, token) {
			findings = append(findings, Finding{
				Gate:     g.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("artifact contains %q; emit plain YAML only", token),
			})
		}
	}
	return findings, nil
}
