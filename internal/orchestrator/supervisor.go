package orchestrator

// Reason explains why Decide selected a stage
type Reason string

const (
	ReasonStart           Reason = "start"
	ReasonMissingArtifact Reason = "missing_artifact"
	ReasonProceed         Reason = "proceed"
	ReasonAccepted        Reason = "accepted"
	ReasonRefine          Reason = "refine"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonUnexpectedState Reason = "unexpected_state"
)

// Decision is the output of the Decision Function
type Decision struct {
	Next   Stage  `json:"next"`
	Reason Reason `json:"reason"`

	// Keyword is set when a refine keyword forced another cycle
	Keyword string `json:"keyword,omitempty"`
}

// Decide selects the next stage for state. It performs no I/O; the only effects are on state:
// IterationCount is incremented, NextStage is recorded, and a refinement archives the critique
// and score into the previous* fields before clearing the cycle's outputs.
func Decide(state *WorkflowState, cfg Config) Decision {
	state.IterationCount++

	d := decide(state, cfg)
	state.NextStage = d.Next
	return d
}

func decide(state *WorkflowState, cfg Config) Decision {
	if state.IterationCount >= cfg.IterationCap() {
		return Decision{Next: StageFinish, Reason: ReasonBudgetExhausted}
	}

	if state.CurrentStage == StageStart {
		return Decision{Next: StageGenerate, Reason: ReasonStart}
	}
	if state.Artifact == "" {
		return Decision{Next: StageGenerate, Reason: ReasonMissingArtifact}
	}

	switch state.CurrentStage {
	case StageGenerate:
		return Decision{Next: StageRender, Reason: ReasonProceed}

	case StageRender:
		// A failed render still advances; the feedback tells the Validator why.
		return Decision{Next: StageValidate, Reason: ReasonProceed}

	case StageValidate:
		if state.ValidationResult == "" {
			break
		}
		if state.Score >= cfg.AcceptThreshold {
			kw := matchKeyword(state.ValidationResult, cfg.RefineKeywords)
			if kw == "" {
				return Decision{Next: StageFinish, Reason: ReasonAccepted}
			}
			beginRefinement(state)
			return Decision{Next: StageGenerate, Reason: ReasonRefine, Keyword: kw}
		}
		beginRefinement(state)
		return Decision{Next: StageGenerate, Reason: ReasonRefine}
	}

	return Decision{Next: StageGenerate, Reason: ReasonUnexpectedState}
}

func beginRefinement(state *WorkflowState) {
	state.PreviousValidation, state.PreviousScore = state.ValidationResult, state.Score

	state.Artifact = ""
	state.RenderSucceeded = false
	state.ValidationResult = ""
	state.Score = 0
}
