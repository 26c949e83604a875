// Package orchestrator drives the iterative refinement loop that turns a requirement into an
// accepted diagram-as-code artifact.
//
// # Overview
//
// A run walks a small finite-state machine:
//
//	Start → Generate → Render → Validate → (Finish | Generate …)
//
// The Decision Function (Decide) inspects the WorkflowState and picks the next stage. Stage
// handlers call the collaborator ports (Generator, Renderer, Validator), update the state and
// return an Event carrying only the fields they changed. The Orchestrator applies decisions and
// handlers until Decide selects Finish or a handler fails.
//
// # Termination
//
// Every call to Decide increments IterationCount. Once the count reaches the configured cap the
// run finishes with the last artifact and score; that is a normal outcome, not an error. A
// score at or above the acceptance threshold finishes the run as accepted. Anything below starts
// a new cycle that carries the critique and score forward as refinement guidance.
//
// # Errors
//
// Port failures and empty artifact extraction are fatal and surface as a single *StageError with
// a Kind. Render warnings are data: they reach the Validator through RenderFeedback.
//
// # Usage Example
//
//	orch := orchestrator.NewOrchestrator(generator, renderer, validator,
//	    orchestrator.WithConfig(orchestrator.Config{AcceptThreshold: 90, MaxCycles: 5}),
//	    orchestrator.WithLogger(logger),
//	)
//	outcome, err := orch.Run(ctx, orchestrator.RunRequest{Requirement: "static site on S3"},
//	    func(ev orchestrator.Event) { fmt.Println(ev.Stage, ev.Progress) })
package orchestrator
