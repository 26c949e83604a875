package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker creates a worker on queue with the refinement workflow and acts registered.
func NewWorker(c client.Client, queue string, acts *Activities) worker.Worker {
	if queue == "" {
		queue = TaskQueue
	}
	w := worker.New(c, queue, worker.Options{})
	w.RegisterWorkflow(RefinementWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartRefinement starts a RefinementWorkflow whose workflow ID is the run ID.
func StartRefinement(ctx context.Context, c workflowStarter, queue string, input RefinementInput) (client.WorkflowRun, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if queue == "" {
		queue = TaskQueue
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	run, err := c.ExecuteWorkflow(startCtx, client.StartWorkflowOptions{
		ID:                    input.RunID,
		TaskQueue:             queue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, RefinementWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}
	return run, nil
}

type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}
