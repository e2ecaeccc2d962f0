// Package orchestrator implements spec.md §4.5: turns a declarative
// ExecutionPlan into a runtime ExecutionArray by dispatching each step to
// its named agent through a registry.
package orchestrator

import (
	"context"

	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/execarray"
	"github.com/arcsign/chainpilot/internal/planmodel"
)

// ParamDecoder converts a step's raw parameter map into the tagged
// parameter struct its agent's Dispatch expects (e.g. agent.TransferParams),
// validating arity and types at dispatch time per the §9 redesign note.
type ParamDecoder func(parameters map[string]interface{}) (interface{}, error)

// key combines an agent class name and function name into one lookup key.
func key(agentClassName, functionName string) string {
	return agentClassName + "." + functionName
}

// Orchestrator resolves ExecutionPlan steps against a Registry and a set
// of per-(agent,function) parameter decoders.
type Orchestrator struct {
	registry *agent.Registry
	decoders map[string]ParamDecoder
}

// New builds an Orchestrator. decoders keys are "AgentClassName.functionName".
func New(registry *agent.Registry, decoders map[string]ParamDecoder) *Orchestrator {
	return &Orchestrator{registry: registry, decoders: decoders}
}

// Run implements spec.md §4.5's procedure: resolve each step's agent,
// decode its parameters, dispatch, and append the result to arr. bestEffort
// controls whether a step failure records a failed item and continues, or
// aborts the remaining plan (cancelling whatever has not yet been appended).
func (o *Orchestrator) Run(ctx context.Context, plan *planmodel.ExecutionPlan, arr *execarray.Array, bestEffort bool) error {
	for i, step := range plan.Steps {
		a, err := o.registry.Get(step.AgentClassName)
		if err != nil {
			// UNKNOWN_AGENT aborts the entire plan, regardless of
			// bestEffort — spec.md §4.5 step 1 names this unconditional.
			return err
		}

		decodeKey := key(step.AgentClassName, step.FunctionName)
		decoder, ok := o.decoders[decodeKey]
		if !ok {
			return chainerrors.New(chainerrors.CodeBadFunctionCall, chainerrors.Internal,
				"no parameter decoder registered for "+decodeKey, nil)
		}
		params, err := decoder(step.Parameters)
		if err != nil {
			err = chainerrors.New(chainerrors.CodeBadFunctionCall, chainerrors.Internal,
				"failed to decode parameters for "+decodeKey, err)
		}

		var result *agent.AgentResult
		if err == nil {
			result, err = a.Dispatch(ctx, step.FunctionName, params)
		}

		if err != nil {
			if bestEffort {
				id := arr.Add(execarray.AgentResult{
					Description:   step.Description,
					ExecutionType: string(step.ExecutionType),
				})
				arr.UpdateStatus(id, execarray.StatusFailed, err.Error(), nil)
				continue
			}

			// Not best-effort: the failing step gets a failed item and
			// every step that would have run after it is recorded as
			// cancelled, per spec.md §4.5 step 4, instead of leaving the
			// array silent about the rest of the aborted plan.
			id := arr.Add(execarray.AgentResult{
				Description:   step.Description,
				ExecutionType: string(step.ExecutionType),
			})
			arr.UpdateStatus(id, execarray.StatusFailed, err.Error(), nil)
			for _, remaining := range plan.Steps[i+1:] {
				cid := arr.Add(execarray.AgentResult{
					Description:   remaining.Description,
					ExecutionType: string(remaining.ExecutionType),
				})
				arr.UpdateStatus(cid, execarray.StatusCancelled, "plan aborted after an earlier step failed", nil)
			}
			return err
		}

		item := execarray.AgentResult{
			Description:   result.Description,
			ExecutionType: string(result.ExecutionType),
			Transaction:   result.Transaction,
			DataPayload:   result.DataPayload,
			Warnings:      result.Warnings,
			Metadata:      result.Metadata,
			SenderAddress: result.SenderAddress,
		}
		if result.EstimatedFee != nil {
			item.EstimatedFee = result.EstimatedFee.String()
		}
		arr.Add(item)
	}
	return nil
}
