// Package agent implements the Agent Registry & Agents from spec.md §4.4:
// a name-keyed registry of stateless agents, each exposing typed operations
// that take validated parameters and return an AgentResult.
package agent

import (
	"context"
	"math/big"

	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/planmodel"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

// AgentResult is spec.md §3's AgentResult entity.
type AgentResult struct {
	Description    string
	ExecutionType  planmodel.ExecutionType
	Transaction    *txbuilder.Extrinsic
	DataPayload    interface{}
	EstimatedFee   *big.Int
	Warnings       []string
	Metadata       map[string]interface{}
	SenderAddress  string
	RegistryID     string
}

// Agent is the §9 redesign note's answer to dynamic dispatch by string
// name: a value implementing Dispatch, matching function_name against an
// exhaustive switch and validating params at dispatch time instead of doing
// runtime attribute lookup.
type Agent interface {
	// Dispatch invokes functionName with params, which must be one of the
	// tagged parameter structs the agent documents (e.g. TransferParams,
	// BatchTransferParams for AssetTransferAgent). An unrecognized
	// functionName or a params value of the wrong type both yield
	// BAD_FUNCTION_CALL.
	Dispatch(ctx context.Context, functionName string, params interface{}) (*AgentResult, error)
}

// Factory produces a new, stateless Agent instance.
type Factory func() Agent

// Registry maps agent-class-name to a Factory, per spec.md §4.4.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register associates className with factory, overwriting any existing
// registration (agents are stateless, so re-registration is harmless).
func (r *Registry) Register(className string, factory Factory) {
	r.factories[className] = factory
}

// Get resolves className to a fresh Agent instance. Absence is reported as
// UNKNOWN_AGENT, per spec.md §4.5.
func (r *Registry) Get(className string) (Agent, error) {
	factory, ok := r.factories[className]
	if !ok {
		return nil, chainerrors.New(chainerrors.CodeUnknownAgent, chainerrors.Internal,
			"no agent registered for class "+className, nil)
	}
	return factory(), nil
}

// badFunctionCall builds the BAD_FUNCTION_CALL error for an unrecognized
// function name or parameter-type mismatch.
func badFunctionCall(functionName string) error {
	return chainerrors.New(chainerrors.CodeBadFunctionCall, chainerrors.Internal,
		"unrecognized function or parameter mismatch: "+functionName, nil)
}
