package agent

import (
	"context"
	"fmt"
	"math/big"

	"github.com/arcsign/chainpilot/internal/amount"
	"github.com/arcsign/chainpilot/internal/capability"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/planmodel"
	"github.com/arcsign/chainpilot/internal/ss58"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

// TransferParams is the tagged parameter type for the "transfer" function,
// matching spec.md §6's transfer-agent parameter set.
type TransferParams struct {
	Address         string
	Recipient       string
	Amount          interface{}
	Chain           config.ChainRole
	KeepAlive       bool
	ValidateBalance bool
	EnableSimulation bool
}

// BatchTransferParams is the tagged parameter type for "batch_transfer".
type BatchTransferParams struct {
	Address          string
	Transfers        []BatchLeg
	Chain            config.ChainRole
	KeepAlive        bool
	Atomic           bool
	ValidateBalance  bool
	EnableSimulation bool
}

// BatchLeg is one recipient/amount pair within a batch transfer.
type BatchLeg struct {
	Recipient string
	Amount    interface{}
}

// SessionOpener is the subset of *endpoint.Manager the agent depends on.
type SessionOpener interface {
	OpenExecutionSession(ctx context.Context, role config.ChainRole) (*endpoint.ExecutionSession, error)
}

// ProbeFactory builds a capability.RuntimeProbe for a freshly opened
// session (production code backs this with decoded runtime metadata).
type ProbeFactory func(ctx context.Context, session *endpoint.ExecutionSession) (capability.RuntimeProbe, error)

// BalanceReader reads an address's free balance as an arbitrary-precision
// integer in the chain's smallest unit.
type BalanceReader func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error)

// SimulationOutcome is the subset of the Simulator's result the agent
// consults: whether the dry run validated and, if so, its fee estimate.
type SimulationOutcome struct {
	Success      bool
	EstimatedFee *big.Int
	ErrorMessage string
}

// Simulator is the narrow capability the agent needs from
// internal/simulator, kept local to avoid a dependency cycle.
type Simulator interface {
	Simulate(ctx context.Context, session *endpoint.ExecutionSession, tx *txbuilder.Extrinsic, sender string) (*SimulationOutcome, error)
}

// AssetTransferAgent implements the native-token transfer operations from
// spec.md §4.4: transfer and batch_transfer.
type AssetTransferAgent struct {
	Sessions  SessionOpener
	Probes    ProbeFactory
	Balances  BalanceReader
	Simulator Simulator // optional; nil disables dry-run
}

// Dispatch implements Agent.
func (a *AssetTransferAgent) Dispatch(ctx context.Context, functionName string, params interface{}) (*AgentResult, error) {
	switch functionName {
	case "transfer":
		p, ok := params.(TransferParams)
		if !ok {
			return nil, badFunctionCall(functionName)
		}
		return a.Transfer(ctx, p)
	case "batch_transfer":
		p, ok := params.(BatchTransferParams)
		if !ok {
			return nil, badFunctionCall(functionName)
		}
		return a.BatchTransfer(ctx, p)
	default:
		return nil, badFunctionCall(functionName)
	}
}

func defaultChain(role config.ChainRole) config.ChainRole {
	if role == "" {
		return config.ChainRoleAssetHub
	}
	return role
}

// Transfer implements spec.md §4.4's transfer operation.
func (a *AssetTransferAgent) Transfer(ctx context.Context, p TransferParams) (*AgentResult, error) {
	if _, _, err := ss58.Decode(p.Address); err != nil {
		return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, "invalid sender address", err)
	}
	if _, _, err := ss58.Decode(p.Recipient); err != nil {
		return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, "invalid recipient address", err)
	}
	if p.Address == p.Recipient {
		return nil, chainerrors.New(chainerrors.CodeSenderEqualsRecipient, chainerrors.Input, "sender equals recipient", nil)
	}

	role := defaultChain(p.Chain)
	session, err := a.Sessions.OpenExecutionSession(ctx, role)
	if err != nil {
		return nil, err
	}

	probe, err := a.Probes(ctx, session)
	if err != nil {
		return nil, err
	}
	caps, err := capability.Detect(ctx, session, probe)
	if err != nil {
		return nil, err
	}

	normalizedAmount, err := amount.Normalize(p.Amount, caps.Decimals)
	if err != nil {
		return nil, err
	}
	if normalizedAmount.Sign() <= 0 {
		return nil, chainerrors.New(chainerrors.CodeInvalidAmount, chainerrors.Input, "amount must be positive", nil)
	}

	var senderFree *big.Int
	if a.Balances != nil {
		senderFree, err = a.Balances(ctx, session, p.Address)
		if err != nil {
			return nil, err
		}
		if p.ValidateBalance && senderFree.Cmp(normalizedAmount) < 0 {
			return nil, chainerrors.New(chainerrors.CodeInsufficientBalance, chainerrors.Input,
				fmt.Sprintf("sender balance %s is less than transfer amount %s", senderFree, normalizedAmount), nil)
		}
	}

	build, err := txbuilder.BuildTransfer(session, txbuilder.TransferParams{
		Recipient:  p.Recipient,
		Amount:     p.Amount,
		KeepAlive:  p.KeepAlive,
		SenderFree: senderFree,
	}, caps, role == config.ChainRoleAssetHub)
	if err != nil {
		return nil, err
	}

	estimatedFee := conservativeFeeEstimate(caps.Decimals)
	warnings := append([]string{}, build.Warnings...)

	if p.EnableSimulation && a.Simulator != nil {
		outcome, simErr := a.Simulator.Simulate(ctx, session, build.Extrinsic, p.Address)
		if simErr != nil {
			return nil, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, "simulation failed", simErr)
		}
		if !outcome.Success {
			return nil, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, outcome.ErrorMessage, nil)
		}
		if outcome.EstimatedFee != nil {
			estimatedFee = outcome.EstimatedFee
		}
	}

	return &AgentResult{
		Description:   fmt.Sprintf("transfer %s to %s", amount.FormatDecimal(normalizedAmount, caps.Decimals), build.RecipientEncoded),
		ExecutionType: planmodel.ExecutionTypeExtrinsic,
		Transaction:   build.Extrinsic,
		EstimatedFee:  estimatedFee,
		Warnings:      warnings,
		Metadata: map[string]interface{}{
			"chain":      string(role),
			"decimals":   caps.Decimals,
			"symbol":     caps.Symbol,
			"method":     build.Method,
			"ss58Prefix": caps.SS58Prefix,
		},
		SenderAddress: p.Address,
		RegistryID:    session.RegistryID(),
	}, nil
}

// BatchTransfer implements spec.md §4.4's batch_transfer operation.
func (a *AssetTransferAgent) BatchTransfer(ctx context.Context, p BatchTransferParams) (*AgentResult, error) {
	if len(p.Transfers) == 0 || len(p.Transfers) > 100 {
		return nil, chainerrors.New(chainerrors.CodeBatchSizeInvalid, chainerrors.Input,
			fmt.Sprintf("batch size %d out of range [1, 100]", len(p.Transfers)), nil)
	}
	if _, _, err := ss58.Decode(p.Address); err != nil {
		return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, "invalid sender address", err)
	}

	role := defaultChain(p.Chain)
	session, err := a.Sessions.OpenExecutionSession(ctx, role)
	if err != nil {
		return nil, err
	}

	probe, err := a.Probes(ctx, session)
	if err != nil {
		return nil, err
	}
	caps, err := capability.Detect(ctx, session, probe)
	if err != nil {
		return nil, err
	}

	var senderFree *big.Int
	if a.Balances != nil {
		senderFree, err = a.Balances(ctx, session, p.Address)
		if err != nil {
			return nil, err
		}
	}

	legs := make([]txbuilder.BatchTransfer, 0, len(p.Transfers))
	var total big.Int
	for _, leg := range p.Transfers {
		if _, _, err := ss58.Decode(leg.Recipient); err != nil {
			return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input, "invalid recipient address", err)
		}
		normalized, err := amount.Normalize(leg.Amount, caps.Decimals)
		if err != nil {
			return nil, err
		}
		if normalized.Sign() <= 0 {
			return nil, chainerrors.New(chainerrors.CodeInvalidAmount, chainerrors.Input, "amount must be positive", nil)
		}
		total.Add(&total, normalized)
		legs = append(legs, txbuilder.BatchTransfer{Params: txbuilder.TransferParams{
			Recipient: leg.Recipient,
			Amount:    leg.Amount,
			KeepAlive: p.KeepAlive,
		}})
	}

	if p.ValidateBalance && senderFree != nil && senderFree.Cmp(&total) < 0 {
		return nil, chainerrors.New(chainerrors.CodeInsufficientBalance, chainerrors.Input,
			fmt.Sprintf("sender balance %s is less than total batch amount %s", senderFree, total.String()), nil)
	}

	build, err := txbuilder.BuildBatch(session, legs, caps, p.Atomic, role == config.ChainRoleAssetHub)
	if err != nil {
		return nil, err
	}

	estimatedFee := conservativeFeeEstimate(caps.Decimals)
	warnings := append([]string{}, build.Warnings...)

	if p.EnableSimulation && a.Simulator != nil {
		outcome, simErr := a.Simulator.Simulate(ctx, session, build.Extrinsic, p.Address)
		if simErr != nil {
			return nil, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, "simulation failed", simErr)
		}
		if !outcome.Success {
			return nil, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, outcome.ErrorMessage, nil)
		}
		if outcome.EstimatedFee != nil {
			estimatedFee = outcome.EstimatedFee
		}
	}

	return &AgentResult{
		Description:   fmt.Sprintf("batch transfer to %d recipients", len(p.Transfers)),
		ExecutionType: planmodel.ExecutionTypeExtrinsic,
		Transaction:   build.Extrinsic,
		EstimatedFee:  estimatedFee,
		Warnings:      warnings,
		Metadata: map[string]interface{}{
			"chain":      string(role),
			"decimals":   caps.Decimals,
			"symbol":     caps.Symbol,
			"method":     build.Method,
			"legCount":   len(p.Transfers),
			"ss58Prefix": caps.SS58Prefix,
		},
		SenderAddress: p.Address,
		RegistryID:    session.RegistryID(),
	}, nil
}

// conservativeFeeEstimate is the fallback the agent reports when no
// simulation ran, per spec.md §4.4 ("a conservative constant").
func conservativeFeeEstimate(decimals int) *big.Int {
	// 0.01 token in the chain's smallest unit, a deliberately generous
	// placeholder pending a real paymentInfo query.
	if decimals < 2 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-2)), nil)
}

var _ Agent = (*AssetTransferAgent)(nil)
