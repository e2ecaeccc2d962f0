// Package txbuilder implements the Safe Transaction Builder from spec.md
// §4.3: produces signed-ready transaction objects for native transfers and
// batches, normalizing amounts, re-encoding addresses, selecting a method
// with fallbacks, and attaching advisory warnings.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/arcsign/chainpilot/internal/amount"
	"github.com/arcsign/chainpilot/internal/capability"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/ss58"
)

// Method names the builder can select, mirroring the balances pallet calls
// spec.md names.
const (
	MethodTransferAllowDeath = "transfer_allow_death"
	MethodTransferKeepAlive  = "transfer_keep_alive"
	MethodTransferLegacy     = "transfer"
)

// Extrinsic is the constructed-but-unsigned transaction object. Section and
// Method let the executioner verify the metadata-mismatch invariant in
// spec.md §4.3 step 7.
type Extrinsic struct {
	Section    string
	Method     string
	Args       map[string]interface{}
	RegistryID string
}

// TransferParams is the tagged-union parameter type for a single transfer,
// per the §9 redesign note replacing dynamic dispatch.
type TransferParams struct {
	Recipient string
	Amount    interface{}
	KeepAlive bool
	// SenderFree and EstimatedFee are supplied by the caller (the agent,
	// which has already read the sender's balance) so the builder can
	// compute projected post-transfer balance for the reaping warning.
	SenderFree   *big.Int
	EstimatedFee *big.Int
}

// BuildResult is the outcome of build_transfer / build_batch.
type BuildResult struct {
	Extrinsic          *Extrinsic
	Method             string
	RecipientEncoded   string
	NormalizedAmount   *big.Int
	Warnings           []string
}

// BuildTransfer implements spec.md §4.3's seven-step procedure.
func BuildTransfer(session *endpoint.ExecutionSession, params TransferParams, caps *capability.ChainCapabilities, targetIsAssetHub bool) (*BuildResult, error) {
	if !session.Active() {
		return nil, chainerrors.New(chainerrors.CodeSessionInactive, chainerrors.Session, "session is inactive", nil)
	}

	var warnings []string

	if targetIsAssetHub && !caps.IsAssetHub {
		return nil, chainerrors.New(chainerrors.CodeChainTypeMismatch, chainerrors.Capability,
			"target is labelled asset hub but the session's runtime does not indicate asset hub", nil)
	}
	if !targetIsAssetHub && caps.IsAssetHub {
		warnings = append(warnings, "target labelled relay chain but session runtime is an asset hub parachain")
	}

	normalized, err := amount.Normalize(params.Amount, caps.Decimals)
	if err != nil {
		return nil, err
	}

	recipientPubkey, _, err := ss58.Decode(params.Recipient)
	if err != nil {
		return nil, err
	}
	recipientEncoded, err := ss58.Encode(recipientPubkey, caps.SS58Prefix)
	if err != nil {
		return nil, err
	}

	if caps.ExistentialDeposit != nil && normalized.Cmp(caps.ExistentialDeposit) < 0 {
		warnings = append(warnings, fmt.Sprintf(
			"amount %s is below the existential deposit %s",
			amount.FormatDecimal(normalized, caps.Decimals),
			amount.FormatDecimal(caps.ExistentialDeposit, caps.Decimals),
		))
	}

	method, methodWarnings, err := selectMethod(caps, params.KeepAlive)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, methodWarnings...)

	if method != MethodTransferKeepAlive && params.SenderFree != nil {
		fee := params.EstimatedFee
		if fee == nil {
			fee = big.NewInt(0)
		}
		projected := new(big.Int).Sub(params.SenderFree, fee)
		projected.Sub(projected, normalized)
		if caps.ExistentialDeposit != nil && projected.Cmp(caps.ExistentialDeposit) < 0 {
			warnings = append(warnings, fmt.Sprintf(
				"sender's projected post-transfer balance %s is below the existential deposit and may be reaped",
				amount.FormatDecimal(projected, caps.Decimals),
			))
		}
	}

	ext := &Extrinsic{
		Section: "balances",
		Method:  method,
		Args: map[string]interface{}{
			"dest":  recipientEncoded,
			"value": normalized.String(),
		},
		RegistryID: session.RegistryID(),
	}

	if ext.Section != "balances" || ext.Method != method {
		return nil, chainerrors.New(chainerrors.CodeMetadataMismatch, chainerrors.Session, "constructed extrinsic section/method mismatch", nil)
	}

	return &BuildResult{
		Extrinsic:        ext,
		Method:           method,
		RecipientEncoded: recipientEncoded,
		NormalizedAmount: normalized,
		Warnings:         warnings,
	}, nil
}

// selectMethod implements spec.md §4.3 step 5: keep-alive if requested and
// available, else allow-death, else legacy (warned), else
// INSUFFICIENT_CAPABILITIES.
func selectMethod(caps *capability.ChainCapabilities, keepAlive bool) (string, []string, error) {
	if keepAlive {
		if caps.HasTransferKeepAlive {
			return MethodTransferKeepAlive, nil, nil
		}
		return "", nil, chainerrors.New(chainerrors.CodeInsufficientCapabilities, chainerrors.Capability,
			"keep_alive requested but chain has no transfer_keep_alive method", nil)
	}

	if caps.HasTransferAllowDeath {
		return MethodTransferAllowDeath, nil, nil
	}
	if caps.HasTransfer {
		return MethodTransferLegacy, []string{"using legacy balances.transfer method"}, nil
	}
	return "", nil, chainerrors.New(chainerrors.CodeInsufficientCapabilities, chainerrors.Capability,
		"chain exposes no supported transfer method", nil)
}

// BatchTransfer is one element of a build_batch call.
type BatchTransfer struct {
	Params TransferParams
}

// BuildBatch implements spec.md §4.3's build_batch: wraps 1..100 transfers
// in utility.batch (independent failures) or utility.batch_all (atomic),
// requiring all sub-extrinsics to share the session's registry.
func BuildBatch(session *endpoint.ExecutionSession, transfers []BatchTransfer, caps *capability.ChainCapabilities, atomic bool, targetIsAssetHub bool) (*BuildResult, error) {
	if !session.Active() {
		return nil, chainerrors.New(chainerrors.CodeSessionInactive, chainerrors.Session, "session is inactive", nil)
	}
	if len(transfers) < 1 || len(transfers) > 100 {
		return nil, chainerrors.New(chainerrors.CodeBatchSizeInvalid, chainerrors.Input,
			fmt.Sprintf("batch size %d out of range [1, 100]", len(transfers)), nil)
	}
	if !caps.HasUtility {
		return nil, chainerrors.New(chainerrors.CodeInsufficientCapabilities, chainerrors.Capability, "chain has no utility pallet", nil)
	}
	if atomic && !caps.HasBatchAll {
		return nil, chainerrors.New(chainerrors.CodeUnsupportedBatchMode, chainerrors.Capability, "chain has no utility.batch_all", nil)
	}

	var warnings []string
	var calls []map[string]interface{}
	var totalAmount = big.NewInt(0)

	for _, tr := range transfers {
		result, err := BuildTransfer(session, tr.Params, caps, targetIsAssetHub)
		if err != nil {
			return nil, err
		}
		// BuildTransfer always stamps result.Extrinsic.RegistryID with
		// session.RegistryID(), so every leg here is already
		// session-uniform by construction; the cross-registry guard
		// against heterogeneous sources lives at the executioner layer,
		// which groups pending items by registry before calling
		// executeBatch and re-checks each item's registry there.
		calls = append(calls, result.Extrinsic.Args)
		totalAmount.Add(totalAmount, result.NormalizedAmount)
		warnings = append(warnings, result.Warnings...)
	}

	method := "batch"
	if atomic {
		method = "batch_all"
	}
	warnings = append(warnings, fmt.Sprintf("wrapped %d transfers with utility.%s", len(transfers), method))

	ext := &Extrinsic{
		Section: "utility",
		Method:  method,
		Args: map[string]interface{}{
			"calls": calls,
		},
		RegistryID: session.RegistryID(),
	}

	return &BuildResult{
		Extrinsic:        ext,
		Method:           method,
		NormalizedAmount: totalAmount,
		Warnings:         warnings,
	}, nil
}
