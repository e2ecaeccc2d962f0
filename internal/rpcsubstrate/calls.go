package rpcsubstrate

import (
	"context"
	"encoding/json"
	"fmt"
)

// AccountInfo mirrors the free/reserved/frozen triple spec.md §6 names for
// system_account.
type AccountInfo struct {
	Free     string `json:"free"`
	Reserved string `json:"reserved"`
	Frozen   string `json:"frozen"`
	Nonce    uint64 `json:"nonce"`
}

// SystemChain returns the connected node's chain name.
func SystemChain(ctx context.Context, c Client) (string, error) {
	raw, err := c.Call(ctx, MethodSystemChain, []interface{}{})
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", fmt.Errorf("decode system_chain: %w", err)
	}
	return name, nil
}

// SystemVersion returns the connected node's client version string.
func SystemVersion(ctx context.Context, c Client) (string, error) {
	raw, err := c.Call(ctx, MethodSystemVersion, []interface{}{})
	if err != nil {
		return "", err
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return "", fmt.Errorf("decode system_version: %w", err)
	}
	return version, nil
}

// StateGetMetadata fetches the raw SCALE-encoded (hex string) runtime
// metadata blob.
func StateGetMetadata(ctx context.Context, c Client) (string, error) {
	raw, err := c.Call(ctx, MethodStateGetMetadata, []interface{}{})
	if err != nil {
		return "", err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return "", fmt.Errorf("decode state_getMetadata: %w", err)
	}
	return hex, nil
}

// SystemAccount fetches the free/reserved/frozen balance triple for an
// SS58-encoded address.
func SystemAccount(ctx context.Context, c Client, address string) (*AccountInfo, error) {
	raw, err := c.Call(ctx, MethodSystemAccount, []interface{}{address})
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode system_account: %w", err)
	}
	return &info, nil
}

// PaymentQueryInfo fetches the estimated dispatch fee for a hex-encoded
// signed or unsigned extrinsic.
func PaymentQueryInfo(ctx context.Context, c Client, extrinsicHex string) (json.RawMessage, error) {
	return c.Call(ctx, MethodPaymentQueryInfo, []interface{}{extrinsicHex})
}

// ExtrinsicStatus is the decoded shape of one author_submitAndWatchExtrinsic
// notification.
type ExtrinsicStatus struct {
	InBlock      string `json:"inBlock,omitempty"`
	Finalized    string `json:"finalized,omitempty"`
	Invalid      string `json:"invalid,omitempty"`
	Dropped      bool   `json:"dropped,omitempty"`
	Usurped      string `json:"usurped,omitempty"`
	FutureReady  bool   `json:"future,omitempty"`
	Ready        bool   `json:"ready,omitempty"`
	Broadcast    []string `json:"broadcast,omitempty"`
}

// SubmitAndWatchExtrinsic submits a hex-encoded signed extrinsic and returns
// a channel of decoded status notifications.
func SubmitAndWatchExtrinsic(ctx context.Context, c Client, extrinsicHex string) (<-chan ExtrinsicStatus, error) {
	raw, err := c.Subscribe(ctx, MethodAuthorSubmitAndWatch, []interface{}{extrinsicHex})
	if err != nil {
		return nil, err
	}

	out := make(chan ExtrinsicStatus, 16)
	go func() {
		defer close(out)
		for payload := range raw {
			status := decodeExtrinsicStatus(payload)
			out <- status
		}
	}()
	return out, nil
}

func decodeExtrinsicStatus(payload json.RawMessage) ExtrinsicStatus {
	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		switch asString {
		case "ready":
			return ExtrinsicStatus{Ready: true}
		case "future":
			return ExtrinsicStatus{FutureReady: true}
		case "dropped":
			return ExtrinsicStatus{Dropped: true}
		default:
			return ExtrinsicStatus{}
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ExtrinsicStatus{}
	}

	status := ExtrinsicStatus{}
	if v, ok := obj["inBlock"]; ok {
		json.Unmarshal(v, &status.InBlock)
	}
	if v, ok := obj["finalized"]; ok {
		json.Unmarshal(v, &status.Finalized)
	}
	if v, ok := obj["invalid"]; ok {
		json.Unmarshal(v, &status.Invalid)
	}
	if v, ok := obj["usurped"]; ok {
		json.Unmarshal(v, &status.Usurped)
	}
	if v, ok := obj["broadcast"]; ok {
		json.Unmarshal(v, &status.Broadcast)
	}
	return status
}

// SubscribeFinalizedHeads subscribes to finalized block headers, returning a
// channel of raw header payloads.
func SubscribeFinalizedHeads(ctx context.Context, c Client) (<-chan json.RawMessage, error) {
	return c.Subscribe(ctx, MethodChainSubscribeFinalizedHead, []interface{}{})
}

// systemEventsStorageKey is the well-known twox128("System") ++
// twox128("Events") storage key: the same across every Substrate chain,
// since System.Events isn't namespaced per-pallet-instance.
const systemEventsStorageKey = "0x26aa394eea5630e07c48ae0c9558cef7a44704b568d21667356a5a050c118746bb4aa4d9c8cd35b7e7a4daa76ca7c6a4"

// ChainBlock is the decoded shape of one chain_getBlock response, narrowed
// to the one field dispatch-outcome lookup needs: the extrinsic list, in
// submission order, so a signed extrinsic can be located by its hex.
type ChainBlock struct {
	Block struct {
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

// ChainGetBlock fetches the block body at blockHash.
func ChainGetBlock(ctx context.Context, c Client, blockHash string) (*ChainBlock, error) {
	raw, err := c.Call(ctx, MethodChainGetBlock, []interface{}{blockHash})
	if err != nil {
		return nil, err
	}
	var block ChainBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("decode chain_getBlock: %w", err)
	}
	return &block, nil
}

// EventPhase identifies which extrinsic (if any) an event belongs to.
type EventPhase struct {
	ApplyExtrinsic *uint32 `json:"applyExtrinsic,omitempty"`
}

// EventRecord is one System.Events entry's event payload, narrowed to the
// fields a dispatch-outcome check needs.
type EventRecord struct {
	Section       string `json:"section"`
	Method        string `json:"method"`
	DispatchError string `json:"dispatchError,omitempty"`
}

// SystemEvent is one entry of the System.Events storage value.
type SystemEvent struct {
	Phase EventPhase  `json:"phase"`
	Event EventRecord `json:"event"`
}

// SystemEvents fetches and decodes System.Events at blockHash.
func SystemEvents(ctx context.Context, c Client, blockHash string) ([]SystemEvent, error) {
	raw, err := c.Call(ctx, MethodStateGetStorage, []interface{}{systemEventsStorageKey, blockHash})
	if err != nil {
		return nil, err
	}
	var events []SystemEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode system events: %w", err)
	}
	return events, nil
}

// DispatchOutcome reports whether a finalized extrinsic actually dispatched
// successfully: block finality only means the extrinsic was included, not
// that its call succeeded. success is false only when an ExtrinsicFailed
// event is found for this extrinsic's position in the block; eventNames
// lists every system event observed at that position ("section.method").
type DispatchOutcome struct {
	Success       bool
	DispatchError string
	EventNames    []string
}

// ExtrinsicDispatchOutcome locates extrinsicHex within the finalized block
// at blockHash and inspects the System.Events emitted at its index for
// ExtrinsicFailed (failure) versus ExtrinsicSuccess (success). If the
// extrinsic's index can't be determined — the node's chain_getBlock
// response didn't include it — every event in the block is scanned instead,
// since that is still strictly more correct than treating finality alone as
// success.
func ExtrinsicDispatchOutcome(ctx context.Context, c Client, blockHash, extrinsicHex string) (*DispatchOutcome, error) {
	block, err := ChainGetBlock(ctx, c, blockHash)
	if err != nil {
		return nil, fmt.Errorf("fetch block %s: %w", blockHash, err)
	}
	events, err := SystemEvents(ctx, c, blockHash)
	if err != nil {
		return nil, fmt.Errorf("fetch events for block %s: %w", blockHash, err)
	}

	index := -1
	for i, ext := range block.Block.Extrinsics {
		if ext == extrinsicHex {
			index = i
			break
		}
	}

	outcome := &DispatchOutcome{Success: true}
	for _, ev := range events {
		if index >= 0 && (ev.Phase.ApplyExtrinsic == nil || int(*ev.Phase.ApplyExtrinsic) != index) {
			continue
		}
		outcome.EventNames = append(outcome.EventNames, ev.Event.Section+"."+ev.Event.Method)
		if ev.Event.Section == "system" && ev.Event.Method == "ExtrinsicFailed" {
			outcome.Success = false
			outcome.DispatchError = ev.Event.DispatchError
		}
	}
	return outcome, nil
}
