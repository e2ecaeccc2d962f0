// Package signer implements the Signer capability from spec.md §4.9 / §6:
// sign an extrinsic for a sender address, and optionally gate signing behind
// a caller-supplied approval callback.
package signer

import "context"

// SigningRequest describes one item awaiting signature, surfaced to an
// approval callback before Sign is called.
type SigningRequest struct {
	ItemID         string
	Extrinsic      []byte
	Description    string
	EstimatedFee   string
	Warnings       []string
	Metadata       map[string]interface{}
	AccountAddress string
}

// BatchSigningRequest describes a batched group of items awaiting a single
// signature.
type BatchSigningRequest struct {
	ItemIDs        []string
	Descriptions   []string
	AggregatedFee  string
	AccountAddress string
	Extrinsic      []byte
}

// Signer is the contract every execution path signs through: a pluggable
// capability, not a concrete implementation (spec.md §1).
type Signer interface {
	// Sign returns the signed extrinsic bytes for sender. Implementations
	// MUST verify the signer controls sender before signing.
	Sign(ctx context.Context, extrinsic []byte, sender string) ([]byte, error)

	// RequestApproval asks the user (or an external wallet extension) to
	// approve req. Returns false on rejection, never an error for a plain
	// "no" — callers treat false as USER_REJECTED.
	RequestApproval(ctx context.Context, req SigningRequest) (bool, error)

	// RequestBatchApproval is RequestApproval for a batched submission.
	RequestBatchApproval(ctx context.Context, req BatchSigningRequest) (bool, error)

	// Address returns the SS58 address this signer controls.
	Address() string
}
