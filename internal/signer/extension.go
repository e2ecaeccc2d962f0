package signer

import (
	"context"

	"github.com/arcsign/chainpilot/internal/chainerrors"
)

// SignCallback is supplied by the external wallet-extension collaborator
// (out of scope per spec.md §1 — only its interface is implemented here).
type SignCallback func(ctx context.Context, extrinsic []byte, sender string) ([]byte, error)

// ExtensionSigner adapts an external wallet extension's sign/approve
// callbacks to the Signer interface. It holds no key material itself: every
// call is a pass-through to the caller-supplied functions.
type ExtensionSigner struct {
	address      string
	sign         SignCallback
	approve      ApprovalCallback
	approveBatch BatchApprovalCallback
}

// NewExtensionSigner builds an ExtensionSigner for the given address,
// delegating signing and approval to externally supplied callbacks.
func NewExtensionSigner(address string, sign SignCallback, approve ApprovalCallback, approveBatch BatchApprovalCallback) *ExtensionSigner {
	return &ExtensionSigner{
		address:      address,
		sign:         sign,
		approve:      approve,
		approveBatch: approveBatch,
	}
}

func (e *ExtensionSigner) Sign(ctx context.Context, extrinsic []byte, sender string) ([]byte, error) {
	if sender != e.address {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"address mismatch: extension signer controls a different address than requested", nil)
	}
	if e.sign == nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"no sign callback configured for extension signer", nil)
	}
	return e.sign(ctx, extrinsic, sender)
}

func (e *ExtensionSigner) RequestApproval(ctx context.Context, req SigningRequest) (bool, error) {
	if e.approve == nil {
		return false, nil
	}
	return e.approve(ctx, req)
}

func (e *ExtensionSigner) RequestBatchApproval(ctx context.Context, req BatchSigningRequest) (bool, error) {
	if e.approveBatch == nil {
		return false, nil
	}
	return e.approveBatch(ctx, req)
}

func (e *ExtensionSigner) Address() string {
	return e.address
}

var _ Signer = (*ExtensionSigner)(nil)
