package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/vedhavyas/go-subkey"
	"github.com/vedhavyas/go-subkey/sr25519"

	"github.com/arcsign/chainpilot/internal/bip39mnemonic"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/keystore"
	"github.com/arcsign/chainpilot/internal/ratelimit"
	"github.com/arcsign/chainpilot/internal/ss58"
)

// ApprovalCallback is invoked by KeypairSigner.RequestApproval. It is the
// same "pair of approval-request callbacks" spec.md §1 describes as an
// out-of-scope collaborator interface.
type ApprovalCallback func(ctx context.Context, req SigningRequest) (bool, error)

// BatchApprovalCallback is ApprovalCallback for a batched submission.
type BatchApprovalCallback func(ctx context.Context, req BatchSigningRequest) (bool, error)

const (
	approvalMaxAttempts = 5
	approvalWindow      = time.Minute
)

// KeypairSigner signs with an in-process sr25519 keypair derived from a
// seed, itself protected at rest by internal/keystore's encrypted file
// format. Signer-approval requests are throttled per sender address by
// internal/ratelimit, so a compromised or buggy caller cannot hammer the
// approval callback.
type KeypairSigner struct {
	keyPair subkey.KeyPair
	address string
	prefix  uint16

	approve      ApprovalCallback
	approveBatch BatchApprovalCallback
	limiter      *ratelimit.RateLimiter
}

// NewKeypairSignerFromSeed builds a KeypairSigner directly from a raw
// 32-byte sr25519 seed (already decrypted by the caller via
// keystore.DecryptSeed).
func NewKeypairSignerFromSeed(seed []byte, prefix uint16, approve ApprovalCallback, approveBatch BatchApprovalCallback) (*KeypairSigner, error) {
	scheme := &sr25519.Scheme{}
	kr, err := scheme.FromSeed(seed)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"derive sr25519 keypair from seed", err)
	}

	address, err := ss58.Encode(kr.Public(), prefix)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"encode sr25519 public key as SS58 address", err)
	}

	return &KeypairSigner{
		keyPair:      kr,
		address:      address,
		prefix:       prefix,
		approve:      approve,
		approveBatch: approveBatch,
		limiter:      ratelimit.NewRateLimiter(approvalMaxAttempts, approvalWindow),
	}, nil
}

// NewKeypairSignerFromKeystore decrypts an internal/keystore blob and
// builds a KeypairSigner from the recovered seed. The decrypted seed is
// zeroed once the keypair has been derived from it.
func NewKeypairSignerFromKeystore(blob []byte, password string, prefix uint16, approve ApprovalCallback, approveBatch BatchApprovalCallback) (*KeypairSigner, error) {
	seed, err := keystore.DecryptFromFile(blob, password)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"decrypt keystore seed", err)
	}
	defer keystore.ClearBytes(seed)

	return NewKeypairSignerFromSeed(seed, prefix, approve, approveBatch)
}

// NewKeypairSignerFromMnemonic imports a BIP39 mnemonic and derives the
// sr25519 seed from its PBKDF2 seed material.
func NewKeypairSignerFromMnemonic(svc *bip39mnemonic.Service, mnemonic string, prefix uint16, approve ApprovalCallback, approveBatch BatchApprovalCallback) (*KeypairSigner, error) {
	if err := svc.ValidateMnemonic(mnemonic); err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"invalid mnemonic", err)
	}
	full, err := svc.MnemonicToSeed(mnemonic, "")
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			"derive seed from mnemonic", err)
	}
	defer keystore.ClearBytes(full)

	// sr25519 seeds are 32 bytes; MnemonicToSeed's 64-byte PBKDF2 output is
	// truncated to the first half.
	seed := make([]byte, 32)
	copy(seed, full[:32])
	defer keystore.ClearBytes(seed)

	return NewKeypairSignerFromSeed(seed, prefix, approve, approveBatch)
}

// Sign produces a raw sr25519 signature over extrinsic, after verifying
// sender matches the address this signer controls. Addresses are compared
// via ss58.Reencode rather than byte-exact string equality, since the same
// key can be rendered under different network prefixes.
func (k *KeypairSigner) Sign(ctx context.Context, extrinsic []byte, sender string) ([]byte, error) {
	reencoded, err := ss58.Reencode(sender, k.prefix)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeInvalidAddress, chainerrors.Input,
			"re-encode sender address", err)
	}
	if reencoded != k.address {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution,
			fmt.Sprintf("address mismatch: signer controls %s, requested %s", k.address, reencoded), nil)
	}

	signature, err := k.keyPair.Sign(extrinsic)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "sign extrinsic", err)
	}
	return signature, nil
}

// RequestApproval throttles then delegates to the configured callback.
func (k *KeypairSigner) RequestApproval(ctx context.Context, req SigningRequest) (bool, error) {
	if !k.limiter.AllowAttempt(k.address) {
		return false, chainerrors.New(chainerrors.CodeUserRejected, chainerrors.Execution,
			"too many approval requests for this address, try again later", nil)
	}
	if k.approve == nil {
		return false, nil
	}
	return k.approve(ctx, req)
}

// RequestBatchApproval is RequestApproval for BatchSigningRequest.
func (k *KeypairSigner) RequestBatchApproval(ctx context.Context, req BatchSigningRequest) (bool, error) {
	if !k.limiter.AllowAttempt(k.address) {
		return false, chainerrors.New(chainerrors.CodeUserRejected, chainerrors.Execution,
			"too many approval requests for this address, try again later", nil)
	}
	if k.approveBatch == nil {
		return false, nil
	}
	return k.approveBatch(ctx, req)
}

// Address returns the SS58 address this signer controls.
func (k *KeypairSigner) Address() string {
	return k.address
}

var _ Signer = (*KeypairSigner)(nil)
