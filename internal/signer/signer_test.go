package signer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestNewKeypairSignerFromSeedDerivesAddress(t *testing.T) {
	s, err := NewKeypairSignerFromSeed(fixedSeed(), 0, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Address())
}

func TestSignRejectsAddressMismatch(t *testing.T) {
	s, err := NewKeypairSignerFromSeed(fixedSeed(), 0, nil, nil)
	require.NoError(t, err)

	other, err := NewKeypairSignerFromSeed(append([]byte{}, append(fixedSeed()[1:], 0)...), 0, nil, nil)
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), []byte("payload"), other.Address())
	assert.Error(t, err)
}

func TestSignSucceedsForOwnAddress(t *testing.T) {
	s, err := NewKeypairSignerFromSeed(fixedSeed(), 0, nil, nil)
	require.NoError(t, err)

	sig, err := s.Sign(context.Background(), []byte("payload"), s.Address())
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestRequestApprovalThrottlesAfterMaxAttempts(t *testing.T) {
	calls := 0
	s, err := NewKeypairSignerFromSeed(fixedSeed(), 0, func(ctx context.Context, req SigningRequest) (bool, error) {
		calls++
		return true, nil
	}, nil)
	require.NoError(t, err)

	for i := 0; i < approvalMaxAttempts; i++ {
		ok, err := s.RequestApproval(context.Background(), SigningRequest{ItemID: "x"})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, err = s.RequestApproval(context.Background(), SigningRequest{ItemID: "x"})
	assert.Error(t, err)
	assert.Equal(t, approvalMaxAttempts, calls)
}

func TestExtensionSignerDelegatesToCallbacks(t *testing.T) {
	signCalled := false
	ext := NewExtensionSigner("addr1", func(ctx context.Context, extrinsic []byte, sender string) ([]byte, error) {
		signCalled = true
		return []byte("signed"), nil
	}, func(ctx context.Context, req SigningRequest) (bool, error) {
		return true, nil
	}, nil)

	ok, err := ext.RequestApproval(context.Background(), SigningRequest{})
	require.NoError(t, err)
	assert.True(t, ok)

	sig, err := ext.Sign(context.Background(), []byte("payload"), "addr1")
	require.NoError(t, err)
	assert.Equal(t, []byte("signed"), sig)
	assert.True(t, signCalled)

	_, err = ext.Sign(context.Background(), []byte("payload"), "other")
	assert.Error(t, err)
}
