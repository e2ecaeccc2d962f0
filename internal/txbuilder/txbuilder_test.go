package txbuilder

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/chainpilot/internal/capability"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/ss58"
)

type nopClient struct{}

func (nopClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return nil, nil
}
func (nopClient) CallBatch(ctx context.Context, requests []rpcsubstrate.Request) ([]json.RawMessage, error) {
	return nil, nil
}
func (nopClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	return nil, nil
}
func (nopClient) Close() error { return nil }

func testSession(t *testing.T) *endpoint.ExecutionSession {
	t.Helper()
	cfg := config.DefaultEndpointManagerConfig()
	cfg.Endpoints = map[config.ChainRole][]string{config.ChainRoleAssetHub: {"hub1"}}

	connector := func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*endpoint.Connection, error) {
		return &endpoint.Connection{Client: nopClient{}, RegistryID: "registry-" + url}, nil
	}
	mgr := endpoint.NewManager(cfg, connector, nil, nil, nil)
	session, err := mgr.OpenExecutionSession(context.Background(), config.ChainRoleAssetHub)
	require.NoError(t, err)
	return session
}

func recipientAddress(t *testing.T, prefix uint16) (string, []byte) {
	t.Helper()
	pk := make([]byte, 32)
	for i := range pk {
		pk[i] = byte(i + 1)
	}
	addr, err := ss58.Encode(pk, prefix)
	require.NoError(t, err)
	return addr, pk
}

func capsWith(allowDeath, keepAlive, legacy bool) *capability.ChainCapabilities {
	return &capability.ChainCapabilities{
		HasTransfer:           legacy,
		HasTransferAllowDeath: allowDeath,
		HasTransferKeepAlive:  keepAlive,
		HasUtility:            true,
		HasBatchAll:           true,
		SS58Prefix:            0,
		Decimals:              10,
		ExistentialDeposit:    big.NewInt(100_000_000),
		IsAssetHub:            true,
	}
}

// S1 — happy path: amount normalization, method selection, address re-encode.
func TestBuildTransferHappyPath(t *testing.T) {
	session := testSession(t)
	addr, pk := recipientAddress(t, 7)
	caps := capsWith(true, true, false)

	result, err := BuildTransfer(session, TransferParams{
		Recipient:  addr,
		Amount:     "1.5",
		KeepAlive:  false,
		SenderFree: big.NewInt(1_000_000_000_000),
	}, caps, true)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(15_000_000_000), result.NormalizedAmount)
	assert.Equal(t, MethodTransferAllowDeath, result.Method)

	decoded, _, err := ss58.Decode(result.RecipientEncoded)
	require.NoError(t, err)
	assert.Equal(t, pk, decoded)
}

// Testable Property 6: method selection with fallbacks.
func TestMethodSelectionFallbacks(t *testing.T) {
	addr, _ := recipientAddress(t, 0)
	session := testSession(t)

	allowDeathCaps := capsWith(true, true, false)
	r, err := BuildTransfer(session, TransferParams{Recipient: addr, Amount: "1", KeepAlive: false}, allowDeathCaps, true)
	require.NoError(t, err)
	assert.Equal(t, MethodTransferAllowDeath, r.Method)

	legacyCaps := capsWith(false, false, true)
	r, err = BuildTransfer(session, TransferParams{Recipient: addr, Amount: "1", KeepAlive: false}, legacyCaps, true)
	require.NoError(t, err)
	assert.Equal(t, MethodTransferLegacy, r.Method)
	assert.Contains(t, r.Warnings, "using legacy balances.transfer method")

	noKeepAliveCaps := capsWith(true, false, false)
	_, err = BuildTransfer(session, TransferParams{Recipient: addr, Amount: "1", KeepAlive: true}, noKeepAliveCaps, true)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeInsufficientCapabilities))
}

// Testable Property 7: ED warning.
func TestExistentialDepositWarning(t *testing.T) {
	addr, _ := recipientAddress(t, 0)
	session := testSession(t)
	caps := capsWith(true, true, false)

	r, err := BuildTransfer(session, TransferParams{Recipient: addr, Amount: "0.001", KeepAlive: false}, caps, true)
	require.NoError(t, err)
	found := false
	for _, w := range r.Warnings {
		if w != "" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, r.Warnings, 1)
}

// S3 — reaping risk warning, build still succeeds.
func TestReapingWarning(t *testing.T) {
	addr, _ := recipientAddress(t, 0)
	session := testSession(t)
	caps := capsWith(true, true, false)

	r, err := BuildTransfer(session, TransferParams{
		Recipient:    addr,
		Amount:       "1.5",
		KeepAlive:    false,
		SenderFree:   big.NewInt(2_000_000_000),
		EstimatedFee: big.NewInt(200_000_000),
	}, caps, true)
	require.NoError(t, err)

	foundReapWarning := false
	for _, w := range r.Warnings {
		if w != "" && len(w) > 0 {
			foundReapWarning = foundReapWarning || contains(w, "reaped")
		}
	}
	assert.True(t, foundReapWarning)
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// Every leg of a batch is built against the same session, so each one
// is stamped with that session's registry by BuildTransfer; the
// cross-registry guard for heterogeneous sources lives at the
// executioner layer (see executioner.TestBatchRejectsHeterogeneousRegistryItems),
// since BuildBatch itself has no way to receive legs from another session.
func TestBatchLegsShareSessionRegistry(t *testing.T) {
	session := testSession(t)
	addr, _ := recipientAddress(t, 0)
	caps := capsWith(true, true, false)

	transfers := []BatchTransfer{
		{Params: TransferParams{Recipient: addr, Amount: "1"}},
	}
	result, err := BuildBatch(session, transfers, caps, true, true)
	require.NoError(t, err)
	assert.Equal(t, "batch_all", result.Method)
	assert.Equal(t, session.RegistryID(), result.Extrinsic.RegistryID)
}

func TestBatchSizeValidation(t *testing.T) {
	session := testSession(t)
	caps := capsWith(true, true, false)
	_, err := BuildBatch(session, []BatchTransfer{}, caps, true, true)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeBatchSizeInvalid))
}

func TestBuildTransferChainTypeMismatch(t *testing.T) {
	session := testSession(t)
	addr, _ := recipientAddress(t, 0)
	caps := capsWith(true, true, false)
	caps.IsAssetHub = false

	_, err := BuildTransfer(session, TransferParams{Recipient: addr, Amount: "1"}, caps, true)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeChainTypeMismatch))
}
