package agent

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
	"github.com/arcsign/chainpilot/internal/txbuilder"
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

func testSessionOpener(t *testing.T) SessionOpener {
	t.Helper()
	cfg := config.DefaultEndpointManagerConfig()
	cfg.Endpoints = map[config.ChainRole][]string{
		config.ChainRoleAssetHub: {"hub1"},
		config.ChainRoleRelay:    {"relay1"},
	}
	connector := func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*endpoint.Connection, error) {
		return &endpoint.Connection{Client: nopClient{}, RegistryID: "registry-" + url}, nil
	}
	return endpoint.NewManager(cfg, connector, nil, nil, nil)
}

func fakeProbeFactory() ProbeFactory {
	return func(ctx context.Context, session *endpoint.ExecutionSession) (capability.RuntimeProbe, error) {
		return capability.NewStaticProbe(
			map[string]bool{
				"balances.transfer_allow_death": true,
				"balances.transfer_keep_alive":  true,
				"utility.batch":                 true,
				"utility.batch_all":             true,
			},
			0, 10, "DOT", big.NewInt(100_000_000), "asset-hub-polkadot", 1,
		), nil
	}
}

func testAddress(t *testing.T, seedByte byte) string {
	t.Helper()
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = seedByte
	}
	addr, err := ss58.Encode(pub, 0)
	require.NoError(t, err)
	return addr
}

func TestTransferHappyPath(t *testing.T) {
	sender := testAddress(t, 1)
	recipient := testAddress(t, 2)

	a := &AssetTransferAgent{
		Sessions: testSessionOpener(t),
		Probes:   fakeProbeFactory(),
		Balances: func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
			return big.NewInt(1_000_000_000_000), nil
		},
	}

	result, err := a.Dispatch(context.Background(), "transfer", TransferParams{
		Address:         sender,
		Recipient:       recipient,
		Amount:          "1.5",
		Chain:           config.ChainRoleAssetHub,
		ValidateBalance: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Transaction)
	assert.Equal(t, sender, result.SenderAddress)
}

func TestTransferRejectsSenderEqualsRecipient(t *testing.T) {
	addr := testAddress(t, 1)
	a := &AssetTransferAgent{Sessions: testSessionOpener(t), Probes: fakeProbeFactory()}

	_, err := a.Dispatch(context.Background(), "transfer", TransferParams{
		Address: addr, Recipient: addr, Amount: "1.0", Chain: config.ChainRoleAssetHub,
	})
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeSenderEqualsRecipient))
}

func TestTransferInsufficientBalanceFailsBeforeBuild(t *testing.T) {
	sender := testAddress(t, 1)
	recipient := testAddress(t, 2)

	a := &AssetTransferAgent{
		Sessions: testSessionOpener(t),
		Probes:   fakeProbeFactory(),
		Balances: func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
			return big.NewInt(1_000_000_000), nil
		},
	}

	_, err := a.Dispatch(context.Background(), "transfer", TransferParams{
		Address: sender, Recipient: recipient, Amount: "10", Chain: config.ChainRoleAssetHub, ValidateBalance: true,
	})
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeInsufficientBalance))
}

func TestDispatchUnknownFunctionIsBadFunctionCall(t *testing.T) {
	a := &AssetTransferAgent{Sessions: testSessionOpener(t), Probes: fakeProbeFactory()}
	_, err := a.Dispatch(context.Background(), "nonexistent", TransferParams{})
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeBadFunctionCall))
}

func TestBatchTransferHappyPath(t *testing.T) {
	sender := testAddress(t, 1)
	r1 := testAddress(t, 2)
	r2 := testAddress(t, 3)

	a := &AssetTransferAgent{
		Sessions: testSessionOpener(t),
		Probes:   fakeProbeFactory(),
		Balances: func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
			return big.NewInt(1_000_000_000_000), nil
		},
	}

	result, err := a.Dispatch(context.Background(), "batch_transfer", BatchTransferParams{
		Address: sender,
		Transfers: []BatchLeg{
			{Recipient: r1, Amount: "1.0"},
			{Recipient: r2, Amount: "2.0"},
		},
		Chain:  config.ChainRoleAssetHub,
		Atomic: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Transaction)
}

type fakeSimulator struct {
	outcome *SimulationOutcome
	err     error
}

func (f *fakeSimulator) Simulate(ctx context.Context, session *endpoint.ExecutionSession, tx *txbuilder.Extrinsic, sender string) (*SimulationOutcome, error) {
	return f.outcome, f.err
}

func TestTransferSimulationFailureBlocksSigning(t *testing.T) {
	sender := testAddress(t, 1)
	recipient := testAddress(t, 2)

	a := &AssetTransferAgent{
		Sessions: testSessionOpener(t),
		Probes:   fakeProbeFactory(),
		Balances: func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
			return big.NewInt(1_000_000_000_000), nil
		},
		Simulator: &fakeSimulator{outcome: &SimulationOutcome{Success: false, ErrorMessage: "dry run reverted: Module(Token(FundsUnavailable))"}},
	}

	_, err := a.Dispatch(context.Background(), "transfer", TransferParams{
		Address: sender, Recipient: recipient, Amount: "1.5", Chain: config.ChainRoleAssetHub,
		EnableSimulation: true,
	})
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeSimulationFailed))
}

func TestBatchTransferRejectsOversizedBatch(t *testing.T) {
	sender := testAddress(t, 1)
	legs := make([]BatchLeg, 101)
	for i := range legs {
		legs[i] = BatchLeg{Recipient: testAddress(t, byte(i+2)), Amount: "1.0"}
	}

	a := &AssetTransferAgent{Sessions: testSessionOpener(t), Probes: fakeProbeFactory()}
	_, err := a.Dispatch(context.Background(), "batch_transfer", BatchTransferParams{
		Address: sender, Transfers: legs, Chain: config.ChainRoleAssetHub,
	})
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeBatchSizeInvalid))
}
