package capability

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
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

func activeSession(t *testing.T) *endpoint.ExecutionSession {
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

func TestDetectPopulatesCapabilities(t *testing.T) {
	probe := NewStaticProbe(
		map[string]bool{
			"balances.transfer_allow_death": true,
			"balances.transfer_keep_alive":  true,
			"utility.batch_all":             true,
		},
		0, 10, "DOT", big.NewInt(100_000_000), "polkadot", 1_000_000,
	)

	caps, err := Detect(context.Background(), activeSession(t), probe)
	require.NoError(t, err)
	assert.True(t, caps.HasTransferAllowDeath)
	assert.True(t, caps.HasTransferKeepAlive)
	assert.False(t, caps.HasTransfer)
	assert.True(t, caps.HasBatchAll)
	assert.Equal(t, uint16(0), caps.SS58Prefix)
	assert.Equal(t, 10, caps.Decimals)
	assert.Equal(t, big.NewInt(100_000_000), caps.ExistentialDeposit)
	assert.Empty(t, caps.Warnings)
}

func TestDetectDefaultsOnMissingConstants(t *testing.T) {
	probe := NewStaticProbe(map[string]bool{}, 0, 0, "", nil, "polkadot", 1)
	caps, err := Detect(context.Background(), activeSession(t), probe)
	require.NoError(t, err)
	assert.Contains(t, caps.Warnings, "existential deposit unavailable, defaulting to 0")
	assert.Equal(t, big.NewInt(0), caps.ExistentialDeposit)
}
