package orchestrator

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/capability"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/execarray"
	"github.com/arcsign/chainpilot/internal/planmodel"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/ss58"
)

type stubClient struct{}

func (stubClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return nil, nil
}
func (stubClient) CallBatch(ctx context.Context, requests []rpcsubstrate.Request) ([]json.RawMessage, error) {
	return nil, nil
}
func (stubClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	return nil, nil
}
func (stubClient) Close() error { return nil }

func testAddr(t *testing.T, b byte) string {
	t.Helper()
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = b
	}
	addr, err := ss58.Encode(pub, 0)
	require.NoError(t, err)
	return addr
}

func newTestAgent(t *testing.T) agent.Agent {
	t.Helper()
	cfg := config.DefaultEndpointManagerConfig()
	cfg.Endpoints = map[config.ChainRole][]string{
		config.ChainRoleAssetHub: {"hub1"},
		config.ChainRoleRelay:    {"relay1"},
	}
	connector := func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*endpoint.Connection, error) {
		return &endpoint.Connection{Client: stubClient{}, RegistryID: "registry-" + url}, nil
	}
	sessions := endpoint.NewManager(cfg, connector, nil, nil, nil)
	probes := func(ctx context.Context, session *endpoint.ExecutionSession) (capability.RuntimeProbe, error) {
		return capability.NewStaticProbe(
			map[string]bool{
				"balances.transfer_allow_death": true,
				"balances.transfer_keep_alive":  true,
				"utility.batch":                 true,
				"utility.batch_all":              true,
			},
			0, 10, "DOT", big.NewInt(100_000_000), "asset-hub-polkadot", 1,
		), nil
	}
	balances := func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
		return big.NewInt(1_000_000_000_000), nil
	}
	return &agent.AssetTransferAgent{Sessions: sessions, Probes: probes, Balances: balances}
}

func decodeTransferParams(parameters map[string]interface{}) (interface{}, error) {
	recipient, _ := parameters["recipient"].(string)
	address, _ := parameters["address"].(string)
	amt := parameters["amount"]
	return agent.TransferParams{
		Address:         address,
		Recipient:       recipient,
		Amount:          amt,
		Chain:           config.ChainRoleAssetHub,
		ValidateBalance: true,
	}, nil
}

func newOrchestrator(t *testing.T) (*Orchestrator, *agent.Registry) {
	t.Helper()
	registry := agent.NewRegistry()
	registry.Register("AssetTransferAgent", func() agent.Agent { return newTestAgent(t) })
	decoders := map[string]ParamDecoder{
		"AssetTransferAgent.transfer": decodeTransferParams,
	}
	return New(registry, decoders), registry
}

func TestRunAppendsOneItemPerStep(t *testing.T) {
	orch, _ := newOrchestrator(t)
	arr := execarray.New()
	sender := testAddr(t, 1)
	recipient := testAddr(t, 2)

	plan := &planmodel.ExecutionPlan{
		ID: "plan-1",
		Steps: []planmodel.ExecutionStep{
			{
				AgentClassName: "AssetTransferAgent",
				FunctionName:   "transfer",
				Description:    "send 1 DOT",
				ExecutionType:  planmodel.ExecutionTypeExtrinsic,
				Parameters: map[string]interface{}{
					"address": sender, "recipient": recipient, "amount": "1.0",
				},
			},
		},
	}

	err := orch.Run(context.Background(), plan, arr, false)
	require.NoError(t, err)

	state := arr.GetState()
	require.Equal(t, 1, state.Total)
	assert.Equal(t, sender, state.Items[0].Agent.SenderAddress)
	assert.Equal(t, execarray.StatusPending, state.Items[0].Status)
}

func TestRunAbortsOnUnknownAgentRegardlessOfBestEffort(t *testing.T) {
	orch, _ := newOrchestrator(t)
	arr := execarray.New()

	plan := &planmodel.ExecutionPlan{
		Steps: []planmodel.ExecutionStep{
			{AgentClassName: "NoSuchAgent", FunctionName: "transfer"},
		},
	}

	err := orch.Run(context.Background(), plan, arr, true)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeUnknownAgent))
	assert.Equal(t, 0, arr.GetState().Total)
}

func TestRunBestEffortRecordsFailedItemAndContinues(t *testing.T) {
	orch, _ := newOrchestrator(t)
	arr := execarray.New()
	sender := testAddr(t, 1)
	recipient := testAddr(t, 2)

	plan := &planmodel.ExecutionPlan{
		Steps: []planmodel.ExecutionStep{
			{
				AgentClassName: "AssetTransferAgent",
				FunctionName:   "transfer",
				Parameters:     map[string]interface{}{"address": sender, "recipient": sender, "amount": "1.0"},
			},
			{
				AgentClassName: "AssetTransferAgent",
				FunctionName:   "transfer",
				Parameters:     map[string]interface{}{"address": sender, "recipient": recipient, "amount": "1.0"},
			},
		},
	}

	err := orch.Run(context.Background(), plan, arr, true)
	require.NoError(t, err)

	state := arr.GetState()
	require.Equal(t, 2, state.Total)
	assert.Equal(t, execarray.StatusFailed, state.Items[0].Status)
	assert.Equal(t, execarray.StatusPending, state.Items[1].Status)
}

func TestRunAbortsOnFailureWhenNotBestEffort(t *testing.T) {
	orch, _ := newOrchestrator(t)
	arr := execarray.New()
	sender := testAddr(t, 1)
	recipient := testAddr(t, 2)

	plan := &planmodel.ExecutionPlan{
		Steps: []planmodel.ExecutionStep{
			{
				AgentClassName: "AssetTransferAgent",
				FunctionName:   "transfer",
				Parameters:     map[string]interface{}{"address": sender, "recipient": sender, "amount": "1.0"},
			},
			{
				AgentClassName: "AssetTransferAgent",
				FunctionName:   "transfer",
				Parameters:     map[string]interface{}{"address": sender, "recipient": recipient, "amount": "1.0"},
			},
		},
	}

	err := orch.Run(context.Background(), plan, arr, false)
	require.Error(t, err)

	state := arr.GetState()
	require.Equal(t, 2, state.Total)
	assert.Equal(t, execarray.StatusFailed, state.Items[0].Status)
	assert.Equal(t, execarray.StatusCancelled, state.Items[1].Status)
}

func TestRunMissingDecoderIsBadFunctionCall(t *testing.T) {
	registry := agent.NewRegistry()
	registry.Register("AssetTransferAgent", func() agent.Agent { return newTestAgent(t) })
	orch := New(registry, map[string]ParamDecoder{})
	arr := execarray.New()

	plan := &planmodel.ExecutionPlan{
		Steps: []planmodel.ExecutionStep{
			{AgentClassName: "AssetTransferAgent", FunctionName: "transfer"},
		},
	}

	err := orch.Run(context.Background(), plan, arr, false)
	require.Error(t, err)
	assert.True(t, chainerrors.Is(err, chainerrors.CodeBadFunctionCall))
}
