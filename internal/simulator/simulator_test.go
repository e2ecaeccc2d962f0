package simulator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

type fakeClient struct {
	response json.RawMessage
	err      error
}

func (c fakeClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.response, c.err
}
func (c fakeClient) CallBatch(ctx context.Context, requests []rpcsubstrate.Request) ([]json.RawMessage, error) {
	return nil, nil
}
func (c fakeClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	return nil, nil
}
func (c fakeClient) Close() error { return nil }

func testSession(t *testing.T, client rpcsubstrate.Client) *endpoint.ExecutionSession {
	t.Helper()
	cfg := config.DefaultEndpointManagerConfig()
	cfg.Endpoints = map[config.ChainRole][]string{config.ChainRoleAssetHub: {"hub1"}}
	connector := func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*endpoint.Connection, error) {
		return &endpoint.Connection{Client: client, RegistryID: "reg-1"}, nil
	}
	mgr := endpoint.NewManager(cfg, connector, nil, nil, nil)
	session, err := mgr.OpenExecutionSession(context.Background(), config.ChainRoleAssetHub)
	require.NoError(t, err)
	return session
}

func TestSimulateReportsFeeFromPaymentQueryInfo(t *testing.T) {
	client := fakeClient{response: json.RawMessage(`{"weight":{"refTime":100},"class":"normal","partialFee":"157000000"}`)}
	session := testSession(t, client)
	tx := &txbuilder.Extrinsic{Section: "balances", Method: "transfer_keep_alive", Args: map[string]interface{}{"dest": "addr", "value": "1"}}

	var stages []string
	sim := &Simulator{OnProgress: func(stage string) { stages = append(stages, stage) }}

	outcome, err := sim.Simulate(context.Background(), session, tx, "sender")
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.NotNil(t, outcome.EstimatedFee)
	assert.Equal(t, "157000000", outcome.EstimatedFee.String())
	assert.Equal(t, []string{StageInitializing, StageForking, StageExecuting, StageAnalyzing, StageComplete}, stages)
}

func TestSimulateReturnsFailureOutcomeOnRPCError(t *testing.T) {
	client := fakeClient{err: assertErr{}}
	session := testSession(t, client)
	tx := &txbuilder.Extrinsic{Section: "balances", Method: "transfer_keep_alive"}

	sim := New()
	outcome, err := sim.Simulate(context.Background(), session, tx, "sender")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.ErrorMessage)
}

func TestSimulateRejectsInactiveSession(t *testing.T) {
	client := fakeClient{response: json.RawMessage(`{}`)}
	session := testSession(t, client)
	require.NoError(t, session.Close())

	sim := New()
	_, err := sim.Simulate(context.Background(), session, &txbuilder.Extrinsic{}, "sender")
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "rpc failure" }
