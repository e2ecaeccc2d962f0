package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/audit"
	"github.com/arcsign/chainpilot/internal/capability"
	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/execarray"
	"github.com/arcsign/chainpilot/internal/executioner"
	"github.com/arcsign/chainpilot/internal/logging"
	"github.com/arcsign/chainpilot/internal/metrics"
	"github.com/arcsign/chainpilot/internal/orchestrator"
	"github.com/arcsign/chainpilot/internal/planparse"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/signer"
	"github.com/arcsign/chainpilot/internal/ss58"
)

// demoRegistryID is the fixed metadata registry identity the mock chain
// reports, standing in for the hash a real node's state_getMetadata call
// would produce.
const demoRegistryID = "chainpilot-demo-registry"

// runResult summarizes one end-to-end demo run for both CLI modes.
type runResult struct {
	PlanText      string        `json:"planText"`
	ItemCount     int           `json:"itemCount"`
	Finalized     int           `json:"finalized"`
	Failed        int           `json:"failed"`
	Cancelled     int           `json:"cancelled"`
	Items         []itemSummary `json:"items"`
	SignerAddress string        `json:"signerAddress"`
}

type itemSummary struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	TxHash      string `json:"txHash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// runDemo wires the whole pipeline together — endpoint manager, capability
// detection, the asset-transfer agent, the orchestrator, and the
// executioner — against the mock chain and a deterministic in-process
// signer, then drives it to completion. log receives progress narration
// (stdout in interactive mode, stderr in dashboard mode).
func runDemo(ctx context.Context, log func(format string, args ...interface{})) (*runResult, error) {
	zapLog := logging.Noop()
	if detectMode() == ModeInteractive {
		if built, err := logging.New(logging.ModeDevelopment); err == nil {
			zapLog = built
		}
	}
	defer zapLog.Sync()

	chain := newMockChain()

	cfg := config.DefaultEndpointManagerConfig()
	cfg.Endpoints = map[config.ChainRole][]string{
		config.ChainRoleAssetHub: {"wss://demo.chainpilot.local:443"},
	}
	connector := func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*endpoint.Connection, error) {
		return &endpoint.Connection{Client: chain, RegistryID: demoRegistryID}, nil
	}
	mgr := endpoint.NewManager(cfg, connector, nil, nil, zapLog)

	broadcastSession, err := mgr.OpenExecutionSession(ctx, config.ChainRoleAssetHub)
	if err != nil {
		return nil, fmt.Errorf("open broadcast session: %w", err)
	}

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	sgnr, err := signer.NewKeypairSignerFromSeed(seed, 0,
		func(ctx context.Context, req signer.SigningRequest) (bool, error) {
			log("approving %s (fee ~%s)", req.Description, req.EstimatedFee)
			return true, nil
		},
		func(ctx context.Context, req signer.BatchSigningRequest) (bool, error) {
			log("approving batch of %d items (fee %s)", len(req.ItemIDs), req.AggregatedFee)
			return true, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	recipientPub := make([]byte, 32)
	for i := range recipientPub {
		recipientPub[i] = byte(32 - i)
	}
	recipient, err := ss58.Encode(recipientPub, 0)
	if err != nil {
		return nil, fmt.Errorf("encode recipient address: %w", err)
	}

	llm := mockLLM(sgnr.Address(), recipient)
	text, err := llm("send 2.5 tokens to my friend", "You are a Polkadot transfer assistant.", nil)
	if err != nil {
		return nil, fmt.Errorf("query LLM adapter: %w", err)
	}
	log("LLM adapter responded")

	plan, ok, err := planparse.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("extract plan: %w", err)
	}
	if !ok {
		return &runResult{PlanText: text, SignerAddress: sgnr.Address()}, nil
	}

	probes := func(ctx context.Context, session *endpoint.ExecutionSession) (capability.RuntimeProbe, error) {
		specName, err := rpcsubstrate.SystemChain(ctx, session.Client())
		if err != nil {
			specName = "asset-hub-polkadot"
		}
		return capability.NewStaticProbe(
			map[string]bool{
				"balances.transfer_allow_death": true,
				"balances.transfer_keep_alive":  true,
				"utility.batch":                 true,
				"utility.batch_all":              true,
			},
			0, 10, "DOT", big.NewInt(100_000_000), specName, 1_002_000,
		), nil
	}
	balances := func(ctx context.Context, session *endpoint.ExecutionSession, address string) (*big.Int, error) {
		info, err := rpcsubstrate.SystemAccount(ctx, session.Client(), address)
		if err != nil {
			return nil, err
		}
		free, ok := new(big.Int).SetString(info.Free, 10)
		if !ok {
			return big.NewInt(0), nil
		}
		return free, nil
	}

	registry := agent.NewRegistry()
	registry.Register("AssetTransferAgent", func() agent.Agent {
		return &agent.AssetTransferAgent{Sessions: mgr, Probes: probes, Balances: balances}
	})

	decoders := map[string]orchestrator.ParamDecoder{
		"AssetTransferAgent.transfer":       decodeTransferParams,
		"AssetTransferAgent.batch_transfer": decodeBatchTransferParams,
	}
	orch := orchestrator.New(registry, decoders)

	arr := execarray.New()
	if err := orch.Run(ctx, plan, arr, true); err != nil {
		return nil, fmt.Errorf("run orchestrator: %w", err)
	}
	log("orchestrator appended %d item(s)", arr.GetState().Total)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	auditLogger, err := audit.NewLogger(auditLogPath())
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	execCfg := config.DefaultExecutionerConfig()
	exec := executioner.New(
		arr,
		map[string]*endpoint.ExecutionSession{demoRegistryID: broadcastSession},
		sgnr,
		nil, // simulation disabled by default config; no WASM emulator in this environment
		collector,
		auditLogger,
		executioner.Config{
			ContinueOnError:  execCfg.ContinueOnError,
			AllowBatching:    execCfg.AllowBatching,
			Sequential:       execCfg.Sequential,
			Timeout:          2 * time.Second, // shorter than the spec.md §6 default so the demo finalizes quickly
			AutoApprove:      execCfg.AutoApprove,
			EnableSimulation: execCfg.EnableSimulation,
		},
	)

	if err := exec.RunPass(ctx); err != nil {
		log("executioner pass returned: %v", err)
	}

	state := arr.GetState()
	result := &runResult{
		PlanText:      text,
		ItemCount:     state.Total,
		Finalized:     state.Completed,
		Failed:        state.Failed,
		Cancelled:     state.Cancelled,
		SignerAddress: sgnr.Address(),
	}
	for _, item := range state.Items {
		summary := itemSummary{ID: item.ID, Description: item.Agent.Description, Status: string(item.Status), Error: item.Error}
		if item.Result != nil {
			summary.TxHash = item.Result.TxHash
		}
		result.Items = append(result.Items, summary)
	}
	return result, nil
}

func auditLogPath() string {
	return "chainpilot-audit.ndjson"
}
