package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
)

// mockChain is a minimal in-process stand-in for a substrate node's JSON-RPC
// surface, covering exactly the calls rpcsubstrate names in spec.md §6. It
// exists so this demo can exercise the full engine without a real network
// endpoint; production callers dial a real node through
// rpcsubstrate.Dial instead.
type mockChain struct {
	chainName   string
	specName    string
	specVersion uint32
	freeBalance string
	partialFee  string

	mu            sync.Mutex
	lastExtrinsic string
}

func newMockChain() *mockChain {
	return &mockChain{
		chainName:   "ChainPilot Demo Network",
		specName:    "asset-hub-polkadot",
		specVersion: 1_002_000,
		freeBalance: "5000000000000",
		partialFee:  "156000000",
	}
}

func (m *mockChain) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	switch method {
	case rpcsubstrate.MethodSystemChain:
		return json.Marshal(m.chainName)
	case rpcsubstrate.MethodSystemVersion:
		return json.Marshal("chainpilot-demo/0.1.0")
	case rpcsubstrate.MethodStateGetMetadata:
		return json.Marshal("0x6d657461") // "meta" hex, a placeholder opaque blob
	case rpcsubstrate.MethodSystemAccount:
		return json.Marshal(rpcsubstrate.AccountInfo{Free: m.freeBalance, Reserved: "0", Frozen: "0", Nonce: 0})
	case rpcsubstrate.MethodPaymentQueryInfo:
		return json.Marshal(map[string]string{"partialFee": m.partialFee})
	case rpcsubstrate.MethodChainGetBlock:
		m.mu.Lock()
		ext := m.lastExtrinsic
		m.mu.Unlock()
		return json.Marshal(map[string]interface{}{
			"block": map[string]interface{}{"extrinsics": []string{ext}},
		})
	case rpcsubstrate.MethodStateGetStorage:
		// The demo always dispatches cleanly, so System.Events reports a
		// single ExtrinsicSuccess at the (only) extrinsic's index.
		return json.Marshal([]map[string]interface{}{
			{
				"phase": map[string]interface{}{"applyExtrinsic": uint32(0)},
				"event": map[string]interface{}{"section": "system", "method": "ExtrinsicSuccess"},
			},
		})
	default:
		return json.RawMessage(`{}`), nil
	}
}

func (m *mockChain) CallBatch(ctx context.Context, requests []rpcsubstrate.Request) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(requests))
	for _, req := range requests {
		raw, err := m.Call(ctx, req.Method, req.Params)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *mockChain) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	out := make(chan json.RawMessage, 4)
	switch method {
	case rpcsubstrate.MethodAuthorSubmitAndWatch:
		if args, ok := params.([]interface{}); ok && len(args) > 0 {
			if hex, ok := args[0].(string); ok {
				m.mu.Lock()
				m.lastExtrinsic = hex
				m.mu.Unlock()
			}
		}
		go m.watchExtrinsic(ctx, out)
	default:
		close(out)
	}
	return out, nil
}

// watchExtrinsic emits the ready -> in_block -> finalized sequence a real
// node reports for author_submitAndWatchExtrinsic, on a short fixed delay
// so the demo finalizes quickly without a busy loop.
func (m *mockChain) watchExtrinsic(ctx context.Context, out chan<- json.RawMessage) {
	defer close(out)

	send := func(payload map[string]interface{}) bool {
		raw, _ := json.Marshal(payload)
		select {
		case out <- raw:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(map[string]interface{}{}) { // "ready" equivalent, decoded as empty status
		return
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	if !send(map[string]interface{}{"inBlock": "0xblock00000000000000000000000000000000000000000000000000000001"}) {
		return
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	send(map[string]interface{}{"finalized": "0xfinal0000000000000000000000000000000000000000000000000000001"})
}

func (m *mockChain) Close() error { return nil }

var _ rpcsubstrate.Client = (*mockChain)(nil)
