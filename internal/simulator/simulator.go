// Package simulator implements the dry-run capability from spec.md §4.8.
// No pack example ships a WASM runtime emulator capable of actually forking
// state and re-executing a call, so this degrades to the fallback spec.md
// itself names: a payment_queryInfo fee estimate plus shape validation,
// reported through the same stage progression a full fork-and-execute would
// use so callers don't need to special-case the degraded path.
package simulator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/tidwall/gjson"

	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

// Stage names reported through OnProgress, per spec.md §4.8.
const (
	StageInitializing = "initializing"
	StageForking      = "forking"
	StageExecuting    = "executing"
	StageAnalyzing    = "analyzing"
	StageComplete     = "complete"
	StageError        = "error"
)

// Simulator is the degraded dry-run driver: it estimates fee and validates
// shape via payment_queryInfo rather than actually forking chain state.
type Simulator struct {
	// OnProgress, if set, is called synchronously as the simulation moves
	// through its stages.
	OnProgress func(stage string)
}

// New builds a Simulator.
func New() *Simulator {
	return &Simulator{}
}

func (s *Simulator) emit(stage string) {
	if s.OnProgress != nil {
		s.OnProgress(stage)
	}
}

// Simulate implements the agent.Simulator interface.
func (s *Simulator) Simulate(ctx context.Context, session *endpoint.ExecutionSession, tx *txbuilder.Extrinsic, sender string) (*agent.SimulationOutcome, error) {
	s.emit(StageInitializing)

	if !session.Active() {
		s.emit(StageError)
		return nil, chainerrors.New(chainerrors.CodeSessionInactive, chainerrors.Session, "session is inactive", nil)
	}

	s.emit(StageForking)

	payload, err := json.Marshal(tx)
	if err != nil {
		s.emit(StageError)
		return nil, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, "failed to encode extrinsic for dry run", err)
	}
	hexTx := "0x" + hex.EncodeToString(payload)

	s.emit(StageExecuting)

	raw, err := rpcsubstrate.PaymentQueryInfo(ctx, session.Client(), hexTx)
	if err != nil {
		s.emit(StageError)
		return &agent.SimulationOutcome{Success: false, ErrorMessage: fmt.Sprintf("payment_queryInfo failed: %v", err)}, nil
	}

	s.emit(StageAnalyzing)

	if !gjson.ValidBytes(raw) {
		s.emit(StageError)
		return &agent.SimulationOutcome{Success: false, ErrorMessage: "payment_queryInfo returned malformed JSON"}, nil
	}

	result := gjson.ParseBytes(raw)
	feeStr := result.Get("partialFee").String()
	if feeStr == "" {
		s.emit(StageComplete)
		return &agent.SimulationOutcome{Success: true}, nil
	}

	fee, ok := new(big.Int).SetString(feeStr, 10)
	if !ok {
		s.emit(StageComplete)
		return &agent.SimulationOutcome{Success: true}, nil
	}

	s.emit(StageComplete)
	return &agent.SimulationOutcome{Success: true, EstimatedFee: fee}, nil
}

var _ agent.Simulator = (*Simulator)(nil)
