// Package executioner implements the Executioner from spec.md §4.7: it
// drives an ExecutionArray to a terminal state, requesting approval,
// signing, broadcasting, and observing each transaction item, batching
// compatible pending items, and enforcing at-most-once submission.
package executioner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/arcsign/chainpilot/internal/agent"
	"github.com/arcsign/chainpilot/internal/audit"
	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/execarray"
	"github.com/arcsign/chainpilot/internal/metrics"
	"github.com/arcsign/chainpilot/internal/planmodel"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/signer"
	"github.com/arcsign/chainpilot/internal/ss58"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

// Config recognizes the executioner options spec.md §6 names.
type Config struct {
	ContinueOnError  bool
	AllowBatching    bool
	Sequential       bool
	Timeout          time.Duration
	AutoApprove      bool
	EnableSimulation bool
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		ContinueOnError:  false,
		AllowBatching:    true,
		Sequential:       true,
		Timeout:          300 * time.Second,
		AutoApprove:      false,
		EnableSimulation: false,
	}
}

// Executioner drives one ExecutionArray. Sessions are keyed by registry ID
// so execute_item can reject a transaction whose registry doesn't match any
// session the executioner was given (CROSS_REGISTRY).
type Executioner struct {
	arr       *execarray.Array
	sessions  map[string]*endpoint.ExecutionSession
	signer    signer.Signer
	simulator agent.Simulator
	metrics   *metrics.Collector
	audit     *audit.Logger
	cfg       Config

	mu        sync.Mutex
	cancelled map[string]struct{}
}

// New builds an Executioner. simulator, metricsCollector, and auditLogger
// may all be nil: simulation is then skipped regardless of cfg, and
// observability is simply not recorded.
func New(arr *execarray.Array, sessions map[string]*endpoint.ExecutionSession, signerImpl signer.Signer, simulator agent.Simulator, metricsCollector *metrics.Collector, auditLogger *audit.Logger, cfg Config) *Executioner {
	return &Executioner{
		arr:       arr,
		sessions:  sessions,
		signer:    signerImpl,
		simulator: simulator,
		metrics:   metricsCollector,
		audit:     auditLogger,
		cfg:       cfg,
		cancelled: map[string]struct{}{},
	}
}

// RequestCancel transitions itemID to cancelled if it is not already
// terminal. Per spec.md §5, this is best-effort against an in-flight
// signing or broadcast.
func (e *Executioner) RequestCancel(itemID string) {
	e.mu.Lock()
	e.cancelled[itemID] = struct{}{}
	e.mu.Unlock()

	item, ok := e.arr.Get(itemID)
	if ok && !item.Status.Terminal() {
		e.transition(item.ID, "", item.Status, execarray.StatusCancelled, "cancelled by request", nil)
	}
}

func (e *Executioner) isCancelled(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancelled[itemID]
	return ok
}

// transition updates the array and records the observability side effects
// (metrics counter, audit log entry) every status change gets.
func (e *Executioner) transition(itemID, sender string, from, to execarray.Status, errMsg string, result *execarray.Result) {
	e.arr.UpdateStatus(itemID, to, errMsg, result)
	if e.metrics != nil {
		e.metrics.RecordItemTransition(string(from), string(to))
	}
	if e.audit != nil {
		detail := ""
		if result != nil {
			detail = result.TxHash
		}
		e.audit.LogTransition(audit.LogEntry{
			ID:            itemID + ":" + string(to),
			ItemID:        itemID,
			SenderAddress: sender,
			Timestamp:     time.Now(),
			FromStatus:    string(from),
			ToStatus:      string(to),
			Detail:        detail,
			FailureReason: errMsg,
		})
	}
}

// RunPass implements spec.md §4.7's per-pass algorithm.
func (e *Executioner) RunPass(ctx context.Context) error {
	e.arr.SetExecuting(true)
	defer e.arr.SetExecuting(false)

	ready := e.arr.GetReadyItems()

	if e.cfg.Sequential {
		if err := e.runSequential(ctx, ready); err != nil {
			return err
		}
	} else {
		if err := e.runParallel(ctx, ready); err != nil {
			return err
		}
	}

	if e.cfg.AllowBatching {
		if err := e.runBatchPass(ctx); err != nil && !e.cfg.ContinueOnError {
			return err
		}
	}

	return nil
}

// deferToBatch reports whether item should be left pending for the batch
// pass rather than processed individually in the per-item phase: when
// batching is allowed, transaction items are deferred so step 4 has
// something to scan, per spec.md §4.7 step 4's "remaining pending
// transaction items" language; non-transaction items always run
// individually.
func (e *Executioner) deferToBatch(item execarray.Item) bool {
	return e.cfg.AllowBatching && item.Agent.ExecutionType == string(planmodel.ExecutionTypeExtrinsic)
}

func (e *Executioner) runSequential(ctx context.Context, items []execarray.Item) error {
	for _, item := range items {
		if e.deferToBatch(item) {
			continue
		}
		if err := e.waitWhilePaused(ctx); err != nil {
			return err
		}
		if e.isCancelled(item.ID) {
			continue
		}
		if err := e.executeItem(ctx, item); err != nil && !e.cfg.ContinueOnError {
			return err
		}
	}
	return nil
}

func (e *Executioner) runParallel(ctx context.Context, items []execarray.Item) error {
	var txItems []execarray.Item
	var wg sync.WaitGroup
	for _, item := range items {
		if e.deferToBatch(item) {
			continue
		}
		if item.Agent.ExecutionType == string(planmodel.ExecutionTypeExtrinsic) {
			txItems = append(txItems, item)
			continue
		}
		wg.Add(1)
		go func(it execarray.Item) {
			defer wg.Done()
			if e.isCancelled(it.ID) {
				return
			}
			_ = e.executeItem(ctx, it)
		}(item)
	}
	wg.Wait()

	for _, item := range txItems {
		if err := e.waitWhilePaused(ctx); err != nil {
			return err
		}
		if e.isCancelled(item.ID) {
			continue
		}
		if err := e.executeItem(ctx, item); err != nil && !e.cfg.ContinueOnError {
			return err
		}
	}
	return nil
}

func (e *Executioner) waitWhilePaused(ctx context.Context) error {
	for e.arr.Paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

// executeItem dispatches on the item's execution type, per spec.md §4.7.
func (e *Executioner) executeItem(ctx context.Context, item execarray.Item) error {
	e.transition(item.ID, item.Agent.SenderAddress, item.Status, execarray.StatusReady, "", nil)

	switch item.Agent.ExecutionType {
	case string(planmodel.ExecutionTypeExtrinsic):
		return e.executeTransaction(ctx, item)
	case string(planmodel.ExecutionTypeDataFetch), string(planmodel.ExecutionTypeValidation):
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusCompleted, "", &execarray.Result{Success: true})
		return nil
	case string(planmodel.ExecutionTypeUserInput):
		// Terminal state awaits an external input event not specified by
		// spec.md §4.7; the item stays ready.
		return nil
	default:
		err := chainerrors.New(chainerrors.CodeBadFunctionCall, chainerrors.Internal, "unknown execution type: "+item.Agent.ExecutionType, nil)
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeBadFunctionCall})
		return err
	}
}

// executeTransaction implements the transaction branch of spec.md §4.7's
// execute_item: simulate (if enabled), approve, sign exactly once, and
// broadcast-and-observe with a per-item timeout.
func (e *Executioner) executeTransaction(ctx context.Context, item execarray.Item) error {
	tx, ok := item.Agent.Transaction.(*txbuilder.Extrinsic)
	if !ok || tx == nil {
		err := chainerrors.New(chainerrors.CodeNoExtrinsic, chainerrors.Execution, "item has no prepared transaction", nil)
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeNoExtrinsic})
		return err
	}

	session, ok := e.sessions[tx.RegistryID]
	if !ok {
		err := chainerrors.New(chainerrors.CodeCrossRegistry, chainerrors.Session, "transaction registry does not match any known session", nil)
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeCrossRegistry})
		return err
	}

	if e.cfg.EnableSimulation && e.simulator != nil {
		outcome, err := e.simulator.Simulate(ctx, session, tx, item.Agent.SenderAddress)
		if err != nil || outcome == nil || !outcome.Success {
			msg := "simulation failed"
			if outcome != nil && outcome.ErrorMessage != "" {
				msg = outcome.ErrorMessage
			} else if err != nil {
				msg = err.Error()
			}
			simErr := chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, msg, nil)
			e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, msg, &execarray.Result{Success: false, ErrorCode: chainerrors.CodeSimulationFailed})
			return simErr
		}
	}

	extrinsicBytes, err := encodeExtrinsic(tx)
	if err != nil {
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false})
		return err
	}

	if !e.cfg.AutoApprove {
		approved, err := e.signer.RequestApproval(ctx, signer.SigningRequest{
			ItemID:         item.ID,
			Extrinsic:      extrinsicBytes,
			Description:    item.Agent.Description,
			EstimatedFee:   item.Agent.EstimatedFee,
			Warnings:       item.Agent.Warnings,
			Metadata:       item.Agent.Metadata,
			AccountAddress: item.Agent.SenderAddress,
		})
		if err != nil {
			e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeSigningFailed})
			return err
		}
		if !approved {
			rejectErr := chainerrors.New(chainerrors.CodeUserRejected, chainerrors.Execution, "approval request rejected", nil)
			e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusCancelled, "user rejected", nil)
			return rejectErr
		}
	}

	if e.isCancelled(item.ID) {
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusCancelled, "cancelled before signing", nil)
		return chainerrors.New(chainerrors.CodeUserRejected, chainerrors.Execution, "item was cancelled before signing", nil)
	}

	e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusSigning, "", nil)

	var ss58Prefix uint16
	if v, ok := item.Agent.Metadata["ss58Prefix"]; ok {
		if p, ok := v.(uint16); ok {
			ss58Prefix = p
		}
	}
	reencoded, err := ss58.Reencode(item.Agent.SenderAddress, ss58Prefix)
	if err != nil {
		signErr := chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "failed to re-encode sender address", err)
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusSigning, execarray.StatusFailed, signErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeSigningFailed})
		return signErr
	}

	// At-most-once submission (Testable Property 10): Sign is called
	// exactly once per item; a broadcast error fails the item rather than
	// retrying with a new signature.
	signed, err := e.signer.Sign(ctx, extrinsicBytes, reencoded)
	if err != nil {
		signErr := chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "signing failed", err)
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusSigning, execarray.StatusFailed, signErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeSigningFailed})
		return signErr
	}

	e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusSigning, execarray.StatusBroadcasting, "", nil)

	return e.broadcastAndObserve(ctx, session, item.ID, item.Agent.SenderAddress, signed)
}

func (e *Executioner) broadcastAndObserve(ctx context.Context, session *endpoint.ExecutionSession, itemID, sender string, signed []byte) error {
	hexTx := "0x" + hex.EncodeToString(signed)

	statusCh, err := rpcsubstrate.SubmitAndWatchExtrinsic(ctx, session.Client(), hexTx)
	if err != nil {
		broadcastErr := chainerrors.New(chainerrors.CodeBroadcastFailed, chainerrors.Execution, "broadcast failed", err)
		e.transition(itemID, sender, execarray.StatusBroadcasting, execarray.StatusFailed, broadcastErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeBroadcastFailed})
		return broadcastErr
	}

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	txHash := blakeHash(signed)
	from := execarray.StatusBroadcasting

	for {
		select {
		case <-timeoutCtx.Done():
			timeoutErr := chainerrors.New(chainerrors.CodeTimeout, chainerrors.Execution, "transaction observation timed out", nil)
			e.transition(itemID, sender, from, execarray.StatusFailed, timeoutErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeTimeout})
			return timeoutErr

		case st, ok := <-statusCh:
			if !ok {
				closedErr := chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "status stream closed before finalization", nil)
				e.transition(itemID, sender, from, execarray.StatusFailed, closedErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeInvalidDropped})
				return closedErr
			}

			if st.InBlock != "" && from != execarray.StatusInBlock {
				e.transition(itemID, sender, from, execarray.StatusInBlock, "", nil)
				from = execarray.StatusInBlock
			}
			if st.Finalized != "" {
				// Finality only means the extrinsic was included in the
				// block, not that its call succeeded — that distinction
				// lives in the block's System.Events, not in the status
				// stream, so it must be queried separately.
				outcome, outcomeErr := rpcsubstrate.ExtrinsicDispatchOutcome(ctx, session.Client(), st.Finalized, hexTx)
				if outcomeErr != nil {
					dispatchErr := chainerrors.New(chainerrors.CodeDispatchError, chainerrors.Execution, "could not verify dispatch outcome", outcomeErr)
					e.transition(itemID, sender, from, execarray.StatusFailed, dispatchErr.Error(), &execarray.Result{
						Success: false, BlockHash: st.Finalized, ErrorCode: chainerrors.CodeDispatchError,
					})
					return dispatchErr
				}
				if !outcome.Success {
					dispatchErr := chainerrors.New(chainerrors.CodeDispatchError, chainerrors.Execution, "extrinsic failed: "+outcome.DispatchError, nil)
					e.transition(itemID, sender, from, execarray.StatusFailed, dispatchErr.Error(), &execarray.Result{
						Success: false, TxHash: txHash, BlockHash: st.Finalized, Events: outcome.EventNames,
						ErrorCode: chainerrors.CodeDispatchError, ErrorMsg: outcome.DispatchError,
					})
					return dispatchErr
				}
				e.transition(itemID, sender, from, execarray.StatusFinalized, "", &execarray.Result{
					Success:   true,
					TxHash:    txHash,
					BlockHash: st.Finalized,
					Events:    outcome.EventNames,
				})
				return nil
			}
			if st.Invalid != "" {
				invalidErr := chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "extrinsic invalid: "+st.Invalid, nil)
				e.transition(itemID, sender, from, execarray.StatusFailed, invalidErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeInvalidDropped})
				return invalidErr
			}
			if st.Dropped {
				droppedErr := chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "extrinsic dropped", nil)
				e.transition(itemID, sender, from, execarray.StatusFailed, droppedErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeInvalidDropped})
				return droppedErr
			}
			if st.Usurped != "" {
				usurpedErr := chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "extrinsic usurped: "+st.Usurped, nil)
				e.transition(itemID, sender, from, execarray.StatusFailed, usurpedErr.Error(), &execarray.Result{Success: false, ErrorCode: chainerrors.CodeInvalidDropped})
				return usurpedErr
			}
		}
	}
}

func encodeExtrinsic(tx *txbuilder.Extrinsic) ([]byte, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeNoExtrinsic, chainerrors.Internal, "failed to encode extrinsic", err)
	}
	return payload, nil
}

func blakeHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("0x%x", sum)
}
