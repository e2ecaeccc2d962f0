package executioner

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/execarray"
	"github.com/arcsign/chainpilot/internal/planmodel"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
	"github.com/arcsign/chainpilot/internal/signer"
	"github.com/arcsign/chainpilot/internal/ss58"
	"github.com/arcsign/chainpilot/internal/txbuilder"
)

// maxBatchSize mirrors the Safe Transaction Builder's own batch ceiling.
const maxBatchSize = 100

// runBatchPass implements spec.md §4.7 step 4: group whatever transaction
// items are still pending (after the per-item phase, or added since the
// pass began) into same-registry suffixes of up to maxBatchSize, wrap each
// group in one utility.batch_all, and execute it as a single atomic unit.
// A batch failure fails every item in the group; failed items are never
// retried individually.
func (e *Executioner) runBatchPass(ctx context.Context) error {
	pending := e.arr.GetReadyItems()

	groups := map[string][]execarray.Item{}
	var order []string
	for _, item := range pending {
		if item.Agent.ExecutionType != string(planmodel.ExecutionTypeExtrinsic) {
			continue
		}
		if e.isCancelled(item.ID) {
			continue
		}
		tx, ok := item.Agent.Transaction.(*txbuilder.Extrinsic)
		if !ok || tx == nil {
			continue
		}
		if _, ok := groups[tx.RegistryID]; !ok {
			order = append(order, tx.RegistryID)
		}
		groups[tx.RegistryID] = append(groups[tx.RegistryID], item)
	}

	for _, registryID := range order {
		items := groups[registryID]
		if _, ok := e.sessions[registryID]; !ok {
			continue
		}
		for start := 0; start < len(items); start += maxBatchSize {
			end := start + maxBatchSize
			if end > len(items) {
				end = len(items)
			}
			if err := e.executeBatch(ctx, registryID, items[start:end]); err != nil && !e.cfg.ContinueOnError {
				return err
			}
		}
	}
	return nil
}

func (e *Executioner) executeBatch(ctx context.Context, registryID string, items []execarray.Item) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		// A batch of one degrades to ordinary single-item execution so it
		// isn't wrapped for no reason.
		return e.executeItem(ctx, items[0])
	}

	calls := make([]map[string]interface{}, 0, len(items))
	itemIDs := make([]string, 0, len(items))
	descriptions := make([]string, 0, len(items))
	for _, item := range items {
		tx := item.Agent.Transaction.(*txbuilder.Extrinsic)
		if tx.RegistryID != registryID {
			return e.failBatch(items, chainerrors.New(chainerrors.CodeCrossRegistry, chainerrors.Session,
				fmt.Sprintf("item %s has registry %s, batch group is %s", item.ID, tx.RegistryID, registryID), nil))
		}
	}
	for _, item := range items {
		e.transition(item.ID, item.Agent.SenderAddress, item.Status, execarray.StatusReady, "", nil)
		tx := item.Agent.Transaction.(*txbuilder.Extrinsic)
		calls = append(calls, map[string]interface{}{
			"section": tx.Section,
			"method":  tx.Method,
			"args":    tx.Args,
		})
		itemIDs = append(itemIDs, item.ID)
		descriptions = append(descriptions, item.Agent.Description)
	}

	batchTx := &txbuilder.Extrinsic{
		Section:    "utility",
		Method:     "batch_all",
		Args:       map[string]interface{}{"calls": calls},
		RegistryID: registryID,
	}

	realSession, ok := e.sessions[registryID]
	if !ok {
		return e.failBatch(items, chainerrors.New(chainerrors.CodeCrossRegistry, chainerrors.Session, "batch session not found", nil))
	}

	if e.cfg.EnableSimulation && e.simulator != nil {
		outcome, err := e.simulator.Simulate(ctx, realSession, batchTx, items[0].Agent.SenderAddress)
		if err != nil || outcome == nil || !outcome.Success {
			return e.failBatch(items, chainerrors.New(chainerrors.CodeSimulationFailed, chainerrors.Validation, "batch simulation failed", err))
		}
	}

	extrinsicBytes, err := encodeExtrinsic(batchTx)
	if err != nil {
		return e.failBatch(items, err)
	}

	aggregatedFee := sumFees(items)
	sender := items[0].Agent.SenderAddress

	if !e.cfg.AutoApprove {
		approved, err := e.signer.RequestBatchApproval(ctx, signer.BatchSigningRequest{
			ItemIDs:        itemIDs,
			Descriptions:   descriptions,
			AggregatedFee:  aggregatedFee,
			AccountAddress: sender,
			Extrinsic:      extrinsicBytes,
		})
		if err != nil {
			return e.failBatch(items, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "batch approval request failed", err))
		}
		if !approved {
			for _, item := range items {
				e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusCancelled, "user rejected batch", nil)
			}
			return chainerrors.New(chainerrors.CodeUserRejected, chainerrors.Execution, "batch approval rejected", nil)
		}
	}

	for _, item := range items {
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusReady, execarray.StatusSigning, "", nil)
	}

	var ss58Prefix uint16
	if v, ok := items[0].Agent.Metadata["ss58Prefix"]; ok {
		if p, ok := v.(uint16); ok {
			ss58Prefix = p
		}
	}
	reencoded, err := ss58.Reencode(sender, ss58Prefix)
	if err != nil {
		return e.failBatch(items, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "failed to re-encode sender address", err))
	}

	// At-most-once submission: the batch is signed exactly once for the
	// whole group.
	signed, err := e.signer.Sign(ctx, extrinsicBytes, reencoded)
	if err != nil {
		return e.failBatch(items, chainerrors.New(chainerrors.CodeSigningFailed, chainerrors.Execution, "batch signing failed", err))
	}

	for _, item := range items {
		e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusSigning, execarray.StatusBroadcasting, "", nil)
	}

	return e.broadcastBatchAndObserve(ctx, realSession, items, signed)
}

func (e *Executioner) failBatch(items []execarray.Item, err error) error {
	for _, item := range items {
		from := item.Status
		if current, ok := e.arr.Get(item.ID); ok {
			from = current.Status
		}
		e.transition(item.ID, item.Agent.SenderAddress, from, execarray.StatusFailed, err.Error(), &execarray.Result{Success: false})
	}
	return err
}

func sumFees(items []execarray.Item) string {
	// Fees are already decimal strings from conservative estimates or
	// simulation; a full bignum sum belongs to a real fee-currency-aware
	// accumulator, so this reports the count as a stand-in aggregate when
	// individual fees can't be summed blindly as strings.
	return fmt.Sprintf("sum of %d item fees", len(items))
}

// broadcastBatchAndObserve submits the already-signed batch extrinsic once
// and fans its observed status out to every item in the group, per
// spec.md §4.7's "executed as one atomic unit" requirement.
func (e *Executioner) broadcastBatchAndObserve(ctx context.Context, session *endpoint.ExecutionSession, items []execarray.Item, signed []byte) error {
	hexTx := "0x" + hex.EncodeToString(signed)

	statusCh, err := rpcsubstrate.SubmitAndWatchExtrinsic(ctx, session.Client(), hexTx)
	if err != nil {
		return e.failBatch(items, chainerrors.New(chainerrors.CodeBroadcastFailed, chainerrors.Execution, "batch broadcast failed", err))
	}

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	txHash := blakeHash(signed)
	inBlockReported := false

	for {
		select {
		case <-timeoutCtx.Done():
			return e.failBatch(items, chainerrors.New(chainerrors.CodeTimeout, chainerrors.Execution, "batch observation timed out", nil))

		case st, ok := <-statusCh:
			if !ok {
				return e.failBatch(items, chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "batch status stream closed before finalization", nil))
			}

			if st.InBlock != "" && !inBlockReported {
				inBlockReported = true
				for _, item := range items {
					e.transition(item.ID, item.Agent.SenderAddress, execarray.StatusBroadcasting, execarray.StatusInBlock, "", nil)
				}
			}
			if st.Finalized != "" {
				// As in the single-item path: finality alone doesn't mean
				// the batch's calls succeeded, so check System.Events
				// before reporting success. A failure here fails every
				// item in the group, since the batch was submitted as one
				// atomic extrinsic.
				outcome, outcomeErr := rpcsubstrate.ExtrinsicDispatchOutcome(ctx, session.Client(), st.Finalized, hexTx)
				if outcomeErr != nil {
					return e.failBatch(items, chainerrors.New(chainerrors.CodeDispatchError, chainerrors.Execution, "could not verify batch dispatch outcome", outcomeErr))
				}
				if !outcome.Success {
					return e.failBatch(items, chainerrors.New(chainerrors.CodeDispatchError, chainerrors.Execution, "batch dispatch failed: "+outcome.DispatchError, nil))
				}
				for _, item := range items {
					from := execarray.StatusBroadcasting
					if inBlockReported {
						from = execarray.StatusInBlock
					}
					e.transition(item.ID, item.Agent.SenderAddress, from, execarray.StatusFinalized, "", &execarray.Result{
						Success:   true,
						TxHash:    txHash,
						BlockHash: st.Finalized,
						Events:    outcome.EventNames,
					})
				}
				return nil
			}
			if st.Invalid != "" {
				return e.failBatch(items, chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "batch invalid: "+st.Invalid, nil))
			}
			if st.Dropped {
				return e.failBatch(items, chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "batch dropped", nil))
			}
			if st.Usurped != "" {
				return e.failBatch(items, chainerrors.New(chainerrors.CodeInvalidDropped, chainerrors.Execution, "batch usurped: "+st.Usurped, nil))
			}
		}
	}
}
