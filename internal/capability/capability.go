// Package capability implements the Capability Detector from spec.md §4.2:
// given an execution session, probe the connected runtime to produce an
// immutable ChainCapabilities snapshot.
package capability

import (
	"context"
	"math/big"

	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/endpoint"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
)

// ChainCapabilities is the immutable snapshot spec.md §3 names. Re-detection
// requires a new session (per the §9 design note on conflating
// configuration and state).
type ChainCapabilities struct {
	HasTransfer           bool
	HasTransferAllowDeath  bool
	HasTransferKeepAlive   bool
	HasUtility             bool
	HasBatch               bool
	HasBatchAll            bool
	SS58Prefix             uint16
	Decimals               int
	Symbol                 string
	ExistentialDeposit     *big.Int
	RuntimeSpecName        string
	RuntimeSpecVersion     uint32
	IsAssetHub             bool
	Warnings               []string
}

// RuntimeProbe abstracts the metadata/constant reads the detector performs
// against a live session; production code backs this with state_getMetadata
// + state_getRuntimeVersion decoding, tests inject a fixture.
type RuntimeProbe interface {
	HasCall(section, method string) (bool, error)
	SS58Prefix() (uint16, error)
	TokenDecimals() (int, error)
	TokenSymbol() (string, error)
	ExistentialDeposit() (*big.Int, error)
	RuntimeSpecName() (string, error)
	RuntimeSpecVersion() (uint32, error)
}

// Detect probes session (via probe) and produces a ChainCapabilities
// snapshot. The detector does no failover: if a call-presence or runtime
// version probe fails, the session is considered unusable and a
// Session-classified error is returned. A failed constant probe does not
// fail detection: SS58 prefix, decimals and existential deposit fall back
// to 0, 10 and 0 with a warning, and the token symbol to "".
func Detect(ctx context.Context, session *endpoint.ExecutionSession, probe RuntimeProbe) (*ChainCapabilities, error) {
	if !session.Active() {
		return nil, chainerrors.New(chainerrors.CodeSessionInactive, chainerrors.Session, "session is inactive", nil)
	}

	caps := &ChainCapabilities{}
	var warnings []string

	hasTransfer, err := probe.HasCall("balances", "transfer")
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.HasTransfer = hasTransfer

	hasAllowDeath, err := probe.HasCall("balances", "transfer_allow_death")
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.HasTransferAllowDeath = hasAllowDeath

	hasKeepAlive, err := probe.HasCall("balances", "transfer_keep_alive")
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.HasTransferKeepAlive = hasKeepAlive

	hasBatch, err := probe.HasCall("utility", "batch")
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.HasBatch = hasBatch

	hasBatchAll, err := probe.HasCall("utility", "batch_all")
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.HasBatchAll = hasBatchAll
	caps.HasUtility = hasBatch || hasBatchAll

	prefix, err := probe.SS58Prefix()
	if err != nil {
		warnings = append(warnings, "SS58 prefix unavailable, defaulting to 0")
		prefix = 0
	}
	caps.SS58Prefix = prefix

	decimals, err := probe.TokenDecimals()
	if err != nil {
		warnings = append(warnings, "token decimals unavailable, defaulting to 10")
		decimals = 10
	}
	caps.Decimals = decimals

	symbol, err := probe.TokenSymbol()
	if err != nil {
		symbol = ""
	}
	caps.Symbol = symbol

	ed, err := probe.ExistentialDeposit()
	if err != nil || ed == nil {
		warnings = append(warnings, "existential deposit unavailable, defaulting to 0")
		ed = big.NewInt(0)
	}
	caps.ExistentialDeposit = ed

	specName, err := probe.RuntimeSpecName()
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.RuntimeSpecName = specName

	specVersion, err := probe.RuntimeSpecVersion()
	if err != nil {
		return nil, sessionProbeErr(err)
	}
	caps.RuntimeSpecVersion = specVersion
	caps.IsAssetHub = isAssetHubSpec(specName)

	caps.Warnings = warnings
	return caps, nil
}

// isAssetHubSpec recognizes the runtime spec names Polkadot/Kusama asset
// hub parachains publish.
func isAssetHubSpec(specName string) bool {
	switch specName {
	case "statemint", "statemine", "westmint", "asset-hub-polkadot", "asset-hub-kusama":
		return true
	default:
		return false
	}
}

func sessionProbeErr(cause error) error {
	return chainerrors.New(chainerrors.CodeAPINotReady, chainerrors.Session, "capability probe failed", cause)
}

// substrateProbe is the production RuntimeProbe implementation, backed by a
// decoded metadata blob fetched once at session-open time. Metadata
// decoding itself is out of scope for this engine (spec.md treats the
// metadata registry as an opaque identity check, not a full SCALE decoder);
// this probe reports constants supplied by the caller from whatever
// decoding layer it uses.
type substrateProbe struct {
	client              rpcsubstrate.Client
	availableCalls      map[string]bool
	ss58Prefix          uint16
	decimals            int
	symbol              string
	existentialDeposit  *big.Int
	specName            string
	specVersion         uint32
}

// NewStaticProbe builds a RuntimeProbe from already-known constants, the
// shape a metadata-decoding layer would populate once per session.
func NewStaticProbe(availableCalls map[string]bool, ss58Prefix uint16, decimals int, symbol string, ed *big.Int, specName string, specVersion uint32) RuntimeProbe {
	return &substrateProbe{
		availableCalls:     availableCalls,
		ss58Prefix:         ss58Prefix,
		decimals:           decimals,
		symbol:             symbol,
		existentialDeposit: ed,
		specName:           specName,
		specVersion:        specVersion,
	}
}

func (p *substrateProbe) HasCall(section, method string) (bool, error) {
	return p.availableCalls[section+"."+method], nil
}
func (p *substrateProbe) SS58Prefix() (uint16, error)         { return p.ss58Prefix, nil }
func (p *substrateProbe) TokenDecimals() (int, error)         { return p.decimals, nil }
func (p *substrateProbe) TokenSymbol() (string, error)        { return p.symbol, nil }
func (p *substrateProbe) ExistentialDeposit() (*big.Int, error) { return p.existentialDeposit, nil }
func (p *substrateProbe) RuntimeSpecName() (string, error)    { return p.specName, nil }
func (p *substrateProbe) RuntimeSpecVersion() (uint32, error) { return p.specVersion, nil }
