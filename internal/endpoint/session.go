package endpoint

import (
	"sync/atomic"

	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
)

// ReadHandle is a handle suitable for queries, bound to the endpoint the
// manager connected to when the handle was acquired. Failover happens only
// while the manager acquires a handle; a handle never switches endpoints
// afterwards.
type ReadHandle struct {
	client rpcsubstrate.Client
	url    string
}

// Client returns the underlying RPC client.
func (h *ReadHandle) Client() rpcsubstrate.Client { return h.client }

// URL returns the endpoint this handle is bound to.
func (h *ReadHandle) URL() string { return h.url }

// ExecutionSession is an immutable handle bound to exactly one endpoint and
// one metadata registry identity, per spec.md §3 ("Execution Session").
// After construction its API handle, endpoint, and registry references
// never change; only the active flag may transition, and only from true to
// false.
type ExecutionSession struct {
	client     rpcsubstrate.Client
	url        string
	registryID string
	active     atomic.Bool
}

func newExecutionSession(client rpcsubstrate.Client, url, registryID string) *ExecutionSession {
	s := &ExecutionSession{client: client, url: url, registryID: registryID}
	s.active.Store(true)
	return s
}

// Client returns the session's underlying RPC client. It never changes
// across the session's lifetime.
func (s *ExecutionSession) Client() rpcsubstrate.Client { return s.client }

// URL returns the endpoint this session is bound to. It never changes.
func (s *ExecutionSession) URL() string { return s.url }

// RegistryID returns the metadata registry identity this session observed
// at construction. All transactions built from this session must share
// this identity.
func (s *ExecutionSession) RegistryID() string { return s.registryID }

// Active reports whether the session is still usable.
func (s *ExecutionSession) Active() bool { return s.active.Load() }

// deactivate transitions the session to inactive. It is idempotent and
// irreversible: active only ever goes true -> false.
func (s *ExecutionSession) deactivate() {
	s.active.Store(false)
}

// Close marks the session inactive and closes its underlying connection.
// Per spec.md's ownership rule, closing a session disconnects only that
// session's connection.
func (s *ExecutionSession) Close() error {
	s.deactivate()
	return s.client.Close()
}

// SameRegistry reports whether other was built from a session sharing this
// session's registry identity, used to enforce CROSS_REGISTRY checks.
func (s *ExecutionSession) SameRegistry(registryID string) bool {
	return s.registryID == registryID
}
