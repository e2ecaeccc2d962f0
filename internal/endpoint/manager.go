package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcsign/chainpilot/internal/chainerrors"
	"github.com/arcsign/chainpilot/internal/config"
	"github.com/arcsign/chainpilot/internal/rpcsubstrate"
)

// Connection is the result of successfully dialing and initializing one
// endpoint: a ready RPC client plus the metadata registry identity observed
// during initialization.
type Connection struct {
	Client     rpcsubstrate.Client
	RegistryID string
}

// Connector dials url and awaits readiness, honoring connectTimeout and
// initTimeout per spec.md §4.1's connection procedure. Production code
// wires this to rpcsubstrate.Dial plus a state_getMetadata probe; tests
// inject a fake to simulate timeouts/failures deterministically.
type Connector func(ctx context.Context, url string, connectTimeout, initTimeout time.Duration) (*Connection, error)

// BareProbe opens a minimal connection for the background health monitor
// (spec.md §4.1: "open a bare websocket ... with a 5-second timeout").
type BareProbe func(ctx context.Context, url string, timeout time.Duration) error

// Manager is the Endpoint Manager from spec.md §4.1.
type Manager struct {
	cfg       config.EndpointManagerConfig
	connector Connector
	bareProbe BareProbe
	store     *Store
	log       *zap.Logger

	mu          sync.Mutex
	endpoints   map[config.ChainRole][]string
	health      map[config.ChainRole]map[string]*Health
	cachedRead  map[config.ChainRole]*ReadHandle
	sessions    []*ExecutionSession
	stopPoll    chan struct{}
	pollStarted bool
}

// NewManager constructs a Manager and loads any persisted health state.
func NewManager(cfg config.EndpointManagerConfig, connector Connector, bareProbe BareProbe, store *Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		connector:  connector,
		bareProbe:  bareProbe,
		store:      store,
		log:        log,
		endpoints:  cfg.Endpoints,
		health:     map[config.ChainRole]map[string]*Health{},
		cachedRead: map[config.ChainRole]*ReadHandle{},
		stopPoll:   make(chan struct{}),
	}

	maxAge := time.Duration(cfg.HealthMaxAgeMs) * time.Millisecond
	for role, urls := range m.endpoints {
		key := m.storageKey(role)
		if store != nil {
			if loaded, err := store.Load(key, urls, maxAge); err == nil {
				m.health[role] = loaded
			} else {
				log.Warn("failed to load persisted endpoint health", zap.String("role", string(role)), zap.Error(err))
				m.health[role] = map[string]*Health{}
			}
		} else {
			m.health[role] = map[string]*Health{}
		}
	}

	return m
}

func (m *Manager) storageKey(role config.ChainRole) string {
	if m.cfg.StorageKey != "" {
		return fmt.Sprintf("%s:%s", m.cfg.StorageKey, role)
	}
	return fmt.Sprintf("endpoint-health:%s", role)
}

// AcquireReadHandle returns a read handle for role, per spec.md §4.1. A
// cached handle for role is reused whenever one exists; its connection is
// not re-checked. Otherwise endpoints are tried in order and the first
// successful connection wins.
// On exhaustion, last-failure timestamps are cleared once and the ordering
// is retried; if still exhausted, NO_ENDPOINTS is returned.
func (m *Manager) AcquireReadHandle(ctx context.Context, role config.ChainRole) (*ReadHandle, error) {
	m.mu.Lock()
	if cached, ok := m.cachedRead[role]; ok && cached != nil {
		m.mu.Unlock()
		return cached, nil
	}
	urls := append([]string{}, m.endpoints[role]...)
	healthMap := m.health[role]
	m.mu.Unlock()

	handle, err := m.connectFirstAvailable(ctx, role, urls, healthMap)
	if err == nil {
		m.mu.Lock()
		m.cachedRead[role] = handle
		m.mu.Unlock()
		return handle, nil
	}

	// Exhausted: reset last-failure timestamps once and retry.
	m.mu.Lock()
	for _, h := range m.health[role] {
		h.LastFailure = nil
	}
	m.mu.Unlock()

	handle, err = m.connectFirstAvailable(ctx, role, urls, m.health[role])
	if err != nil {
		return nil, chainerrors.New(chainerrors.CodeNoEndpoints, chainerrors.Connectivity,
			fmt.Sprintf("all endpoints exhausted for role %s", role), err)
	}

	m.mu.Lock()
	m.cachedRead[role] = handle
	m.mu.Unlock()
	return handle, nil
}

func (m *Manager) connectFirstAvailable(ctx context.Context, role config.ChainRole, urls []string, healthMap map[string]*Health) (*ReadHandle, error) {
	cooldown := time.Duration(m.cfg.FailoverCooldownMs) * time.Millisecond
	ordered := OrderEndpoints(urls, healthMap, cooldown)

	var lastErr error
	for _, u := range ordered {
		start := time.Now()
		conn, err := m.connector(ctx, u, m.connectTimeout(), m.initTimeout())
		m.mu.Lock()
		h := m.healthFor(role, u)
		if err != nil {
			h.RecordFailure()
			m.mu.Unlock()
			m.log.Warn("endpoint connection failed", zap.String("url", u), zap.Error(err))
			lastErr = err
			continue
		}
		h.RecordSuccess(float64(time.Since(start).Milliseconds()))
		m.persistHealthLocked(role)
		m.mu.Unlock()
		return &ReadHandle{client: conn.Client, url: u}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured for role %s", role)
	}
	return nil, lastErr
}

// OpenExecutionSession returns an immutable session bound to one endpoint
// and one metadata registry, per spec.md §4.1. The manager never swaps
// endpoints inside an open session.
func (m *Manager) OpenExecutionSession(ctx context.Context, role config.ChainRole) (*ExecutionSession, error) {
	m.mu.Lock()
	urls := append([]string{}, m.endpoints[role]...)
	healthMap := m.health[role]
	m.mu.Unlock()

	cooldown := time.Duration(m.cfg.FailoverCooldownMs) * time.Millisecond
	ordered := OrderEndpoints(urls, healthMap, cooldown)

	var lastErr error
	for _, u := range ordered {
		start := time.Now()
		conn, err := m.connector(ctx, u, m.connectTimeout(), m.initTimeout())
		m.mu.Lock()
		h := m.healthFor(role, u)
		if err != nil {
			h.RecordFailure()
			m.persistHealthLocked(role)
			m.mu.Unlock()
			lastErr = err
			continue
		}
		h.RecordSuccess(float64(time.Since(start).Milliseconds()))
		m.persistHealthLocked(role)
		session := newExecutionSession(conn.Client, u, conn.RegistryID)
		m.sessions = append(m.sessions, session)
		m.mu.Unlock()
		return session, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured for role %s", role)
	}
	return nil, chainerrors.New(chainerrors.CodeNoEndpoints, chainerrors.Connectivity,
		fmt.Sprintf("all endpoints exhausted for role %s", role), lastErr)
}

// healthFor must be called with m.mu held.
func (m *Manager) healthFor(role config.ChainRole, url string) *Health {
	roleMap, ok := m.health[role]
	if !ok {
		roleMap = map[string]*Health{}
		m.health[role] = roleMap
	}
	h, ok := roleMap[url]
	if !ok {
		h = &Health{URL: url, Healthy: true}
		roleMap[url] = h
	}
	return h
}

// persistHealthLocked must be called with m.mu held.
func (m *Manager) persistHealthLocked(role config.ChainRole) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.storageKey(role), m.health[role]); err != nil {
		m.log.Warn("failed to persist endpoint health", zap.String("role", string(role)), zap.Error(err))
	}
}

// ReportHealth returns a snapshot of every tracked endpoint's health.
func (m *Manager) ReportHealth() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Snapshot
	for _, roleMap := range m.health {
		for _, h := range roleMap {
			out = append(out, h.snapshot())
		}
	}
	return out
}

// Close disconnects cached read handles and marks all sessions inactive.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pollStarted {
		close(m.stopPoll)
		m.pollStarted = false
	}

	var firstErr error
	for _, h := range m.cachedRead {
		if h == nil {
			continue
		}
		if err := h.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.cachedRead = map[config.ChainRole]*ReadHandle{}

	for _, s := range m.sessions {
		s.deactivate()
	}
	m.sessions = nil

	return firstErr
}

func (m *Manager) connectTimeout() time.Duration {
	return time.Duration(m.cfg.ConnectTimeoutMs) * time.Millisecond
}

func (m *Manager) initTimeout() time.Duration {
	return time.Duration(m.cfg.InitTimeoutMs) * time.Millisecond
}

// StartHealthMonitor starts the background health poller described in
// spec.md §4.1: every T_poll, a bare connection attempt probes each
// endpoint with a 5-second timeout. The first scheduled check is deferred
// by one interval so first-use does not race with monitoring.
func (m *Manager) StartHealthMonitor(ctx context.Context) {
	if !m.cfg.EnablePoll || m.bareProbe == nil {
		return
	}

	m.mu.Lock()
	if m.pollStarted {
		m.mu.Unlock()
		return
	}
	m.pollStarted = true
	stop := m.stopPoll
	m.mu.Unlock()

	interval := time.Duration(m.cfg.HealthPollMs) * time.Millisecond
	go func() {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-timer.C:
				m.pollOnce(ctx)
				timer.Reset(interval)
			}
		}
	}()
}

func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	roles := make([]config.ChainRole, 0, len(m.endpoints))
	urlsByRole := map[config.ChainRole][]string{}
	for role, urls := range m.endpoints {
		roles = append(roles, role)
		urlsByRole[role] = append([]string{}, urls...)
	}
	m.mu.Unlock()

	for _, role := range roles {
		for _, u := range urlsByRole[role] {
			err := m.bareProbe(ctx, u, 5*time.Second)
			m.mu.Lock()
			h := m.healthFor(role, u)
			if err != nil {
				h.RecordFailure()
			} else {
				h.Healthy = true
				h.LastFailure = nil
				h.LastCheck = time.Now()
			}
			m.persistHealthLocked(role)
			m.mu.Unlock()
		}
	}
}
