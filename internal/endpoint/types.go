// Package endpoint implements the Endpoint Manager from spec.md §4.1: an
// ordered set of RPC endpoints per chain role, health tracking, failover
// read handles, and immutable execution sessions.
package endpoint

import (
	"sort"
	"time"

	"github.com/arcsign/chainpilot/internal/config"
)

// Health is the per-endpoint health record named in spec.md §3 ("Endpoint").
// FailureCount only increases; a successful connection clears LastFailure
// and sets Healthy true.
type Health struct {
	URL             string     `json:"url"`
	Healthy         bool       `json:"healthy"`
	FailureCount    int64      `json:"failureCount"`
	LastCheck       time.Time  `json:"lastCheck"`
	LastFailure     *time.Time `json:"lastFailure,omitempty"`
	AvgResponseMs   float64    `json:"avgResponseMs"`
	hasAvgResponse  bool
}

// RecordSuccess clears failure state and folds durationMs into the moving
// average per spec.md §4.1's connection procedure (0.7·old + 0.3·new; the
// first sample is the sole value).
func (h *Health) RecordSuccess(durationMs float64) {
	h.Healthy = true
	h.LastFailure = nil
	h.LastCheck = time.Now()
	if !h.hasAvgResponse {
		h.AvgResponseMs = durationMs
		h.hasAvgResponse = true
	} else {
		h.AvgResponseMs = h.AvgResponseMs*0.7 + durationMs*0.3
	}
}

// RecordFailure marks the endpoint failed and bumps the monotonic failure
// counter. FailureCount is never decremented.
func (h *Health) RecordFailure() {
	now := time.Now()
	h.Healthy = false
	h.FailureCount++
	h.LastCheck = now
	h.LastFailure = &now
}

// withinCooldown reports whether this endpoint's last failure is within the
// configured failover cooldown window (step 1 of spec.md §4.1 ordering).
func (h *Health) withinCooldown(cooldown time.Duration) bool {
	if h.LastFailure == nil {
		return false
	}
	return time.Since(*h.LastFailure) < cooldown
}

// responseTimeOrInf returns AvgResponseMs, or +Inf if no sample has ever
// been recorded, per spec.md §4.1 ("absent time treated as +∞").
func (h *Health) responseTimeOrInf() float64 {
	if !h.hasAvgResponse {
		return mathInf
	}
	return h.AvgResponseMs
}

const mathInf = 1<<63 - 1

// OrderEndpoints implements the spec.md §4.1 stable-sort ordering rule:
//  1. endpoints whose last failure is within the failover cooldown are
//     excluded entirely;
//  2. among the remainder: healthy before unhealthy, then ascending failure
//     count, then ascending average response time (absent treated as +∞);
//     ties are broken by original list order (stable sort).
func OrderEndpoints(urls []string, health map[string]*Health, cooldown time.Duration) []string {
	type candidate struct {
		url string
		idx int
		h   *Health
	}

	candidates := make([]candidate, 0, len(urls))
	for i, u := range urls {
		h, ok := health[u]
		if !ok {
			h = &Health{URL: u, Healthy: true}
		}
		if h.withinCooldown(cooldown) {
			continue
		}
		candidates = append(candidates, candidate{url: u, idx: i, h: h})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].h, candidates[j].h
		if a.Healthy != b.Healthy {
			return a.Healthy
		}
		if a.FailureCount != b.FailureCount {
			return a.FailureCount < b.FailureCount
		}
		return a.responseTimeOrInf() < b.responseTimeOrInf()
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}

// Snapshot is a read-only view of health returned by report_health.
type Snapshot struct {
	Endpoint      string     `json:"endpoint"`
	Healthy       bool       `json:"healthy"`
	FailureCount  int64      `json:"failureCount"`
	LastChecked   time.Time  `json:"lastChecked"`
	LastFailure   *time.Time `json:"lastFailure,omitempty"`
	AvgResponseMs *float64   `json:"avgResponseMs,omitempty"`
}

func (h *Health) snapshot() Snapshot {
	s := Snapshot{
		Endpoint:     h.URL,
		Healthy:      h.Healthy,
		FailureCount: h.FailureCount,
		LastChecked:  h.LastCheck,
		LastFailure:  h.LastFailure,
	}
	if h.hasAvgResponse {
		v := h.AvgResponseMs
		s.AvgResponseMs = &v
	}
	return s
}

// ChainRole re-exports config.ChainRole for convenience within this
// package's call sites.
type ChainRole = config.ChainRole
