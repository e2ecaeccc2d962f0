package endpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arcsign/chainpilot/internal/fsutil"
)

// persistedBlob is the wire shape named in spec.md §6 ("Persisted endpoint
// health"): a key-value blob under a fixed key per chain role.
type persistedBlob struct {
	Timestamp time.Time          `json:"timestamp"`
	HealthMap []persistedHealth  `json:"healthMap"`
}

type persistedHealth struct {
	Endpoint      string     `json:"endpoint"`
	Healthy       bool       `json:"healthy"`
	LastChecked   time.Time  `json:"lastChecked"`
	FailureCount  int64      `json:"failureCount"`
	LastFailure   *time.Time `json:"lastFailure,omitempty"`
	AvgResponseMs *float64   `json:"avgResponseTime,omitempty"`
}

// Store persists health maps to a JSON file, one blob per storage key
// (one key per chain role), using an atomic temp-file-then-rename write.
type Store struct {
	filePath string
}

// NewStore opens (but does not yet load) a health store backed by filePath.
func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Load reads the stored health map for storageKey, discarding the whole
// blob if it is older than maxAge, and discarding any entry whose URL is
// not in knownURLs, per spec.md §4.1's persistence rule.
func (s *Store) Load(storageKey string, knownURLs []string, maxAge time.Duration) (map[string]*Health, error) {
	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return map[string]*Health{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read health store: %w", err)
	}

	var all map[string]persistedBlob
	if len(data) == 0 {
		return map[string]*Health{}, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse health store: %w", err)
	}

	blob, ok := all[storageKey]
	if !ok {
		return map[string]*Health{}, nil
	}
	if time.Since(blob.Timestamp) > maxAge {
		return map[string]*Health{}, nil
	}

	known := make(map[string]bool, len(knownURLs))
	for _, u := range knownURLs {
		known[u] = true
	}

	out := make(map[string]*Health, len(blob.HealthMap))
	for _, ph := range blob.HealthMap {
		if !known[ph.Endpoint] {
			continue
		}
		h := &Health{
			URL:          ph.Endpoint,
			Healthy:      ph.Healthy,
			FailureCount: ph.FailureCount,
			LastCheck:    ph.LastChecked,
			LastFailure:  ph.LastFailure,
		}
		if ph.AvgResponseMs != nil {
			h.AvgResponseMs = *ph.AvgResponseMs
			h.hasAvgResponse = true
		}
		out[ph.Endpoint] = h
	}
	return out, nil
}

// Save writes the health map under storageKey, preserving any other
// storage keys already present in the file.
func (s *Store) Save(storageKey string, health map[string]*Health) error {
	all := map[string]persistedBlob{}

	if data, err := os.ReadFile(s.filePath); err == nil && len(data) > 0 {
		json.Unmarshal(data, &all)
	}

	blob := persistedBlob{Timestamp: time.Now()}
	for _, h := range health {
		blob.HealthMap = append(blob.HealthMap, toPersisted(h))
	}
	all[storageKey] = blob

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health store: %w", err)
	}
	return fsutil.AtomicWriteFile(s.filePath, data, 0600)
}

func toPersisted(h *Health) persistedHealth {
	ph := persistedHealth{
		Endpoint:     h.URL,
		Healthy:      h.Healthy,
		LastChecked:  h.LastCheck,
		FailureCount: h.FailureCount,
		LastFailure:  h.LastFailure,
	}
	if h.hasAvgResponse {
		v := h.AvgResponseMs
		ph.AvgResponseMs = &v
	}
	return ph
}
