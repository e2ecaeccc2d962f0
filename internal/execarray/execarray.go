// Package execarray implements the Execution Array from spec.md §4.6: a
// pure in-memory runtime queue of ExecutionItems with per-item status,
// observers, and re-derived aggregate counters. No I/O.
package execarray

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the ordered status set spec.md §3 names.
type Status string

const (
	StatusPending     Status = "pending"
	StatusReady       Status = "ready"
	StatusSigning     Status = "signing"
	StatusBroadcasting Status = "broadcasting"
	StatusInBlock     Status = "in_block"
	StatusFinalized   Status = "finalized"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether status is one of the array's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinalized, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// AgentResult is the wrapped payload every item carries, mirroring
// spec.md §3's AgentResult entity. The execarray package only needs it as
// an opaque value it stores and hands back; internal/agent defines and
// populates the concrete fields.
type AgentResult struct {
	Description    string
	ExecutionType  string
	Transaction    interface{}
	DataPayload    interface{}
	EstimatedFee   string
	Warnings       []string
	Metadata       map[string]interface{}
	SenderAddress  string
}

// Result is the terminal ExecutionResult spec.md §3 names.
type Result struct {
	Success   bool
	TxHash    string
	BlockHash string
	Events    []string
	ErrorCode string
	ErrorMsg  string
}

// Item is one ExecutionItem.
type Item struct {
	ID            string
	Index         int
	Agent         AgentResult
	Status        Status
	Error         string
	Result        *Result
	SimProgress   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot is the observable get_state() result: a point-in-time copy of
// the array's items and counters.
type Snapshot struct {
	Items       []Item
	IsExecuting bool
	IsPaused    bool
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
}

// Observer is notified synchronously, in registration order, after every
// mutation. Per spec.md §9's design note on cyclic references, the array
// owns observers by value and invokes them; observers must not retain a
// reference back into the array beyond the callback's scope.
type Observer func(item Item, arrayState Snapshot)

// Array is the Execution Array: pure in-memory, no I/O.
type Array struct {
	mu          sync.Mutex
	items       []*Item
	byID        map[string]int
	observers   []Observer
	nextObsID   int
	obsByID     map[int]int // observer id -> index in observers, for Unsubscribe
	isExecuting bool
	isPaused    bool
}

// New builds an empty Array.
func New() *Array {
	return &Array{
		byID:    map[string]int{},
		obsByID: map[int]int{},
	}
}

// Add appends a new pending item wrapping result and returns its ID.
func (a *Array) Add(result AgentResult) string {
	a.mu.Lock()
	id := uuid.NewString()
	now := time.Now()
	item := &Item{
		ID:        id,
		Index:     len(a.items),
		Agent:     result,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.items = append(a.items, item)
	a.byID[id] = len(a.items) - 1
	snapshot := a.snapshotLocked()
	itemCopy := *item
	a.mu.Unlock()

	a.notify(itemCopy, snapshot)
	return id
}

// UpdateStatus transitions item id to status, optionally attaching an error
// message and/or a terminal result. Counters are re-derived from the items
// on every mutation, preserving the counter invariant (Testable Property 9).
func (a *Array) UpdateStatus(id string, status Status, errMsg string, result *Result) {
	a.mu.Lock()
	idx, ok := a.byID[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	item := a.items[idx]
	item.Status = status
	item.UpdatedAt = time.Now()
	if errMsg != "" {
		item.Error = errMsg
	}
	if result != nil {
		item.Result = result
	}
	snapshot := a.snapshotLocked()
	itemCopy := *item
	a.mu.Unlock()

	a.notify(itemCopy, snapshot)
}

// SetSimProgress records simulator progress text for item id without
// changing its status.
func (a *Array) SetSimProgress(id, progress string) {
	a.mu.Lock()
	idx, ok := a.byID[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	item := a.items[idx]
	item.SimProgress = progress
	item.UpdatedAt = time.Now()
	snapshot := a.snapshotLocked()
	itemCopy := *item
	a.mu.Unlock()

	a.notify(itemCopy, snapshot)
}

// Subscribe registers an observer and returns an unsubscribe function.
func (a *Array) Subscribe(obs Observer) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextObsID
	a.nextObsID++
	a.observers = append(a.observers, obs)
	a.obsByID[id] = len(a.observers) - 1
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		idx, ok := a.obsByID[id]
		if !ok {
			return
		}
		a.observers = append(a.observers[:idx], a.observers[idx+1:]...)
		delete(a.obsByID, id)
		for otherID, otherIdx := range a.obsByID {
			if otherIdx > idx {
				a.obsByID[otherID] = otherIdx - 1
			}
		}
	}
}

// GetReadyItems returns every item currently in StatusPending, the set the
// executioner collects at the start of a pass.
func (a *Array) GetReadyItems() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Item
	for _, item := range a.items {
		if item.Status == StatusPending {
			out = append(out, *item)
		}
	}
	return out
}

// Get returns a copy of the item with id, if present.
func (a *Array) Get(id string) (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.byID[id]
	if !ok {
		return Item{}, false
	}
	return *a.items[idx], true
}

// GetState returns a snapshot of the array's items and aggregate counters.
func (a *Array) GetState() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// SetExecuting sets the is_executing flag, notifying observers of the
// change via a zero-value item (callers interested in lifecycle events
// subscribe for GetState() rather than a specific item).
func (a *Array) SetExecuting(executing bool) {
	a.mu.Lock()
	a.isExecuting = executing
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(Item{}, snapshot)
}

// SetPaused sets the cooperative pause flag.
func (a *Array) SetPaused(paused bool) {
	a.mu.Lock()
	a.isPaused = paused
	a.mu.Unlock()
}

// Paused reports the current cooperative-pause flag.
func (a *Array) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isPaused
}

// snapshotLocked must be called with a.mu held.
func (a *Array) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		IsExecuting: a.isExecuting,
		IsPaused:    a.isPaused,
		Total:       len(a.items),
	}
	items := make([]Item, len(a.items))
	for i, item := range a.items {
		items[i] = *item
		switch item.Status {
		case StatusFinalized, StatusCompleted:
			snapshot.Completed++
		case StatusFailed:
			snapshot.Failed++
		case StatusCancelled:
			snapshot.Cancelled++
		}
	}
	snapshot.Items = items
	return snapshot
}

// notify invokes every observer synchronously, in registration order.
// Implementations must not raise from callbacks (spec.md §6); a panicking
// observer is recovered here and its panic is discarded, neither propagated
// nor reported, so one misbehaving observer cannot break delivery to the
// rest.
func (a *Array) notify(item Item, snapshot Snapshot) {
	a.mu.Lock()
	observers := append([]Observer{}, a.observers...)
	a.mu.Unlock()

	for _, obs := range observers {
		func() {
			defer func() { recover() }()
			obs(item, snapshot)
		}()
	}
}
