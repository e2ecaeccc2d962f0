package execarray

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterInvariantAfterMutations(t *testing.T) {
	arr := New()
	id1 := arr.Add(AgentResult{Description: "t1"})
	id2 := arr.Add(AgentResult{Description: "t2"})
	id3 := arr.Add(AgentResult{Description: "t3"})

	arr.UpdateStatus(id1, StatusFinalized, "", &Result{Success: true})
	arr.UpdateStatus(id2, StatusFailed, "boom", nil)
	arr.UpdateStatus(id3, StatusCancelled, "", nil)

	state := arr.GetState()
	require.Equal(t, 3, state.Total)
	assert.Equal(t, 1, state.Completed)
	assert.Equal(t, 1, state.Failed)
	assert.Equal(t, 1, state.Cancelled)

	var completed, failed, cancelled int
	for _, item := range state.Items {
		switch item.Status {
		case StatusFinalized, StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		}
	}
	assert.Equal(t, state.Completed, completed)
	assert.Equal(t, state.Failed, failed)
	assert.Equal(t, state.Cancelled, cancelled)
}

func TestObserverOrderingNoRepeatsNoSkips(t *testing.T) {
	arr := New()
	var mu sync.Mutex
	var transitions []Status

	unsub := arr.Subscribe(func(item Item, state Snapshot) {
		if item.ID == "" {
			return
		}
		mu.Lock()
		transitions = append(transitions, item.Status)
		mu.Unlock()
	})
	defer unsub()

	id := arr.Add(AgentResult{Description: "t1"})
	arr.UpdateStatus(id, StatusReady, "", nil)
	arr.UpdateStatus(id, StatusSigning, "", nil)
	arr.UpdateStatus(id, StatusBroadcasting, "", nil)
	arr.UpdateStatus(id, StatusInBlock, "", nil)
	arr.UpdateStatus(id, StatusFinalized, "", &Result{Success: true})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 6)
	assert.Equal(t, []Status{
		StatusPending, StatusReady, StatusSigning, StatusBroadcasting, StatusInBlock, StatusFinalized,
	}, transitions)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	arr := New()
	calls := 0
	unsub := arr.Subscribe(func(item Item, state Snapshot) { calls++ })

	arr.Add(AgentResult{})
	unsub()
	arr.Add(AgentResult{})

	assert.Equal(t, 1, calls)
}

func TestGetReadyItemsReturnsOnlyPending(t *testing.T) {
	arr := New()
	id1 := arr.Add(AgentResult{})
	arr.Add(AgentResult{})
	arr.UpdateStatus(id1, StatusFinalized, "", &Result{Success: true})

	ready := arr.GetReadyItems()
	require.Len(t, ready, 1)
	assert.NotEqual(t, id1, ready[0].ID)
}

func TestObserverPanicDoesNotBreakDelivery(t *testing.T) {
	arr := New()
	calledSecond := false
	arr.Subscribe(func(item Item, state Snapshot) { panic("boom") })
	arr.Subscribe(func(item Item, state Snapshot) { calledSecond = true })

	arr.Add(AgentResult{})
	assert.True(t, calledSecond)
}
