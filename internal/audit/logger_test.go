package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogTransitionAppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	logger, err := NewLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.LogTransition(LogEntry{
		ID:         "a1",
		ItemID:     "item-1",
		Timestamp:  time.Now(),
		FromStatus: "pending",
		ToStatus:   "simulating",
	}))
	require.NoError(t, logger.LogTransition(LogEntry{
		ID:         "a2",
		ItemID:     "item-1",
		Timestamp:  time.Now(),
		FromStatus: "simulating",
		ToStatus:   "broadcast",
	}))

	entries, err := logger.ReadLog()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "item-1", entries[0].ItemID)
	assert.Equal(t, "broadcast", entries[1].ToStatus)
}

func TestReadLogOnMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.ndjson")
	logger, err := NewLogger(path)
	require.NoError(t, err)

	entries, err := logger.ReadLog()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
