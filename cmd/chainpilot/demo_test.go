package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/chainpilot/internal/execarray"
)

func TestRunDemoFinalizesTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lines []string
	result, err := runDemo(ctx, func(format string, args ...interface{}) {
		lines = append(lines, format)
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.PlanText, "transfer plan")
	assert.NotEmpty(t, result.SignerAddress)
	assert.Equal(t, 1, result.ItemCount)
	assert.Equal(t, 1, result.Finalized)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Cancelled)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Equal(t, string(execarray.StatusFinalized), item.Status)
	assert.NotEmpty(t, item.TxHash)
	assert.Empty(t, item.Error)

	assert.NotEmpty(t, lines)
}

func TestDetectModeDefaultsToInteractive(t *testing.T) {
	t.Setenv("CHAINPILOT_MODE", "")
	assert.Equal(t, ModeInteractive, detectMode())

	t.Setenv("CHAINPILOT_MODE", "dashboard")
	assert.Equal(t, ModeDashboard, detectMode())

	t.Setenv("CHAINPILOT_MODE", "DASHBOARD")
	assert.Equal(t, ModeDashboard, detectMode())
}
