package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallBudget_UnderLimit(t *testing.T) {
	b := NewCallBudget(5, time.Hour)

	for range 5 {
		require.NoError(t, b.Take("2025-W30", "Complete"))
	}
}

func TestCallBudget_ExceedsLimit(t *testing.T) {
	b := NewCallBudget(2, time.Hour)
	require.NoError(t, b.Take("2025-W30", "Complete"))
	require.NoError(t, b.Take("2025-W30", "Complete"))

	err := b.Take("2025-W30", "Complete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget exceeded")
	assert.Contains(t, err.Error(), "(2/2 in window)")
}

func TestCallBudget_WindowReset(t *testing.T) {
	b := NewCallBudget(1, time.Hour)
	now := time.Date(2025, 7, 28, 6, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Take("2025-W30", "Complete"))
	assert.Error(t, b.Take("2025-W30", "Complete"))

	b.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.NoError(t, b.Take("2025-W30", "Complete"))
}

func TestCallBudget_ScopesIndependent(t *testing.T) {
	b := NewCallBudget(1, time.Hour)
	require.NoError(t, b.Take("2025-W30", "Complete"))
	assert.Error(t, b.Take("2025-W30", "Complete"))
	assert.NoError(t, b.Take("2025-W31", "Complete"))
}

func TestCallBudget_NilAndDisabled(t *testing.T) {
	var b *CallBudget
	assert.NoError(t, b.Take("x", "y"))

	off := NewCallBudget(0, time.Hour)
	for range 3 {
		assert.NoError(t, off.Take("x", "y"))
	}
}
