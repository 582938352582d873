// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndAck(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Push(Action{ID: "a1"}))
	require.NoError(t, q.Push(Action{ID: "a2"}))
	require.NoError(t, q.Push(Action{ID: "a3"}))

	got, ok := q.Ack("a2")
	require.True(t, ok)
	assert.Equal(t, "a2", got.ID)

	_, ok = q.Ack("a2")
	assert.False(t, ok)

	ids := []string{}
	for _, a := range q.Snapshot() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a1", "a3"}, ids)
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(Action{ID: "a1", Kind: ActionPause}))
	require.NoError(t, q.Push(Action{ID: "a2"}))

	err := q.Push(Action{ID: "a3"})
	var overflow *OverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, "a1", overflow.Dropped.ID)
	assert.Equal(t, 2, overflow.Capacity)
	assert.Contains(t, err.Error(), "pause")

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "a2", q.Snapshot()[0].ID)
	assert.Equal(t, "a3", q.Snapshot()[1].ID)
}
