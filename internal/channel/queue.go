// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"fmt"
	"sync"
)

// OverflowError reports that an unconfirmed action was discarded to make
// room. The push that caused it still succeeded.
type OverflowError struct {
	Dropped  Action
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("outbound queue full (capacity %d): dropped %s action %s", e.Capacity, e.Dropped.Kind, e.Dropped.ID)
}

// Queue is a bounded FIFO of actions awaiting acknowledgement. It never
// blocks; on overflow the oldest entry is dropped.
type Queue struct {
	mu    sync.Mutex
	items []Action
	cap   int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{cap: capacity}
}

// Push appends a. It returns *OverflowError when the oldest entry had to go.
func (q *Queue) Push(a Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	if len(q.items) >= q.cap {
		dropped := q.items[0]
		q.items = append(q.items[:0], q.items[1:]...)
		err = &OverflowError{Dropped: dropped, Capacity: q.cap}
	}
	q.items = append(q.items, a)
	return err
}

// Ack removes the action with id and reports whether it was queued.
func (q *Queue) Ack(id string) (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.items {
		if a.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return a, true
		}
	}
	return Action{}, false
}

// Snapshot returns the queued actions in insertion order.
func (q *Queue) Snapshot() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Action(nil), q.items...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
