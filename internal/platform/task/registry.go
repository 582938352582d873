// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package task

import (
	"context"
	"fmt"
	"sync"
)

// Registry tracks component-owned goroutines and provides a bounded join on shutdown.
type Registry struct {
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Go runs fn in a tracked goroutine. It returns false once the registry is closing.
func (r *Registry) Go(fn func()) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()

	return true
}

// CloseAndWait stops accepting work and waits for running goroutines until ctx expires.
func (r *Registry) CloseAndWait(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker drain timeout: %w", ctx.Err())
	}
}
