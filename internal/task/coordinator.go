// Package task tracks which annotations currently have an in-flight AI
// request. The coordinator is the source of truth for "is this id busy";
// collection updates themselves are serialized by the state-owning store, so
// the coordinator only guards ids, never data.
package task

import (
	"errors"
	"sync"
)

// ErrBusy is returned when an annotation already has a request in flight.
// Concurrent triggers on the same id are rejected, not queued; the caller is
// expected to disable its trigger while an id is pending.
var ErrBusy = errors.New("annotation already has a request in flight")

// State of an annotation id as seen by the coordinator.
type State int

const (
	StateIdle State = iota
	StatePending
)

// Coordinator enforces at most one in-flight AI request per annotation id.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{pending: make(map[string]struct{})}
}

// Begin marks id pending. It fails with ErrBusy if a request is already in
// flight for the id.
func (c *Coordinator) Begin(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		return ErrBusy
	}
	c.pending[id] = struct{}{}
	return nil
}

// Finish returns id to idle. Safe to call for an id that is not pending;
// callers invoke it in a deferred cleanup regardless of outcome.
func (c *Coordinator) Finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// StateOf reports the current state of id.
func (c *Coordinator) StateOf(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		return StatePending
	}
	return StateIdle
}

// PendingCount reports how many ids are in flight.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
