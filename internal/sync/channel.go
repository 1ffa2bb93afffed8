// Package sync delivers remote diffs to the applier and publishes local
// diffs to peers. Delivery is at-least-once, ordered per entity, unordered
// across entities.
package sync

import (
	stdsync "sync"

	"github.com/scaleworld/client/internal/entity"
)

// Channel is the collaborator contract the core consumes.
type Channel interface {
	// Publish sends a committed local diff to remote peers.
	Publish(d entity.Diff) error
	// Subscribe registers a handler for incoming remote diffs. Handlers may
	// be called from the channel's own goroutine; they must not block.
	Subscribe(handler func(entity.Diff))
	Close() error
}

// Loopback is an in-process channel for offline mode and tests. Published
// diffs go to the peer returned by NewLoopbackPair.
type Loopback struct {
	mu       stdsync.Mutex
	peer     *Loopback
	handlers []func(entity.Diff)
	rejects  []entity.Diff
	closed   bool
}

// NewLoopbackPair returns two connected endpoints: what one publishes, the
// other's subscribers receive.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// NewLoopback returns a dead-end channel: publishes go nowhere, Deliver
// injects inbound diffs. Used for offline mode.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) Publish(d entity.Diff) error {
	if l.peer == nil {
		return nil
	}
	l.peer.Deliver(d)
	return nil
}

func (l *Loopback) Subscribe(handler func(entity.Diff)) {
	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
}

// Deliver feeds a diff to this endpoint's subscribers.
func (l *Loopback) Deliver(d entity.Diff) {
	l.mu.Lock()
	handlers := append([]func(entity.Diff){}, l.handlers...)
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	for _, h := range handlers {
		h(d)
	}
}

// Rejected implements apply.Origin: rejected remote diffs are remembered so
// the would-be sender (a test, usually) can inspect and rebase them.
func (l *Loopback) Rejected(d entity.Diff, err error) {
	l.mu.Lock()
	l.rejects = append(l.rejects, d)
	l.mu.Unlock()
}

// Rejects returns the diffs surfaced back to this endpoint.
func (l *Loopback) Rejects() []entity.Diff {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entity.Diff{}, l.rejects...)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
