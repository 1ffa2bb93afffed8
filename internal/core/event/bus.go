package event

import (
	"github.com/scaleworld/client/internal/entity"
)

// Bus is a double-buffered entity lifecycle bus. The registry records events
// into the back buffer while diffs drain; the scheduler swaps and dispatches
// before the script pass, so every handler observes the tick's fully-merged
// state in the order the mutations happened.
type Bus struct {
	back  []any
	front []any

	onCreated   []func(Created)
	onLive      []func(Live)
	onUpdated   []func(Updated)
	onDestroyed []func(Destroyed)
}

func NewBus() *Bus {
	return &Bus{}
}

// SubscribeCreated registers a handler for Created events.
func (b *Bus) SubscribeCreated(fn func(Created)) { b.onCreated = append(b.onCreated, fn) }

// SubscribeLive registers a handler for Live events.
func (b *Bus) SubscribeLive(fn func(Live)) { b.onLive = append(b.onLive, fn) }

// SubscribeUpdated registers a handler for Updated events.
func (b *Bus) SubscribeUpdated(fn func(Updated)) { b.onUpdated = append(b.onUpdated, fn) }

// SubscribeDestroyed registers a handler for Destroyed events.
func (b *Bus) SubscribeDestroyed(fn func(Destroyed)) { b.onDestroyed = append(b.onDestroyed, fn) }

// entity.Events implementation — the registry records, never dispatches.

func (b *Bus) EntityCreated(id string, kind entity.Kind, pending bool) {
	b.back = append(b.back, Created{ID: id, Kind: kind, Pending: pending})
}

func (b *Bus) EntityLive(id string) {
	b.back = append(b.back, Live{ID: id})
}

func (b *Bus) EntityUpdated(id string, version uint64, fields []string) {
	b.back = append(b.back, Updated{ID: id, Version: version, Fields: fields})
}

func (b *Bus) EntityDestroyed(id string) {
	b.back = append(b.back, Destroyed{ID: id})
}

// Dispatch swaps buffers and delivers everything recorded since the last
// call, preserving emission order. Handlers may record new events; those are
// delivered on the next Dispatch.
func (b *Bus) Dispatch() {
	b.front, b.back = b.back, b.front[:0]
	for _, ev := range b.front {
		switch e := ev.(type) {
		case Created:
			for _, fn := range b.onCreated {
				fn(e)
			}
		case Live:
			for _, fn := range b.onLive {
				fn(e)
			}
		case Updated:
			for _, fn := range b.onUpdated {
				fn(e)
			}
		case Destroyed:
			for _, fn := range b.onDestroyed {
				fn(e)
			}
		}
	}
}
