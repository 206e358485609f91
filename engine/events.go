// Package engine implements the build engine: a scheduler that drives
// each rule through its state machine, with a non-blocking,
// per-subscriber event bus reporting every transition.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/thought-machine/forge/label"
)

// Phase marks a rule's progress within one State, giving each rule an
// observable STARTED -> (SUSPEND RESUME)* -> FINISHED sequence.
type Phase int

const (
	Started Phase = iota
	Suspended
	Resumed
	Finished
)

func (p Phase) String() string {
	switch p {
	case Started:
		return "STARTED"
	case Suspended:
		return "SUSPEND"
	case Resumed:
		return "RESUME"
	default:
		return "FINISHED"
	}
}

// An Event reports one phase transition of one rule's state machine.
type Event struct {
	Target label.BuildTarget
	State  State
	Phase  Phase
	Err    error
}

// subscriberQueueSize bounds each subscriber's event queue; a slow
// subscriber drops events rather than blocking publishers, and the
// drops are counted.
const subscriberQueueSize = 256

// A Bus is a non-blocking, multi-subscriber event publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
}

type subscriber struct {
	ch      chan Event
	dropped *int64
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new listener, returning a channel of events and
// a pointer the caller may read to observe how many events that
// listener has dropped due to a full queue.
func (b *Bus) Subscribe() (<-chan Event, *int64) {
	dropped := new(int64)
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize), dropped: dropped}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
	return sub.ch, dropped
}

// Publish delivers an event to every subscriber without blocking; a
// subscriber whose queue is full drops the event and increments its
// drop counter instead of stalling the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			atomic.AddInt64(sub.dropped, 1)
		}
	}
}

// Close closes every subscriber channel; callers must not Publish after
// calling Close.
func (b *Bus) Close() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
}
