// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "github.com/bureau-foundation/webtrack/lib/event"

// Kind identifies a store notification.
type Kind string

const (
	ItemAdded    Kind = "item_added"
	ItemRemoved  Kind = "item_removed"
	Overflow     Kind = "overflow"
	QueueFlushed Kind = "queue_flushed"
)

// Notification describes one change to the store.
type Notification struct {
	Kind Kind

	// Priority is the tier the change applied to. For QueueFlushed
	// batches spanning tiers it is the tier of the first record.
	Priority event.Priority

	// Events are the records involved: the added record, the removed
	// or flushed records, or the record lost to overflow.
	Events []*event.Event

	// Rejected is set on Overflow when the incoming record was
	// refused (DiscardNewest) rather than an old one evicted.
	Rejected bool
}

// Listener receives notifications. It runs on the goroutine that
// caused the change, without the store's lock held.
type Listener func(Notification)

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(notifications ...Notification) {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(s.listeners))
	// Registration order.
	for id := 0; id < s.nextID; id++ {
		if listener, ok := s.listeners[id]; ok {
			listeners = append(listeners, listener)
		}
	}
	s.mu.Unlock()

	for _, n := range notifications {
		for _, listener := range listeners {
			listener(n)
		}
	}
}
