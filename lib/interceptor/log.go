// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// LogTap is an slog.Handler that forwards to another handler and
// lets observers see records as they pass. Hosts install it once, for
// example as the default logger's handler; observers come and go
// through LogObserver interceptors.
type LogTap struct {
	next  slog.Handler
	state *tapState
	attrs []slog.Attr
}

type tapState struct {
	mu        sync.Mutex
	observers map[int]*logObserver
	nextID    int
}

type logObserver struct {
	level   slog.Level
	observe func(slog.Record)

	// busy drops records logged while the observer is running,
	// including records its own work produces.
	busy atomic.Bool
}

// NewLogTap wraps next.
func NewLogTap(next slog.Handler) *LogTap {
	return &LogTap{next: next, state: &tapState{observers: make(map[int]*logObserver)}}
}

// Enabled reports whether next or any observer wants the level.
func (tap *LogTap) Enabled(ctx context.Context, level slog.Level) bool {
	return tap.next.Enabled(ctx, level) || tap.state.wants(level)
}

// Handle shows the record to interested observers, then forwards it.
func (tap *LogTap) Handle(ctx context.Context, record slog.Record) error {
	for _, observer := range tap.state.snapshot() {
		if record.Level < observer.level {
			continue
		}
		if !observer.busy.CompareAndSwap(false, true) {
			continue
		}
		observed := record.Clone()
		observed.AddAttrs(tap.attrs...)
		func() {
			defer observer.busy.Store(false)
			defer func() { _ = recover() }()
			observer.observe(observed)
		}()
	}
	if !tap.next.Enabled(ctx, record.Level) {
		return nil
	}
	return tap.next.Handle(ctx, record)
}

// WithAttrs returns a tap sharing observers, whose records carry attrs.
func (tap *LogTap) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogTap{
		next:  tap.next.WithAttrs(attrs),
		state: tap.state,
		attrs: append(slices.Clip(tap.attrs), attrs...),
	}
}

// WithGroup returns a tap sharing observers. Observers see group
// attributes flattened.
func (tap *LogTap) WithGroup(name string) slog.Handler {
	return &LogTap{next: tap.next.WithGroup(name), state: tap.state, attrs: tap.attrs}
}

func (state *tapState) attach(observer *logObserver) int {
	state.mu.Lock()
	defer state.mu.Unlock()
	id := state.nextID
	state.nextID++
	state.observers[id] = observer
	return id
}

func (state *tapState) detach(id int) {
	state.mu.Lock()
	defer state.mu.Unlock()
	delete(state.observers, id)
}

func (state *tapState) wants(level slog.Level) bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, observer := range state.observers {
		if level >= observer.level {
			return true
		}
	}
	return false
}

func (state *tapState) snapshot() []*logObserver {
	state.mu.Lock()
	defer state.mu.Unlock()
	observers := make([]*logObserver, 0, len(state.observers))
	for id := 0; id < state.nextID; id++ {
		if observer, ok := state.observers[id]; ok {
			observers = append(observers, observer)
		}
	}
	return observers
}

// LogObserver returns an interceptor that shows observe every record
// at or above level passing through tap.
func LogObserver(name string, tap *LogTap, level slog.Level, observe func(slog.Record)) Interceptor {
	id := -1
	return Interceptor{
		Name: name,
		Install: func() error {
			if tap == nil {
				return fmt.Errorf("nil log tap")
			}
			id = tap.state.attach(&logObserver{level: level, observe: observe})
			return nil
		},
		Uninstall: func() error {
			if id >= 0 {
				tap.state.detach(id)
				id = -1
			}
			return nil
		},
	}
}
