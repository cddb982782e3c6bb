// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/webtrack/lib/clock"
)

// ErrDestroyed is returned by Run after Destroy.
var ErrDestroyed = errors.New("sandbox destroyed")

// Func is Go code run inside the sandbox. It receives the restricted
// Context in place of the host scope. Go code can still reach anything
// it closes over, so this isolation is best effort; scripts are fully
// confined.
type Func func(scope *Context, args ...any) (any, error)

// Sandbox runs code against a restricted Context.
type Sandbox struct {
	config   Config
	clock    clock.Clock
	logger   *slog.Logger
	context  *Context
	snapshot map[string]any

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	destroyed bool
}

// New creates a sandbox. It fails if a pattern is malformed.
func New(config Config) (*Sandbox, error) {
	m, err := newMatcher(config.AllowList, config.DenyList)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.ScriptTimeout <= 0 {
		config.ScriptTimeout = DefaultScriptTimeout
	}

	scope := newContext(m, config.Strict, config.Globals, config.Context, logger)
	sandbox := &Sandbox{
		config:    config,
		clock:     clk,
		logger:    logger,
		context:   scope,
		snapshot:  scope.snapshot(),
		listeners: make(map[int]Listener),
	}
	if config.Listener != nil {
		sandbox.Subscribe(config.Listener)
	}
	sandbox.emit(Event{Kind: Created})
	return sandbox, nil
}

// Context returns the restricted scope.
func (s *Sandbox) Context() *Context { return s.context }

// Run executes code, which must be a Func (or a plain func with the
// same signature) or a JavaScript source string, and returns its
// result. Panics in Go code become errors. With AutoRestore set the
// store is reset afterwards, whatever the outcome.
func (s *Sandbox) Run(code any, args ...any) (result any, err error) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return nil, ErrDestroyed
	}

	s.emit(Event{Kind: BeforeExecution})
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sandboxed code panicked: %v", r)
		}
		duration := s.clock.Since(start)
		if err != nil {
			s.emit(Event{Kind: Error, Err: err, Duration: duration})
		} else {
			s.emit(Event{Kind: AfterExecution, Duration: duration})
		}
		if s.config.AutoRestore {
			s.Reset()
		}
	}()

	switch typed := code.(type) {
	case Func:
		return typed(s.context, args...)
	case func(*Context, ...any) (any, error):
		return typed(s.context, args...)
	case string:
		return s.runScript(typed, args)
	default:
		return nil, fmt.Errorf("sandbox: cannot run %T", code)
	}
}

// Reset restores the store to its construction-time contents.
func (s *Sandbox) Reset() {
	s.context.restore(s.snapshot)
}

// Destroy releases the store and listeners. Later runs fail with
// ErrDestroyed. Destroy is idempotent.
func (s *Sandbox) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.emit(Event{Kind: Destroyed})
	s.context.release()

	s.mu.Lock()
	clear(s.listeners)
	s.mu.Unlock()
}

// Subscribe registers a listener and returns a function removing it.
func (s *Sandbox) Subscribe(listener Listener) (unsubscribe func()) {
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

func (s *Sandbox) emit(event Event) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if listener, ok := s.listeners[id]; ok {
			listeners = append(listeners, listener)
		}
	}
	s.mu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}
