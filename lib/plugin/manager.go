// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/webtrack/sandbox"
)

var (
	// ErrNotFound is returned for operations on an unregistered name.
	ErrNotFound = errors.New("plugin not registered")

	// ErrMissingDependency is returned when a dependency is not
	// registered.
	ErrMissingDependency = errors.New("missing plugin dependency")

	// ErrDependencyCycle is returned when dependencies loop.
	ErrDependencyCycle = errors.New("plugin dependency cycle")
)

// ContextFactory builds the Init context for one plugin.
type ContextFactory func(p Plugin) *Context

// Manager owns registered plugins. Lifecycle operations are serialized;
// listeners run after an operation completes, with no lock held.
type Manager struct {
	newContext ContextFactory
	runner     *sandbox.Sandbox
	logger     *slog.Logger

	// lifecycle serializes Register, Unregister, Initialize, and
	// Destroy so plugin callbacks never interleave.
	lifecycle sync.Mutex

	mu        sync.Mutex
	entries   map[string]*entry
	order     []string
	initOrder []string
	listeners map[int]Listener
	nextID    int
	pending   []StateChange
}

type entry struct {
	plugin Plugin
	state  State
}

// NewManager creates a manager. runner may be nil, in which case
// callbacks run directly with panic recovery.
func NewManager(newContext ContextFactory, runner *sandbox.Sandbox, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if newContext == nil {
		newContext = func(Plugin) *Context { return &Context{Logger: logger} }
	}
	return &Manager{
		newContext: newContext,
		runner:     runner,
		logger:     logger,
		entries:    make(map[string]*entry),
		listeners:  make(map[int]Listener),
	}
}

// Register adds a plugin in state CREATED. A plugin already registered
// under the same name is replaced; if it was initialized it is
// destroyed first, and a destroy failure is logged but does not block
// the replacement.
func (m *Manager) Register(p Plugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("registering plugin: missing name")
	}
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()

	name := p.Name()
	if previous, ok := m.lookup(name); ok {
		m.logger.Warn("replacing registered plugin",
			"plugin", name,
			"old_version", previous.plugin.Version(),
			"new_version", p.Version(),
			"old_state", previous.state,
		)
		if needsDestroy(previous.state) {
			if err := m.destroyLocked(name); err != nil {
				m.logger.Error("destroying replaced plugin failed", "plugin", name, "error", err)
			}
		}
	}

	m.mu.Lock()
	if _, exists := m.entries[name]; !exists {
		m.order = append(m.order, name)
	}
	m.initOrder = slices.DeleteFunc(m.initOrder, func(n string) bool { return n == name })
	m.entries[name] = &entry{plugin: p, state: StateCreated}
	m.mu.Unlock()
	return nil
}

// Unregister destroys a plugin if needed and removes it.
func (m *Manager) Unregister(name string) error {
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()

	current, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("unregistering %q: %w", name, ErrNotFound)
	}
	var err error
	if needsDestroy(current.state) {
		err = m.destroyLocked(name)
	}

	m.mu.Lock()
	delete(m.entries, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	m.initOrder = slices.DeleteFunc(m.initOrder, func(n string) bool { return n == name })
	m.mu.Unlock()
	return err
}

// Initialize initializes a plugin and, first, its dependencies. An
// initialized plugin is left alone.
func (m *Manager) Initialize(name string) error {
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()
	return m.initializeLocked(name, nil)
}

// InitializeAll initializes every registered plugin in registration
// order. One plugin's failure does not stop the others; all failures
// are joined.
func (m *Manager) InitializeAll() error {
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	names := slices.Clone(m.order)
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		current, ok := m.lookup(name)
		if !ok || current.state == StateInitialized {
			continue
		}
		if err := m.initializeLocked(name, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy tears one plugin down.
func (m *Manager) Destroy(name string) error {
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()
	if _, ok := m.lookup(name); !ok {
		return fmt.Errorf("destroying %q: %w", name, ErrNotFound)
	}
	return m.destroyLocked(name)
}

// DestroyAll destroys plugins in reverse initialization order, then
// any that were never initialized. Failures are joined.
func (m *Manager) DestroyAll() error {
	m.lifecycle.Lock()
	defer m.flush()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	names := slices.Clone(m.initOrder)
	slices.Reverse(names)
	for _, name := range m.order {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.destroyLocked(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns a plugin's current state.
func (m *Manager) State(name string) (State, bool) {
	current, ok := m.lookup(name)
	if !ok {
		return "", false
	}
	return current.state, true
}

// Get returns a registered plugin.
func (m *Manager) Get(name string) (Plugin, bool) {
	current, ok := m.lookup(name)
	if !ok {
		return nil, false
	}
	return current.plugin, true
}

// Plugins describes every registered plugin in registration order.
func (m *Manager) Plugins() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	descriptors := make([]Descriptor, 0, len(m.order))
	for _, name := range m.order {
		current := m.entries[name]
		descriptors = append(descriptors, Descriptor{
			Name:    name,
			Version: current.plugin.Version(),
			State:   current.state,
		})
	}
	return descriptors
}

// Subscribe registers a state change listener and returns a function
// removing it.
func (m *Manager) Subscribe(listener Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// initializeLocked runs with the lifecycle lock held. chain is the
// dependency path leading here, for cycle reporting.
func (m *Manager) initializeLocked(name string, chain []string) error {
	current, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("initializing %q: %w", name, ErrNotFound)
	}
	switch current.state {
	case StateInitialized:
		return nil
	case StateInitializing:
		return fmt.Errorf("initializing %q: %w: %v", name, ErrDependencyCycle, append(chain, name))
	}

	m.transition(name, StateInitializing, nil)
	chain = append(chain, name)

	if dependent, ok := current.plugin.(Dependent); ok {
		for _, dependency := range dependent.Dependencies() {
			if _, registered := m.lookup(dependency); !registered {
				err := fmt.Errorf("initializing %q: %w %q", name, ErrMissingDependency, dependency)
				m.fail(name, err)
				return err
			}
			if err := m.initializeLocked(dependency, chain); err != nil {
				err = fmt.Errorf("initializing %q: dependency %q: %w", name, dependency, err)
				m.fail(name, err)
				return err
			}
		}
	}

	ctx := m.newContext(current.plugin)
	if err := m.call(func() error { return current.plugin.Init(ctx) }); err != nil {
		err = fmt.Errorf("initializing %q: %w", name, err)
		m.fail(name, err)
		return err
	}

	m.mu.Lock()
	m.initOrder = append(m.initOrder, name)
	m.mu.Unlock()
	m.transition(name, StateInitialized, nil)
	m.logger.Info("plugin initialized", "plugin", name, "version", current.plugin.Version())
	return nil
}

// destroyLocked runs with the lifecycle lock held. Plugins that never
// initialized skip their Destroy callback.
func (m *Manager) destroyLocked(name string) error {
	current, ok := m.lookup(name)
	if !ok || current.state == StateDestroyed {
		return nil
	}
	callDestroy := needsDestroy(current.state)
	m.transition(name, StateDestroying, nil)

	m.mu.Lock()
	m.initOrder = slices.DeleteFunc(m.initOrder, func(n string) bool { return n == name })
	m.mu.Unlock()

	if callDestroy {
		if err := m.call(current.plugin.Destroy); err != nil {
			err = fmt.Errorf("destroying %q: %w", name, err)
			m.fail(name, err)
			return err
		}
	}
	m.transition(name, StateDestroyed, nil)
	m.logger.Debug("plugin destroyed", "plugin", name)
	return nil
}

// needsDestroy reports whether a plugin in state may hold resources.
func needsDestroy(state State) bool {
	return state == StateInitialized || state == StateError
}

func (m *Manager) call(fn func() error) (err error) {
	if m.runner != nil {
		_, err = m.runner.Run(sandbox.Func(func(*sandbox.Context, ...any) (any, error) {
			return nil, fn()
		}))
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}

func (m *Manager) fail(name string, err error) {
	m.logger.Error("plugin lifecycle failed", "plugin", name, "error", err)
	m.transition(name, StateError, err)
}

func (m *Manager) lookup(name string) (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[name]
	if !ok {
		return entry{}, false
	}
	return *current, true
}

func (m *Manager) transition(name string, to State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[name]
	if !ok {
		return
	}
	from := current.state
	current.state = to
	m.pending = append(m.pending, StateChange{Name: name, From: from, To: to, Err: err})
}

// flush delivers queued state changes. Deferred after the lifecycle
// unlock so listeners may call back into the manager.
func (m *Manager) flush() {
	m.mu.Lock()
	changes := m.pending
	m.pending = nil
	listeners := make([]Listener, 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if listener, ok := m.listeners[id]; ok {
			listeners = append(listeners, listener)
		}
	}
	m.mu.Unlock()

	for _, change := range changes {
		for _, listener := range listeners {
			listener(change)
		}
	}
}
