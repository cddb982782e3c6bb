// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"sync"

	"github.com/bureau-foundation/webtrack/lib/idle"
	"github.com/bureau-foundation/webtrack/lib/transport"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// Host is the set of environment capabilities the pipeline consumes.
type Host interface {
	// Globals is the fallthrough scope for non-strict sandboxes.
	Globals() sandbox.Globals

	// IdleRequester returns nil when the host has no idle primitive.
	IdleRequester() idle.Requester

	// Beaconer returns nil when beacons are unsupported.
	Beaconer() transport.Beaconer

	// OnUnload registers fn to run when the host tears down. The
	// returned function removes the registration.
	OnUnload(fn func()) (remove func())
}

// Hooks is an ordered set of unload callbacks that fires at most
// once. The zero value is ready to use.
type Hooks struct {
	mu     sync.Mutex
	hooks  map[int]func()
	nextID int
	fired  bool
}

// Add registers fn. Hooks added after Fire are ignored.
func (hooks *Hooks) Add(fn func()) (remove func()) {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.fired {
		return func() {}
	}
	if hooks.hooks == nil {
		hooks.hooks = make(map[int]func())
	}
	id := hooks.nextID
	hooks.nextID++
	hooks.hooks[id] = fn
	return func() {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		delete(hooks.hooks, id)
	}
}

// Fire runs every registered hook in registration order, outside the
// lock. Later calls do nothing and report false.
func (hooks *Hooks) Fire() bool {
	hooks.mu.Lock()
	if hooks.fired {
		hooks.mu.Unlock()
		return false
	}
	hooks.fired = true
	pending := make([]func(), 0, len(hooks.hooks))
	for id := range hooks.nextID {
		if fn, ok := hooks.hooks[id]; ok {
			pending = append(pending, fn)
		}
	}
	hooks.hooks = nil
	hooks.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	return true
}

// Fired reports whether Fire has run.
func (hooks *Hooks) Fired() bool {
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	return hooks.fired
}

// Static is a Host assembled from explicit parts. Nil fields mean the
// capability is absent.
type Static struct {
	Scope  sandbox.MapGlobals
	Idle   idle.Requester
	Beacon transport.Beaconer

	hooks Hooks
}

func (static *Static) Globals() sandbox.Globals {
	if static.Scope == nil {
		return sandbox.MapGlobals{}
	}
	return static.Scope
}

func (static *Static) IdleRequester() idle.Requester { return static.Idle }

func (static *Static) Beaconer() transport.Beaconer { return static.Beacon }

func (static *Static) OnUnload(fn func()) (remove func()) { return static.hooks.Add(fn) }

// Unload fires the unload hooks once.
func (static *Static) Unload() { static.hooks.Fire() }
