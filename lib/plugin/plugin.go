// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"log/slog"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// State is a plugin's lifecycle state.
type State string

const (
	StateCreated      State = "CREATED"
	StateInitializing State = "INITIALIZING"
	StateInitialized  State = "INITIALIZED"
	StateDestroying   State = "DESTROYING"
	StateDestroyed    State = "DESTROYED"
	StateError        State = "ERROR"
)

// Plugin is an instrumentation extension.
type Plugin interface {
	Name() string
	Version() string
	Init(ctx *Context) error
	Destroy() error
}

// Dependent is implemented by plugins that require others to be
// initialized first.
type Dependent interface {
	Dependencies() []string
}

// TrackFunc feeds an event into the pipeline.
type TrackFunc func(eventType, name string, data map[string]any, options ...event.Option)

// Context is what a plugin receives at Init.
type Context struct {
	// Track feeds events into the pipeline.
	Track TrackFunc

	// Options is the plugin's own configuration slice.
	Options map[string]any

	// Logger is scoped to the plugin.
	Logger *slog.Logger

	// Scope is the restricted global scope.
	Scope *sandbox.Context

	// Sandbox runs extension-supplied code.
	Sandbox *sandbox.Sandbox

	// Interceptors installs observation hooks. Hooks a plugin
	// installs are removed when the pipeline is torn down.
	Interceptors *interceptor.Registry

	// Clock is the pipeline's clock.
	Clock clock.Clock
}

// Descriptor summarizes a registered plugin.
type Descriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   State  `json:"state"`
}

// StateChange is delivered to listeners after each transition.
type StateChange struct {
	Name string
	From State
	To   State

	// Err is set when To is StateError.
	Err error
}

// Listener observes state changes.
type Listener func(StateChange)
