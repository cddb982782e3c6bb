// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
)

// DefaultDenyList blocks cookie and client-side storage access.
var DefaultDenyList = []string{
	"document.cookie",
	"localStorage",
	"localStorage.",
	"sessionStorage",
	"sessionStorage.",
	"indexedDB",
	"indexedDB.",
}

// DefaultScriptTimeout bounds one script run.
const DefaultScriptTimeout = time.Second

// Config configures a Sandbox.
type Config struct {
	// AllowList, when non-empty, blocks every path that matches no
	// entry.
	AllowList []string

	// DenyList blocks matching paths. DefaultConfig fills in
	// DefaultDenyList.
	DenyList []string

	// Strict disables fallthrough to Globals on a store miss.
	Strict bool

	// Context seeds the store. Keys may be dotted paths.
	Context map[string]any

	// AutoRestore resets the store after every Run.
	AutoRestore bool

	// ScriptTimeout interrupts scripts that run longer. Zero selects
	// DefaultScriptTimeout.
	ScriptTimeout time.Duration

	// Globals is the host scope consulted by non-strict sandboxes.
	Globals Globals

	// Listener, when set, is subscribed before the Created event.
	Listener Listener

	// Clock drives script timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives access warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a strict, auto-restoring sandbox configuration
// with the default deny list.
func DefaultConfig() Config {
	return Config{
		DenyList:      append([]string(nil), DefaultDenyList...),
		Strict:        true,
		AutoRestore:   true,
		ScriptTimeout: DefaultScriptTimeout,
	}
}
