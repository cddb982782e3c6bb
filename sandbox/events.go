// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "time"

// EventKind identifies a sandbox lifecycle event.
type EventKind string

const (
	Created         EventKind = "created"
	BeforeExecution EventKind = "before_execution"
	AfterExecution  EventKind = "after_execution"
	Error           EventKind = "error"
	Destroyed       EventKind = "destroyed"
)

// Event reports sandbox activity.
type Event struct {
	Kind EventKind

	// Err is set for Error events.
	Err error

	// Duration is the run time, set for AfterExecution and Error
	// events.
	Duration time.Duration
}

// Listener observes sandbox events. It runs synchronously on the
// goroutine that triggered the event.
type Listener func(Event)
