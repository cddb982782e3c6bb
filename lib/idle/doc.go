// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package idle runs deferrable work in host-granted idle slices.
//
// A [Scheduler] keeps a list of [Task] values. When work is pending it
// asks its [Requester] for an idle slice; during the slice it executes
// tasks in ascending priority order (stable for equal priorities) until
// the slice runs out of budget or MaxTasksPerIdle tasks have run, then
// asks for another slice if anything is left.
//
// Hosts without an idle primitive pass a nil Requester. The scheduler
// then substitutes a clock timer of FallbackDelay whose synthetic
// [Deadline] reports FallbackBudget minus the time already spent in
// the slice.
//
// Task failures never abort a slice: errors and panics are logged and
// the next task runs. Async tasks start on their own goroutine and
// count against MaxTasksPerIdle without holding the slice open.
package idle
