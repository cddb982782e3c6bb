// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the telemetry event record and the rules that
// assign each record an urgency tier.
//
// An [Event] is created once by the tracker and carries its
// [Priority] for its whole life; only the attempt counter changes,
// when a delivery fails and the record is routed again. Records are
// dropped once Attempts reaches MaxAttempts.
//
// A [Classifier] holds the two configurable type sets: critical types
// (always dispatched immediately, whatever the caller asked for) and
// low-priority types (deferred to idle time). Everything else is
// batched at medium priority.
package event
