// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport chooses how a batch of events leaves the process
// and sends it.
//
// Three delivery strategies exist:
//
//   - [Beacon] hands a JSON body to the host's [Beaconer], a
//     fire-and-forget primitive that survives teardown. It cannot report
//     delivery failure, only refusal.
//   - [XHR] is an ordinary POST whose status is observed. It is the only
//     strategy whose failures are retried by the tracker.
//   - [Image] encodes the batch as base64 JSON in the data query
//     parameter of a GET, the way a tracking pixel does. The response is
//     read only to release the connection; delivery is optimistic.
//
// [Selector] maps urgency and batch size to a strategy. [Client] sends
// and reports which strategy actually carried the batch, since refused
// beacons and oversized pixel URLs fall back to XHR.
package transport
