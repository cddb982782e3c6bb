// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// webtrack-collector is a development collection endpoint. It accepts
// every delivery form the tracker produces, stores the events in
// memory, and exposes them for inspection:
//
//   - POST /collect: a JSON or CBOR batch, optionally zstd or lz4
//     compressed. A digest header, when present, must match the
//     decoded body. Replayed batches (same digest) are acknowledged
//     and not stored twice.
//   - GET /collect?data=: the pixel form. data is base64 JSON; the
//     answer is a 1x1 GIF.
//   - GET /events: stored events as JSON, filtered by ?type= and
//     capped by ?limit=.
//   - DELETE /events: clears the store.
//   - GET /status: counters and uptime.
//
// With --pretty each accepted batch is also printed to stdout.
package main
