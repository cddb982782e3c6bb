// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs extension code against a restricted global scope.
//
// The central type is [Sandbox], which owns a [Context]: a key-value
// store of dotted property paths ("navigator.userAgent") guarded by an
// allow/deny matcher. Every Get, Set, Has, Delete, and Keys consults the
// matcher before touching the store. Denied reads return (nil, false)
// and denied writes return false; both log a warning and neither
// panics nor returns an error.
//
// Deny entries take three forms:
//
//   - Exact: "document.cookie" blocks that path and everything under
//     it ("document.cookie.length").
//   - Prefix: an entry ending in "." blocks the whole sub-namespace
//     ("localStorage." blocks "localStorage.getItem").
//   - Glob: entries containing "*", "**", or "?" match by pattern. "*"
//     and "?" stay within one path segment, "**" spans segments.
//
// A non-empty allow list inverts the default: paths matching no allow
// entry are blocked too. Values read through the Context never expose
// a denied descendant: a map read at "document" comes back without its
// "cookie" entry. Writes cannot reach a denied path from above either:
// setting or deleting "document" fails while it holds a "cookie", and
// so does setting a map value that would create one.
//
// When a key is missing from the store, a strict sandbox answers
// (nil, false). A non-strict sandbox asks the host's [Globals], after
// the same deny check.
//
// [Sandbox.Run] accepts a Go [Func], invoked with the Context, or a
// JavaScript source string. Scripts run in a fresh goja runtime as the
// body of a function whose only parameters are the visible top-level
// context keys plus args; "this" is the restricted context. Nested
// values are exposed as dynamic objects that route every property
// access back through the matcher. Scripts that run longer than
// Config.ScriptTimeout are interrupted.
//
// The store is snapshotted at construction. [Sandbox.Reset] restores
// the snapshot and AutoRestore does so after every Run, so one
// extension's writes never leak into the next run.
package sandbox
