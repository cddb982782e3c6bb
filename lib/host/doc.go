// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package host abstracts the environment the tracker is embedded in.
//
// A [Host] supplies the global scope plugins may read through the
// sandbox, the idle-callback primitive (if any), the beacon primitive
// (if any), and a teardown hook. [Process] is the host for Go
// programs: it exposes navigator-like runtime facts and an allow
// list of environment variables, has no idle primitive, posts beacons
// from goroutines, and fires its unload hooks on SIGINT or SIGTERM.
// [Static] is a hand-assembled host for tests and embedders that
// already own those primitives.
package host
