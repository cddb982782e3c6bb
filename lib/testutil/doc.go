// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for webtrack packages.
//
// [RequireReceive], [RequireSend], [RequireNoReceive] and
// [RequireClosed] wrap a select with a wall-clock fallback so a broken
// goroutine fails the test instead of hanging it. They are the only
// place tests touch real timeouts; everything else runs on a fake
// clock.
//
// [WriteFile] drops a fixture (a config file, a plugin script) into a
// per-test directory, and [Rewrite] replaces it in place so watchers
// see a write event.
//
// Helpers call t.Fatalf rather than returning errors.
package testutil
