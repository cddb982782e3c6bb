// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin manages the lifecycle of instrumentation extensions.
//
// A [Plugin] is anything with a unique name, a version, and Init and
// Destroy steps. The [Manager] keeps one instance per name and drives
// each through the state machine
//
//	CREATED -> INITIALIZING -> INITIALIZED
//	(any)   -> DESTROYING   -> DESTROYED
//
// A failing transition leaves the plugin in ERROR and returns the
// plugin's own error (wrapped) to the caller. Failures are isolated:
// InitializeAll keeps going after one plugin fails and reports every
// failure together.
//
// Plugins implementing [Dependent] name other plugins that must be
// initialized first. Dependencies are initialized recursively; a
// missing dependency fails the dependent with [ErrMissingDependency]
// and a loop fails with [ErrDependencyCycle].
//
// Registering a name that is already taken replaces the old instance
// with a warning. If the old instance was initialized it is destroyed
// first, so it never lingers with hooks still installed.
//
// Init and Destroy run through the sandbox runner when one is
// configured, which turns panics into errors and restores the
// restricted scope afterwards.
package plugin
