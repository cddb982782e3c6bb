// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// webtrack-agent runs the event pipeline as a sidecar process.
//
// Events arrive on stdin as JSON lines:
//
//	{"type": "click", "name": "checkout-button", "data": {"step": 2}}
//	{"type": "error", "name": "PaymentDeclined", "immediate": true}
//
// page_view, click, and route_change lines without delivery options
// go through the behavior plugin, which tracks referrers and skips
// repeated route changes. Everything else is tracked directly. When
// stdin closes the agent flushes and exits; with --stdin=false it runs
// until SIGINT or SIGTERM.
//
// Built-in plugins are enabled in the config file. JavaScript plugins
// are loaded from plugins.scriptDir (or --scripts) and, with --watch,
// reloaded whenever a script changes on disk. --probe URL issues
// periodic GET requests through an instrumented client so the
// performance and error-capture plugins report their timing and
// failures.
//
// On a termination signal the agent runs the unload flush (beacons
// first), destroys plugins, and waits for in-flight beacons before
// exiting.
package main
