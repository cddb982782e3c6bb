// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package interceptor installs and removes named observation hooks.
//
// Instrumentation needs to watch things the host application owns: its
// HTTP clients and its log stream. Rather than patching them in place,
// each hook is an [Interceptor] with explicit Install and Uninstall
// steps, registered in a [Registry]. The registry rejects duplicate
// names and removes hooks in reverse install order, so teardown always
// mirrors setup.
//
// Two hook kinds are built in. [HTTPClient] wraps an *http.Client's
// transport with an observing round tripper. [LogObserver] attaches to
// a [LogTap], an slog.Handler the host installs once in front of its
// real handler.
package interceptor
