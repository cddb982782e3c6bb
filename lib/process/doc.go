// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for webtrack binaries.
// It covers the raw stderr output that happens before a structured
// logger exists, or after main has given up on one.
package process
