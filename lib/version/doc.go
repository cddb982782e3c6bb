// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for webtrack binaries and
// the identity the tracker presents to collectors.
//
// Three package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// test runs.
//
//	go build -ldflags "-X github.com/bureau-foundation/webtrack/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
