// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the tracker to collectors, for example
// "webtrack/0.1.0-dev (linux; amd64)".
func UserAgent() string {
	return fmt.Sprintf("webtrack/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// Print writes "binary version" to stdout, for --version.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}
