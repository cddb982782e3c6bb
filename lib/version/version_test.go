// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfoIncludesBuildVariables(t *testing.T) {
	saved := [...]string{Version, GitCommit, BuildTime}
	defer func() { Version, GitCommit, BuildTime = saved[0], saved[1], saved[2] }()

	Version, GitCommit, BuildTime = "1.2.3", "abc1234", "2026-10-19T00:00:00Z"
	if got := Info(); got != "1.2.3 (abc1234, 2026-10-19T00:00:00Z)" {
		t.Fatalf("Info() = %q", got)
	}
	if !strings.Contains(Full(), runtime.Version()) {
		t.Fatalf("Full() = %q lacks the Go version", Full())
	}
}

func TestUserAgent(t *testing.T) {
	got := UserAgent()
	if !strings.HasPrefix(got, "webtrack/"+Version+" (") || !strings.Contains(got, runtime.GOOS) {
		t.Fatalf("UserAgent() = %q", got)
	}
}
