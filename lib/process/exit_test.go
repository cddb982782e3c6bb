// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantCode: 1,
			wantText: "error: boom\n",
		},
		{
			name:     "usage error",
			err:      Usage("unexpected argument: %s", "extra"),
			wantCode: 2,
			wantText: "error: unexpected argument: extra\n",
		},
		{
			name:     "wrapped usage error",
			err:      fmt.Errorf("parsing flags: %w", Usage("bad flag")),
			wantCode: 2,
			wantText: "error: parsing flags: bad flag\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			code := report(&output, tt.err)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if output.String() != tt.wantText {
				t.Errorf("output = %q, want %q", output.String(), tt.wantText)
			}
		})
	}
}
