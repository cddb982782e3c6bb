// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is an error that selects the process exit code.
type ExitCoder interface {
	ExitCode() int
}

// UsageError reports bad command-line input. It exits with code 2.
type UsageError struct {
	Err error
}

func (err *UsageError) Error() string { return err.Err.Error() }
func (err *UsageError) Unwrap() error { return err.Err }
func (err *UsageError) ExitCode() int { return 2 }

// Usage wraps a formatted message as a UsageError.
func Usage(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// Fatal writes "error: err" to stderr and exits. The code comes from
// an ExitCoder in err's chain, or is 1.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}
