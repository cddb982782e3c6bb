// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx answer from the collector.
type StatusError struct {
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string
}

func (err *StatusError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("collector returned HTTP %d", err.StatusCode)
	}
	return fmt.Sprintf("collector returned HTTP %d: %s", err.StatusCode, err.Body)
}

// Temporary reports whether the status suggests a later retry could
// succeed: 408, 429, and 5xx.
func (err *StatusError) Temporary() bool {
	return err.StatusCode == 408 || err.StatusCode == 429 || err.StatusCode >= 500
}

// IsStatus reports whether err carries the given collector status.
func IsStatus(err error, code int) bool {
	var statusError *StatusError
	return errors.As(err, &statusError) && statusError.StatusCode == code
}
