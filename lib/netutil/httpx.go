// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads on both sides of the
// collection wire.
//
// Delivery clients only need a collector's response for diagnostics,
// so [ErrorBody] reads at most MaxResponseSize. Collectors read event
// batches with [ReadRequest], which fails rather than truncates when a
// body exceeds its limit: a truncated batch would decode as garbage.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxResponseSize bounds collector response reads. Collectors answer
// with an empty body or a short status document.
const MaxResponseSize int64 = 64 << 10

// MaxRequestSize is the default bound on an incoming batch body.
const MaxRequestSize int64 = 8 << 20

// ErrTooLarge is returned by ReadRequest when a body exceeds its limit.
var ErrTooLarge = errors.New("body exceeds size limit")

// ErrorBody reads a response body for use in an error message. Read
// errors are ignored; a partial body is still useful. Surrounding
// whitespace is trimmed.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return strings.TrimSpace(string(data))
}

// Discard drains and discards a response body up to MaxResponseSize so
// the underlying connection can be reused.
func Discard(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}

// ReadRequest reads an entire request body of at most limit bytes. A
// non-positive limit selects MaxRequestSize.
func ReadRequest(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxRequestSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}
