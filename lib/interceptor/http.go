// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
)

// Exchange describes one observed HTTP round trip.
type Exchange struct {
	Method string
	URL    string

	// StatusCode is zero when the round trip failed.
	StatusCode int

	// Err is the transport error, if any.
	Err error

	// ResponseSize is the Content-Length of the response, or -1 when
	// unknown.
	ResponseSize int64

	Start    time.Time
	Duration time.Duration
}

// Failed reports whether the exchange failed at the transport or
// returned a 4xx/5xx status.
func (exchange Exchange) Failed() bool {
	return exchange.Err != nil || exchange.StatusCode >= 400
}

// observingTransport reports every round trip to observe. After
// uninstall it is a plain pass-through, so wrappers installed later on
// the same client keep working.
type observingTransport struct {
	next     http.RoundTripper
	observe  func(Exchange)
	clock    clock.Clock
	disabled atomic.Bool
}

func (transport *observingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if transport.disabled.Load() {
		return transport.next.RoundTrip(request)
	}
	start := transport.clock.Now()
	response, err := transport.next.RoundTrip(request)
	exchange := Exchange{
		Method:       request.Method,
		URL:          redact(request),
		Err:          err,
		ResponseSize: -1,
		Start:        start,
		Duration:     transport.clock.Since(start),
	}
	if response != nil {
		exchange.StatusCode = response.StatusCode
		exchange.ResponseSize = response.ContentLength
	}
	transport.observe(exchange)
	return response, err
}

// redact drops query and credentials from the observed URL.
func redact(request *http.Request) string {
	if request.URL == nil {
		return ""
	}
	stripped := *request.URL
	stripped.User = nil
	stripped.RawQuery = ""
	stripped.Fragment = ""
	return stripped.String()
}

// HTTPClient returns an interceptor that wraps client's transport and
// reports each round trip to observe. A nil transport is treated as
// http.DefaultTransport. Uninstall restores the previous transport
// when nothing else has wrapped the client since; otherwise the
// wrapper stays in place as a pass-through.
func HTTPClient(name string, client *http.Client, clk clock.Clock, observe func(Exchange)) Interceptor {
	var installed *observingTransport
	return Interceptor{
		Name: name,
		Install: func() error {
			if client == nil {
				return fmt.Errorf("nil http client")
			}
			next := client.Transport
			if next == nil {
				next = http.DefaultTransport
			}
			installed = &observingTransport{next: next, observe: observe, clock: clk}
			client.Transport = installed
			return nil
		},
		Uninstall: func() error {
			if installed == nil {
				return nil
			}
			installed.disabled.Store(true)
			if client.Transport == installed {
				client.Transport = installed.next
				if installed.next == http.DefaultTransport {
					client.Transport = nil
				}
			}
			installed = nil
			return nil
		},
	}
}
