// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/codec"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/idle"
	"github.com/bureau-foundation/webtrack/lib/queue"
	"github.com/bureau-foundation/webtrack/lib/transport"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// DefaultSendTimeout bounds one dispatch.
const DefaultSendTimeout = 10 * time.Second

// Config holds configuration for creating a Tracker.
type Config struct {
	// Endpoint is the collector URL.
	Endpoint string

	// Strategy is the operator's delivery choice for batched events.
	Strategy transport.Strategy

	// Encoding and Compression shape XHR bodies.
	Encoding    codec.Encoding
	Compression codec.Compression

	// ImageBatchThreshold and MaxURLLength tune the pixel strategy.
	// Auto only picks the pixel for batches larger than the
	// threshold, and batches never exceed Queue.BatchSize, so a
	// threshold at or above the batch size disables it.
	ImageBatchThreshold int
	MaxURLLength        int

	// Queue sizes the priority queue. FlushInterval and AutoFlush
	// drive the tracker's periodic flush.
	Queue queue.Config

	Idle    idle.Config
	Sandbox sandbox.Config

	// CriticalTypes and LowPriorityTypes default to the event
	// package's sets when nil.
	CriticalTypes    []string
	LowPriorityTypes []string

	// SampleRate is the fraction of non-urgent events kept, in
	// (0, 1].
	SampleRate float64

	// GlobalData is merged into every event's data. Event keys win.
	GlobalData map[string]any

	// MaxAttempts caps delivery attempts per event.
	MaxAttempts int

	// SendTimeout bounds each dispatch.
	SendTimeout time.Duration

	// PluginOptions holds each plugin's configuration, keyed by
	// plugin name.
	PluginOptions map[string]map[string]any

	// OnDrop, when set, is told about events dropped after their last
	// failed attempt.
	OnDrop func(events []*event.Event, err error)

	// Host supplies globals, idle and beacon primitives and the
	// unload hook. Defaults to an empty host.Static.
	Host host.Host

	// HTTPClient carries XHR and pixel requests.
	HTTPClient *http.Client

	// UserAgent is sent on XHR and pixel requests.
	UserAgent string

	// Random returns values in [0, 1) for sampling. Defaults to
	// math/rand/v2.
	Random func() float64

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the standard pipeline configuration. Endpoint
// must still be set.
func DefaultConfig() Config {
	return Config{
		Strategy:    transport.Auto,
		Encoding:    codec.EncodingJSON,
		Compression: codec.CompressionNone,
		Queue:       queue.DefaultConfig(),
		Idle:        idle.DefaultConfig(),
		Sandbox:     sandbox.DefaultConfig(),
		SampleRate:  1,
		MaxAttempts: event.DefaultMaxAttempts,
		SendTimeout: DefaultSendTimeout,
	}
}

// Validate reports every configuration error at once.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if _, err := transport.ParseStrategy(string(c.Strategy)); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.ParseEncoding(string(c.Encoding)); err != nil {
		errs = append(errs, err)
	}
	if _, err := codec.ParseCompression(string(c.Compression)); err != nil {
		errs = append(errs, err)
	}
	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	if err := c.Idle.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("idle: %w", err))
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sampleRate must be in (0, 1], got %v", c.SampleRate))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("maxAttempts must be positive, got %d", c.MaxAttempts))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("sendTimeout must not be negative, got %v", c.SendTimeout))
	}
	return errors.Join(errs...)
}
