// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

// Options carries per-call tracking choices.
type Options struct {
	// Immediate requests urgent dispatch.
	Immediate bool

	// Priority, when set, overrides classification for non-urgent
	// events.
	Priority *Priority
}

// Option adjusts Options.
type Option func(*Options)

// Immediate requests urgent dispatch, bypassing the queue.
func Immediate() Option {
	return func(options *Options) { options.Immediate = true }
}

// WithPriority places a non-urgent event in a specific tier.
func WithPriority(priority Priority) Option {
	return func(options *Options) { options.Priority = &priority }
}

// Apply folds options into an Options value.
func Apply(options ...Option) Options {
	var result Options
	for _, option := range options {
		if option != nil {
			option(&result)
		}
	}
	return result
}
