// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import "sync/atomic"

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Tracked    uint64 `json:"tracked"`
	Sent       uint64 `json:"sent"`
	Retried    uint64 `json:"retried"`
	Dropped    uint64 `json:"dropped"`
	Overflowed uint64 `json:"overflowed"`
	SampledOut uint64 `json:"sampledOut"`
	Invalid    uint64 `json:"invalid"`

	// Queued and IdlePending are gauges.
	Queued      int `json:"queued"`
	IdlePending int `json:"idlePending"`
}

type counters struct {
	tracked    atomic.Uint64
	sent       atomic.Uint64
	retried    atomic.Uint64
	dropped    atomic.Uint64
	overflowed atomic.Uint64
	sampledOut atomic.Uint64
	invalid    atomic.Uint64
}

// Stats returns the current counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Tracked:     t.stats.tracked.Load(),
		Sent:        t.stats.sent.Load(),
		Retried:     t.stats.retried.Load(),
		Dropped:     t.stats.dropped.Load(),
		Overflowed:  t.stats.overflowed.Load(),
		SampledOut:  t.stats.sampledOut.Load(),
		Invalid:     t.stats.invalid.Load(),
		Queued:      t.store.Len(),
		IdlePending: t.scheduler.Len(),
	}
}
