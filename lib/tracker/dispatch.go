// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"context"

	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/transport"
)

// dispatch sends one batch synchronously. Only XHR failures are
// retried; beacon and pixel delivery are fire-and-forget.
func (t *Tracker) dispatch(events []*event.Event, urgent bool) {
	strategy := t.selector.Select(urgent, len(events))

	ctx, cancel := context.WithTimeout(t.ctx, t.config.SendTimeout)
	used, err := t.client.Send(ctx, events, strategy)
	cancel()

	if err == nil {
		t.stats.sent.Add(uint64(len(events)))
		t.logger.Debug("dispatched batch",
			"count", len(events),
			"strategy", used,
			"urgent", urgent,
		)
		return
	}

	if used != transport.XHR {
		t.drop(events, err)
		return
	}
	t.logger.Warn("batch delivery failed",
		"count", len(events),
		"strategy", used,
		"error", err,
	)
	t.retry(events, err)
}

// retry charges one attempt to each event and routes the survivors
// again: critical types go straight back to dispatch, the rest return
// to the queue.
func (t *Tracker) retry(events []*event.Event, cause error) {
	var exhausted, immediate []*event.Event
	for _, record := range events {
		record.Attempts++
		if record.Exhausted() {
			exhausted = append(exhausted, record)
			continue
		}
		t.stats.retried.Add(1)
		if t.classifier.IsCritical(record.Type) {
			immediate = append(immediate, record)
			continue
		}
		t.enqueue(record)
	}

	if len(exhausted) > 0 {
		t.drop(exhausted, cause)
	}
	if len(immediate) > 0 {
		t.dispatch(immediate, true)
	}
}

func (t *Tracker) drop(events []*event.Event, cause error) {
	t.stats.dropped.Add(uint64(len(events)))
	t.logger.Error("dropping undeliverable events",
		"count", len(events),
		"event_ids", event.IDs(events),
		"error", cause,
	)
	if t.config.OnDrop != nil {
		t.config.OnDrop(events, cause)
	}
}
