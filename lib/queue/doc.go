// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue is the bounded, tiered store that holds events between
// classification and delivery.
//
// A [Store] keeps one FIFO per [event.Priority]. The total number of
// records across all tiers never exceeds Config.MaxLength; when an
// insert would cross it, the configured [OverflowPolicy] runs first:
//
//   - DiscardOldest evicts the oldest record of the target tier (or,
//     when that tier is empty, of the least urgent non-empty tier) and
//     accepts the new record.
//   - DiscardNewest rejects the new record with [ErrQueueFull] and
//     leaves the contents unchanged.
//
// Either way an Overflow [Notification] reports the record that was
// lost. Listeners registered with [Store.Subscribe] also see
// ItemAdded, ItemRemoved, and QueueFlushed. Notifications are
// delivered synchronously after the store's lock is released, so a
// listener may call back into the store.
//
// The store never delivers anything itself. [Store.Flush] hands back
// one batch (HIGH before MEDIUM before LOW, bounded by BatchSize) and
// the caller decides how to send it. When started with AutoFlush set,
// the store calls Flush on its own every FlushInterval; consumers see
// those batches through the QueueFlushed notification.
package queue
