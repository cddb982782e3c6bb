// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/event"
)

// OverflowPolicy selects what happens when the store is full.
type OverflowPolicy string

const (
	// DiscardOldest evicts the oldest record to make room.
	DiscardOldest OverflowPolicy = "discardOldest"

	// DiscardNewest rejects the incoming record.
	DiscardNewest OverflowPolicy = "discardNewest"
)

// ParseOverflowPolicy validates a policy name. The empty string
// selects DiscardOldest.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch OverflowPolicy(name) {
	case "", DiscardOldest:
		return DiscardOldest, nil
	case DiscardNewest:
		return DiscardNewest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", name)
	}
}

// ErrQueueFull is returned by Enqueue under DiscardNewest.
var ErrQueueFull = errors.New("queue full")

// Config sizes the store.
type Config struct {
	// MaxLength caps the total number of records across all tiers.
	MaxLength int

	// BatchSize caps the number of records one Flush returns.
	BatchSize int

	// OverflowPolicy runs when an insert would exceed MaxLength.
	OverflowPolicy OverflowPolicy

	// FlushInterval is the auto-flush period.
	FlushInterval time.Duration

	// AutoFlush enables the internal flush timer once Start is
	// called.
	AutoFlush bool
}

// DefaultConfig returns the standard sizing.
func DefaultConfig() Config {
	return Config{
		MaxLength:      100,
		BatchSize:      10,
		OverflowPolicy: DiscardOldest,
		FlushInterval:  5 * time.Second,
		AutoFlush:      true,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("maxLength must be positive, got %d", c.MaxLength))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batchSize must be positive, got %d", c.BatchSize))
	}
	if _, err := ParseOverflowPolicy(string(c.OverflowPolicy)); err != nil {
		errs = append(errs, err)
	}
	if c.AutoFlush && c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flushInterval must be positive when autoFlush is set, got %v", c.FlushInterval))
	}
	return errors.Join(errs...)
}

// Store is the tiered event queue. All methods are safe for concurrent
// use.
type Store struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	tiers     [len(event.Priorities)][]*event.Event
	listeners map[int]Listener
	nextID    int
	timer     *clock.Timer
	running   bool
	evicted   uint64
	rejected  uint64
}

// New creates a store. It panics on an invalid config; callers
// validate configuration at load time.
func New(config Config, clk clock.Clock, logger *slog.Logger) *Store {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("queue: %v", err))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		config:    config,
		clock:     clk,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Config returns the store's configuration.
func (s *Store) Config() Config { return s.config }

// Enqueue inserts a record at the tail of its tier. Under
// DiscardNewest a full store rejects the record with ErrQueueFull.
func (s *Store) Enqueue(e *event.Event) error {
	if !e.Priority.Valid() {
		return fmt.Errorf("enqueue %s: invalid priority %d", e.ID, int(e.Priority))
	}

	s.mu.Lock()
	var notifications []Notification
	if s.lenLocked() >= s.config.MaxLength {
		if s.config.OverflowPolicy == DiscardNewest {
			s.rejected++
			s.mu.Unlock()
			s.notify(Notification{Kind: Overflow, Priority: e.Priority, Events: []*event.Event{e}, Rejected: true})
			return fmt.Errorf("enqueue %s: %w (max %d)", e.ID, ErrQueueFull, s.config.MaxLength)
		}
		victim, tier := s.evictLocked(e.Priority)
		s.evicted++
		notifications = append(notifications, Notification{Kind: Overflow, Priority: tier, Events: []*event.Event{victim}})
	}
	s.tiers[e.Priority] = append(s.tiers[e.Priority], e)
	s.mu.Unlock()

	notifications = append(notifications, Notification{Kind: ItemAdded, Priority: e.Priority, Events: []*event.Event{e}})
	s.notify(notifications...)
	return nil
}

// evictLocked removes the oldest record of the preferred tier, or of
// the least urgent non-empty tier when the preferred one is empty.
// The store must be non-empty.
func (s *Store) evictLocked(preferred event.Priority) (*event.Event, event.Priority) {
	tier := preferred
	if len(s.tiers[tier]) == 0 {
		for i := len(s.tiers) - 1; i >= 0; i-- {
			if len(s.tiers[i]) > 0 {
				tier = event.Priority(i)
				break
			}
		}
	}
	victim := s.tiers[tier][0]
	s.tiers[tier][0] = nil
	s.tiers[tier] = s.tiers[tier][1:]
	return victim, tier
}

// Dequeue removes and returns up to count of the oldest records in a
// tier.
func (s *Store) Dequeue(tier event.Priority, count int) []*event.Event {
	if !tier.Valid() || count <= 0 {
		return nil
	}
	s.mu.Lock()
	taken := s.takeLocked(tier, count)
	s.mu.Unlock()

	if len(taken) > 0 {
		s.notify(Notification{Kind: ItemRemoved, Priority: tier, Events: taken})
	}
	return taken
}

// Peek returns up to count of the oldest records in a tier without
// removing them. The slice is a copy; the records are shared.
func (s *Store) Peek(tier event.Priority, count int) []*event.Event {
	if !tier.Valid() || count <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.tiers[tier]
	count = min(count, len(queue))
	peeked := make([]*event.Event, count)
	copy(peeked, queue[:count])
	return peeked
}

// FlushTier dequeues one batch from a single tier.
func (s *Store) FlushTier(tier event.Priority) []*event.Event {
	if !tier.Valid() {
		return nil
	}
	s.mu.Lock()
	batch := s.takeLocked(tier, s.config.BatchSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	s.notify(
		Notification{Kind: ItemRemoved, Priority: tier, Events: batch},
		Notification{Kind: QueueFlushed, Priority: tier, Events: batch},
	)
	return batch
}

// Flush dequeues one batch, taking from HIGH, then MEDIUM, then LOW
// until BatchSize records are collected or the store is empty.
func (s *Store) Flush() []*event.Event {
	s.mu.Lock()
	var batch []*event.Event
	var notifications []Notification
	for _, tier := range event.Priorities {
		remaining := s.config.BatchSize - len(batch)
		if remaining <= 0 {
			break
		}
		taken := s.takeLocked(tier, remaining)
		if len(taken) == 0 {
			continue
		}
		batch = append(batch, taken...)
		notifications = append(notifications, Notification{Kind: ItemRemoved, Priority: tier, Events: taken})
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	notifications = append(notifications, Notification{Kind: QueueFlushed, Priority: batch[0].Priority, Events: batch})
	s.notify(notifications...)
	return batch
}

// Drain flushes batches until the store is empty.
func (s *Store) Drain() [][]*event.Event {
	var batches [][]*event.Event
	for {
		batch := s.Flush()
		if batch == nil {
			return batches
		}
		batches = append(batches, batch)
	}
}

func (s *Store) takeLocked(tier event.Priority, count int) []*event.Event {
	queue := s.tiers[tier]
	count = min(count, len(queue))
	if count == 0 {
		return nil
	}
	taken := make([]*event.Event, count)
	copy(taken, queue[:count])
	clear(queue[:count])
	s.tiers[tier] = queue[count:]
	return taken
}

// Len returns the total number of queued records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

func (s *Store) lenLocked() int {
	total := 0
	for _, queue := range s.tiers {
		total += len(queue)
	}
	return total
}

// TierLen returns the number of records queued in one tier.
func (s *Store) TierLen(tier event.Priority) int {
	if !tier.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tiers[tier])
}

// Clear discards every queued record without notification.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tiers {
		clear(s.tiers[i])
		s.tiers[i] = nil
	}
}

// Evicted returns the number of records lost to DiscardOldest.
func (s *Store) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Rejected returns the number of records refused under DiscardNewest.
func (s *Store) Rejected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Start arms the auto-flush timer when AutoFlush is configured.
// Calling Start on a running store is a no-op.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.config.AutoFlush {
		return
	}
	s.running = true
	s.armLocked()
}

// Stop cancels the auto-flush timer. Queued records stay queued.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) armLocked() {
	s.timer = s.clock.AfterFunc(s.config.FlushInterval, s.autoFlush)
}

func (s *Store) autoFlush() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if batch := s.Flush(); batch != nil {
		s.logger.Debug("auto-flushed queue batch", "count", len(batch))
	}

	s.mu.Lock()
	if s.running {
		s.armLocked()
	}
	s.mu.Unlock()
}
