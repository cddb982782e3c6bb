// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"sync"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/idle"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/queue"
	"github.com/bureau-foundation/webtrack/lib/transport"
	"github.com/bureau-foundation/webtrack/sandbox"
)

// ErrDestroyed is returned by plugin operations on a destroyed
// tracker.
var ErrDestroyed = errors.New("tracker destroyed")

// Tracker is the event pipeline. All methods are safe for concurrent
// use.
type Tracker struct {
	config       Config
	clock        clock.Clock
	logger       *slog.Logger
	host         host.Host
	classifier   *event.Classifier
	selector     transport.Selector
	client       *transport.Client
	store        *queue.Store
	scheduler    *idle.Scheduler
	sandbox      *sandbox.Sandbox
	plugins      *plugin.Manager
	interceptors *interceptor.Registry
	random       func() float64
	stats        counters

	ctx    context.Context
	cancel context.CancelFunc

	removeUnloadHook func()
	unsubscribeQueue func()

	mu        sync.Mutex
	timer     *clock.Timer
	running   bool
	destroyed bool
}

// New validates config and assembles a tracker. The tracker is idle
// until Start arms the periodic flush; Track works before Start.
func New(config Config) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("tracker: invalid config: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Host == nil {
		config.Host = &host.Static{}
	}
	if config.Random == nil {
		config.Random = rand.Float64
	}
	if config.SendTimeout == 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.CriticalTypes == nil {
		config.CriticalTypes = event.DefaultCriticalTypes
	}
	if config.LowPriorityTypes == nil {
		config.LowPriorityTypes = event.DefaultLowPriorityTypes
	}
	strategy, _ := transport.ParseStrategy(string(config.Strategy))
	config.Strategy = strategy
	logger := config.Logger

	client, err := transport.NewClient(transport.Config{
		Endpoint:     config.Endpoint,
		Encoding:     config.Encoding,
		Compression:  config.Compression,
		MaxURLLength: config.MaxURLLength,
		UserAgent:    config.UserAgent,
		HTTPClient:   config.HTTPClient,
		Beaconer:     config.Host.Beaconer(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	sandboxConfig := config.Sandbox
	sandboxConfig.Globals = config.Host.Globals()
	sandboxConfig.Clock = config.Clock
	sandboxConfig.Logger = logger.With("component", "sandbox")
	runner, err := sandbox.New(sandboxConfig)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	// The tracker owns the flush timer so that flushed batches are
	// dispatched, not just dequeued.
	queueConfig := config.Queue
	queueConfig.AutoFlush = false

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		config:     config,
		clock:      config.Clock,
		logger:     logger,
		host:       config.Host,
		classifier: event.NewClassifier(config.CriticalTypes, config.LowPriorityTypes),
		selector: transport.Selector{
			Configured:          config.Strategy,
			BeaconSupported:     client.BeaconSupported(),
			ImageBatchThreshold: config.ImageBatchThreshold,
		},
		client:       client,
		store:        queue.New(queueConfig, config.Clock, logger.With("component", "queue")),
		scheduler:    idle.New(config.Idle, config.Host.IdleRequester(), config.Clock, logger.With("component", "idle")),
		sandbox:      runner,
		interceptors: interceptor.NewRegistry(),
		random:       config.Random,
		ctx:          ctx,
		cancel:       cancel,
	}
	t.plugins = plugin.NewManager(t.pluginContext, runner, logger.With("component", "plugins"))
	t.unsubscribeQueue = t.store.Subscribe(t.observeQueue)
	t.removeUnloadHook = config.Host.OnUnload(t.Unload)
	return t, nil
}

// Track records one event. It never panics into the caller and never
// returns an error: invalid events are dropped with a log line.
func (t *Tracker) Track(eventType, name string, data map[string]any, options ...event.Option) {
	defer func() {
		if r := recover(); r != nil {
			t.stats.dropped.Add(1)
			t.logger.Error("track panicked, event dropped", "event_type", eventType, "panic", r)
		}
	}()

	if t.isDestroyed() {
		t.logger.Debug("track after destroy ignored", "event_type", eventType)
		return
	}

	resolved := event.Apply(options...)
	urgent := t.classifier.Urgent(eventType, resolved.Immediate)
	if !urgent && t.config.SampleRate < 1 && t.random() >= t.config.SampleRate {
		t.stats.sampledOut.Add(1)
		return
	}

	priority := t.classifier.Classify(eventType, resolved.Immediate, resolved.Priority)
	record := event.New(eventType, name, t.mergeGlobal(data), priority, t.clock.Now())
	record.MaxAttempts = t.config.MaxAttempts
	if err := record.Validate(); err != nil {
		t.stats.invalid.Add(1)
		t.logger.Warn("dropping invalid event", "event_type", eventType, "error", err)
		return
	}
	t.stats.tracked.Add(1)

	switch {
	case urgent:
		t.dispatch([]*event.Event{record}, true)
	case priority == event.PriorityLow:
		t.scheduler.AddTask(idle.Task{
			ID:       record.ID,
			Priority: int(priority),
			Execute: func(context.Context) error {
				t.enqueue(record)
				return nil
			},
		})
	default:
		t.enqueue(record)
		if priority == event.PriorityHigh {
			if batch := t.store.FlushTier(event.PriorityHigh); len(batch) > 0 {
				t.dispatch(batch, false)
			}
		}
	}
}

// mergeGlobal returns a copy of data with GlobalData filled in under
// it. The caller keeps ownership of data.
func (t *Tracker) mergeGlobal(data map[string]any) map[string]any {
	copied := event.CopyData(data)
	if len(t.config.GlobalData) == 0 {
		return copied
	}
	merged := event.CopyData(t.config.GlobalData)
	maps.Copy(merged, copied)
	return merged
}

func (t *Tracker) enqueue(record *event.Event) {
	if err := t.store.Enqueue(record); err != nil {
		t.logger.Debug("event not queued", "event_id", record.ID, "error", err)
	}
}

func (t *Tracker) observeQueue(notification queue.Notification) {
	if notification.Kind != queue.Overflow {
		return
	}
	t.stats.overflowed.Add(uint64(len(notification.Events)))
	for _, lost := range notification.Events {
		t.logger.Warn("queue overflow, event discarded",
			"event_id", lost.ID,
			"event_type", lost.Type,
			"priority", notification.Priority,
			"rejected", notification.Rejected,
		)
	}
}

// Flush drains every queued event and dispatches the batches.
func (t *Tracker) Flush() {
	batches := t.store.Drain()
	for _, batch := range batches {
		t.dispatch(batch, false)
	}
	if len(batches) > 0 {
		t.logger.Debug("flushed queue", "batches", len(batches))
	}
}

// Start arms the periodic flush and re-enables the idle scheduler.
// Calling Start on a running tracker is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || t.running {
		return
	}
	t.running = true
	t.scheduler.Start()
	if t.config.Queue.AutoFlush {
		t.timer = t.clock.AfterFunc(t.config.Queue.FlushInterval, t.tick)
	}
}

// Stop cancels the periodic flush and future idle slices. Queued
// events stay queued.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.scheduler.Stop()
}

func (t *Tracker) tick() {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	if !running {
		return
	}

	t.Flush()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.timer = t.clock.AfterFunc(t.config.Queue.FlushInterval, t.tick)
	}
}

// Unload runs the teardown flush: deferred idle work is executed so
// its events reach the queue, then every tier is drained and sent
// with beacon preferred. The host calls it on teardown; calling it
// directly is safe.
func (t *Tracker) Unload() {
	if err := t.scheduler.Drain(t.ctx); err != nil {
		t.logger.Warn("idle drain interrupted during unload", "error", err)
	}
	batches := t.store.Drain()
	for _, batch := range batches {
		t.dispatch(batch, true)
	}
	t.logger.Debug("unload flush complete", "batches", len(batches))
}

// RegisterPlugin registers p and initializes it (and its
// dependencies). The plugin's Init error is returned.
func (t *Tracker) RegisterPlugin(p plugin.Plugin) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}
	if err := t.plugins.Register(p); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return t.plugins.Initialize(p.Name())
}

// UnregisterPlugin destroys and removes a plugin.
func (t *Tracker) UnregisterPlugin(name string) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}
	return t.plugins.Unregister(name)
}

// Plugins describes the registered plugins.
func (t *Tracker) Plugins() []plugin.Descriptor {
	return t.plugins.Plugins()
}

// SubscribePlugins observes plugin state changes.
func (t *Tracker) SubscribePlugins(listener plugin.Listener) (unsubscribe func()) {
	return t.plugins.Subscribe(listener)
}

// SubscribeSandbox observes sandbox activity.
func (t *Tracker) SubscribeSandbox(listener sandbox.Listener) (unsubscribe func()) {
	return t.sandbox.Subscribe(listener)
}

// Interceptors returns the registry plugins install hooks into.
func (t *Tracker) Interceptors() *interceptor.Registry {
	return t.interceptors
}

// Destroy tears the pipeline down: the flush timer stops, the unload
// flush runs, plugins are destroyed in reverse init order,
// interceptors are removed, the sandbox is released, and in-flight
// beacons are awaited when the host supports it. Destroy is
// idempotent; the first call's error is the only one reported.
func (t *Tracker) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.Stop()
	t.removeUnloadHook()
	t.Unload()

	var errs []error
	if err := t.plugins.DestroyAll(); err != nil {
		errs = append(errs, fmt.Errorf("destroying plugins: %w", err))
	}
	if err := t.interceptors.UninstallAll(); err != nil {
		errs = append(errs, fmt.Errorf("removing interceptors: %w", err))
	}
	// Plugin Destroy callbacks may have tracked final events.
	t.Unload()

	t.mu.Lock()
	t.destroyed = true
	t.mu.Unlock()

	t.scheduler.Close()
	t.unsubscribeQueue()
	t.sandbox.Destroy()

	if waiter, ok := t.host.(interface{ Wait(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(t.ctx, t.config.SendTimeout)
		if err := waiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for beacons: %w", err))
		}
		cancel()
	}
	t.cancel()

	if remaining := t.store.Len(); remaining > 0 {
		t.logger.Warn("events left undelivered at destroy", "count", remaining)
		t.store.Clear()
	}
	return errors.Join(errs...)
}

func (t *Tracker) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

func (t *Tracker) pluginContext(p plugin.Plugin) *plugin.Context {
	return &plugin.Context{
		Track:        t.Track,
		Options:      t.config.PluginOptions[p.Name()],
		Logger:       t.logger.With("plugin", p.Name()),
		Scope:        t.sandbox.Context(),
		Sandbox:      t.sandbox,
		Interceptors: t.interceptors,
		Clock:        t.clock,
	}
}
