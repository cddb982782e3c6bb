// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector is a fake collection endpoint that records every POSTed
// batch.
type collector struct {
	mu      sync.Mutex
	status  int
	batches [][]event.Event
	methods []string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []event.Event
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &batch)
	}
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.methods = append(c.methods, r.Method)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (c *collector) setStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *collector) requests() [][]event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]event.Event(nil), c.batches...)
}

type beaconRecorder struct {
	mu     sync.Mutex
	bodies [][]event.Event
}

func (b *beaconRecorder) SendBeacon(url, contentType string, body []byte) bool {
	var batch []event.Event
	if err := json.Unmarshal(body, &batch); err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies = append(b.bodies, batch)
	return true
}

func (b *beaconRecorder) sent() [][]event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]event.Event(nil), b.bodies...)
}

type fixture struct {
	tracker   *Tracker
	clock     *clock.FakeClock
	collector *collector
	host      *host.Static
	server    *httptest.Server
}

func newFixture(t *testing.T, adjust func(*Config)) *fixture {
	t.Helper()
	c := &collector{}
	server := httptest.NewServer(c)
	t.Cleanup(server.Close)

	fakeClock := clock.Fake(epoch)
	static := &host.Static{}
	config := DefaultConfig()
	config.Endpoint = server.URL + "/collect"
	config.Host = static
	config.Clock = fakeClock
	config.Logger = discardLogger()
	if adjust != nil {
		adjust(&config)
	}

	tracker, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tracker.Destroy() })
	return &fixture{tracker: tracker, clock: fakeClock, collector: c, host: static, server: server}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.SampleRate = 2
	config.Strategy = "carrier-pigeon"
	_, err := New(config)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, fragment := range []string{"endpoint is required", "sampleRate", "carrier-pigeon"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestCriticalEventAlwaysDispatchedImmediately(t *testing.T) {
	for _, immediate := range []bool{false, true} {
		f := newFixture(t, nil)
		var options []event.Option
		if immediate {
			options = append(options, event.Immediate())
		}
		f.tracker.Track("error", "TypeError", map[string]any{"message": "boom"}, options...)

		requests := f.collector.requests()
		if len(requests) != 1 || len(requests[0]) != 1 || requests[0][0].Type != "error" {
			t.Fatalf("immediate=%v: requests = %+v", immediate, requests)
		}
		if requests[0][0].Priority != event.PriorityHigh {
			t.Errorf("critical event priority = %v, want high", requests[0][0].Priority)
		}
		if f.tracker.Stats().Queued != 0 {
			t.Errorf("critical event was queued")
		}
	}
}

func TestUrgentDispatchPrefersBeacon(t *testing.T) {
	beacons := &beaconRecorder{}
	f := newFixture(t, func(config *Config) {
		config.Host = &host.Static{Beacon: beacons}
	})

	f.tracker.Track("purchase", "order", map[string]any{"total": 42})

	if got := beacons.sent(); len(got) != 1 || got[0][0].Type != "purchase" {
		t.Fatalf("beacons = %+v", got)
	}
	if len(f.collector.requests()) != 0 {
		t.Fatal("urgent event also went over XHR")
	}
}

func TestFailedBatchRetriedThenDropped(t *testing.T) {
	var dropped []*event.Event
	f := newFixture(t, func(config *Config) {
		config.OnDrop = func(events []*event.Event, err error) {
			var status *transport.StatusError
			if !errors.As(err, &status) || status.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("drop cause = %v", err)
			}
			dropped = append(dropped, events...)
		}
	})
	f.collector.setStatus(http.StatusServiceUnavailable)

	for i := range 5 {
		f.tracker.Track("click", "button", map[string]any{"index": i})
	}

	for attempt := 1; attempt <= 2; attempt++ {
		f.tracker.Flush()
		queued := f.tracker.store.Peek(event.PriorityMedium, 10)
		if len(queued) != 5 {
			t.Fatalf("after failure %d: %d events queued, want 5", attempt, len(queued))
		}
		for _, record := range queued {
			if record.Attempts != attempt {
				t.Fatalf("after failure %d: attempts = %d", attempt, record.Attempts)
			}
		}
	}

	f.tracker.Flush()
	if f.tracker.Stats().Queued != 0 {
		t.Fatal("events re-queued after the final attempt")
	}
	if len(dropped) != 5 {
		t.Fatalf("dropped %d events, want 5", len(dropped))
	}
	for _, record := range dropped {
		if record.Attempts != 3 {
			t.Errorf("dropped event attempts = %d, want 3", record.Attempts)
		}
	}

	f.tracker.Flush()
	if got := len(f.collector.requests()); got != 3 {
		t.Fatalf("collector saw %d requests, want 3", got)
	}
	stats := f.tracker.Stats()
	if stats.Retried != 10 || stats.Dropped != 5 || stats.Sent != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFailedCriticalEventRetriesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.collector.setStatus(http.StatusBadGateway)

	f.tracker.Track("error", "ReferenceError", nil)

	if got := len(f.collector.requests()); got != 3 {
		t.Fatalf("collector saw %d attempts, want 3", got)
	}
	if stats := f.tracker.Stats(); stats.Dropped != 1 || stats.Queued != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCriticalBeforePeriodicFlush(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.Queue.MaxLength = 10
	})
	f.tracker.Start()

	f.tracker.Track("error", "boom", nil)
	f.tracker.Track("pageView", "/home", nil)

	requests := f.collector.requests()
	if len(requests) != 1 || requests[0][0].Type != "error" {
		t.Fatalf("before any flush: requests = %+v", requests)
	}
	if f.tracker.Stats().Queued != 1 {
		t.Fatalf("pageView not queued")
	}

	f.clock.Advance(4 * time.Second)
	if len(f.collector.requests()) != 1 {
		t.Fatal("queued event sent before the flush interval")
	}

	f.clock.Advance(time.Second)
	requests = f.collector.requests()
	if len(requests) != 2 || requests[1][0].Type != "pageView" {
		t.Fatalf("after flush interval: requests = %+v", requests)
	}
}

func TestExplicitFlushSendsQueued(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Track("pageView", "/pricing", nil)
	if len(f.collector.requests()) != 0 {
		t.Fatal("batched event sent early")
	}
	f.tracker.Flush()
	if requests := f.collector.requests(); len(requests) != 1 || requests[0][0].Name != "/pricing" {
		t.Fatalf("requests = %+v", requests)
	}
}

func TestStopCancelsPeriodicFlush(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Start()
	f.tracker.Track("click", "nav", nil)
	f.tracker.Stop()

	f.clock.Advance(time.Minute)
	if len(f.collector.requests()) != 0 {
		t.Fatal("flush ran after Stop")
	}
	if f.tracker.Stats().Queued != 1 {
		t.Fatal("Stop discarded queued events")
	}
}

func TestLowPriorityGoesThroughIdle(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Track("resource", "/app.js", map[string]any{"duration": 12})

	if stats := f.tracker.Stats(); stats.IdlePending != 1 || stats.Queued != 0 {
		t.Fatalf("before idle slice: stats = %+v", stats)
	}

	f.clock.Advance(time.Millisecond)
	if f.tracker.store.TierLen(event.PriorityLow) != 1 {
		t.Fatal("idle slice did not enqueue the low-priority event")
	}
}

func TestExplicitHighPriorityFlushesTier(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Track("click", "checkout-button", nil, event.WithPriority(event.PriorityHigh))

	requests := f.collector.requests()
	if len(requests) != 1 || requests[0][0].Priority != event.PriorityHigh {
		t.Fatalf("requests = %+v", requests)
	}
}

func TestUnloadDrainsIdleAndQueueViaBeacon(t *testing.T) {
	beacons := &beaconRecorder{}
	static := &host.Static{Beacon: beacons}
	f := newFixture(t, func(config *Config) { config.Host = static })

	f.tracker.Track("click", "nav", nil)
	f.tracker.Track("resource", "/font.woff", nil)
	static.Unload()

	sent := beacons.sent()
	if len(sent) != 1 || len(sent[0]) != 2 {
		t.Fatalf("beacons = %+v", sent)
	}
	if sent[0][0].Type != "click" || sent[0][1].Type != "resource" {
		t.Fatalf("unload batch order = %s, %s", sent[0][0].Type, sent[0][1].Type)
	}
	if stats := f.tracker.Stats(); stats.Queued != 0 || stats.IdlePending != 0 {
		t.Fatalf("stats after unload = %+v", stats)
	}
}

func TestSamplingSparesUrgentEvents(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.SampleRate = 0.5
		config.Random = func() float64 { return 0.9 }
	})

	f.tracker.Track("click", "nav", nil)
	f.tracker.Track("error", "boom", nil)

	stats := f.tracker.Stats()
	if stats.SampledOut != 1 || stats.Tracked != 1 || stats.Sent != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGlobalDataMerged(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.GlobalData = map[string]any{"app": "shop", "release": "1.0"}
	})

	f.tracker.Track("click", "nav", map[string]any{"release": "2.0"})
	queued := f.tracker.store.Peek(event.PriorityMedium, 1)
	if len(queued) != 1 {
		t.Fatal("event not queued")
	}
	data := queued[0].Data
	if data["app"] != "shop" || data["release"] != "2.0" {
		t.Fatalf("data = %v", data)
	}
}

func TestTrackCopiesCallerData(t *testing.T) {
	for _, global := range []map[string]any{nil, {"app": "shop"}} {
		f := newFixture(t, func(config *Config) { config.GlobalData = global })

		data := map[string]any{"step": 1, "form": map[string]any{"field": "email"}}
		f.tracker.Track("click", "buy", data)
		data["step"] = 99
		data["password"] = "leaked"
		data["form"].(map[string]any)["field"] = "password"
		f.tracker.Flush()

		requests := f.collector.requests()
		if len(requests) != 1 || len(requests[0]) != 1 {
			t.Fatalf("requests = %+v", requests)
		}
		delivered := requests[0][0].Data
		if delivered["step"] != float64(1) {
			t.Errorf("step = %v, want 1", delivered["step"])
		}
		if _, ok := delivered["password"]; ok {
			t.Errorf("key added after Track was delivered: %v", delivered)
		}
		if field := delivered["form"].(map[string]any)["field"]; field != "email" {
			t.Errorf("form.field = %v, want email", field)
		}
	}
}

func TestAutoStrategySendsFullBatchByPixel(t *testing.T) {
	f := newFixture(t, nil)
	for i := range f.tracker.config.Queue.BatchSize {
		f.tracker.Track("click", fmt.Sprintf("item-%d", i), nil)
	}
	f.tracker.Track("click", "straggler", nil)
	f.tracker.Flush()

	f.collector.mu.Lock()
	methods := slices.Clone(f.collector.methods)
	f.collector.mu.Unlock()
	if !slices.Equal(methods, []string{http.MethodGet, http.MethodPost}) {
		t.Fatalf("methods = %v, want a pixel GET for the full batch then a POST", methods)
	}
}

func TestInvalidEventDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Track("", "nameless", nil)
	f.tracker.Track("custom", "bad", map[string]any{"fn": func() {}})

	stats := f.tracker.Stats()
	if stats.Invalid != 2 || stats.Tracked != 0 || stats.Queued != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestOverflowCounted(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.Queue.MaxLength = 2
	})
	for range 3 {
		f.tracker.Track("click", "nav", nil)
	}
	stats := f.tracker.Stats()
	if stats.Overflowed != 1 || stats.Queued != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

type recordingPlugin struct {
	name      string
	initErr   error
	ctx       *plugin.Context
	destroyed int
}

func (p *recordingPlugin) Name() string    { return p.name }
func (p *recordingPlugin) Version() string { return "1.0.0" }

func (p *recordingPlugin) Init(ctx *plugin.Context) error {
	p.ctx = ctx
	if p.initErr != nil {
		return p.initErr
	}
	return ctx.Interceptors.Install(interceptor.Interceptor{
		Name:      p.name + "-hook",
		Install:   func() error { return nil },
		Uninstall: func() error { return nil },
	})
}

func (p *recordingPlugin) Destroy() error {
	p.destroyed++
	p.ctx.Track("custom", p.name+"-goodbye", nil)
	return nil
}

func TestRegisterPluginInitializesWithContext(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.PluginOptions = map[string]map[string]any{"recorder": {"sample": true}}
	})
	p := &recordingPlugin{name: "recorder"}
	if err := f.tracker.RegisterPlugin(p); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	if p.ctx == nil || p.ctx.Options["sample"] != true {
		t.Fatalf("plugin context options = %+v", p.ctx)
	}

	p.ctx.Track("click", "from-plugin", nil)
	if f.tracker.Stats().Queued != 1 {
		t.Fatal("plugin Track did not reach the queue")
	}
	if installed := f.tracker.Interceptors().Installed(); len(installed) != 1 {
		t.Fatalf("installed = %v", installed)
	}
}

func TestRegisterPluginReturnsInitError(t *testing.T) {
	f := newFixture(t, nil)
	failure := errors.New("init exploded")
	err := f.tracker.RegisterPlugin(&recordingPlugin{name: "broken", initErr: failure})
	if !errors.Is(err, failure) {
		t.Fatalf("RegisterPlugin error = %v", err)
	}
	plugins := f.tracker.Plugins()
	if len(plugins) != 1 || plugins[0].State != plugin.StateError {
		t.Fatalf("plugins = %+v", plugins)
	}
}

func TestDestroyTearsDownEverything(t *testing.T) {
	f := newFixture(t, nil)
	p := &recordingPlugin{name: "recorder"}
	if err := f.tracker.RegisterPlugin(p); err != nil {
		t.Fatal(err)
	}
	f.tracker.Track("click", "nav", nil)

	if err := f.tracker.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if p.destroyed != 1 {
		t.Fatalf("plugin destroyed %d times", p.destroyed)
	}
	if installed := f.tracker.Interceptors().Installed(); len(installed) != 0 {
		t.Fatalf("interceptors left installed: %v", installed)
	}

	var names []string
	for _, batch := range f.collector.requests() {
		for _, record := range batch {
			names = append(names, record.Name)
		}
	}
	if len(names) != 2 || names[0] != "nav" || names[1] != "recorder-goodbye" {
		t.Fatalf("delivered = %v", names)
	}

	f.tracker.Track("click", "late", nil)
	if f.tracker.Stats().Tracked != 2 {
		t.Fatal("Track after Destroy was recorded")
	}
	if err := f.tracker.RegisterPlugin(&recordingPlugin{name: "late"}); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("RegisterPlugin after Destroy = %v", err)
	}
	if err := f.tracker.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestUnregisterPlugin(t *testing.T) {
	f := newFixture(t, nil)
	p := &recordingPlugin{name: "recorder"}
	if err := f.tracker.RegisterPlugin(p); err != nil {
		t.Fatal(err)
	}
	if err := f.tracker.UnregisterPlugin("recorder"); err != nil {
		t.Fatalf("UnregisterPlugin: %v", err)
	}
	if p.destroyed != 1 || len(f.tracker.Plugins()) != 0 {
		t.Fatalf("destroyed=%d plugins=%v", p.destroyed, f.tracker.Plugins())
	}
	if err := f.tracker.UnregisterPlugin("recorder"); !errors.Is(err, plugin.ErrNotFound) {
		t.Fatalf("second UnregisterPlugin = %v", err)
	}
}
