// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfcapture reports performance data: one "resource" event
// per request made through an instrumented HTTP client, periodic
// runtime samples as "performance" events, and user timings recorded
// with [Plugin.Measure].
//
// Resource events are low priority, so the tracker defers them to
// idle time.
package perfcapture

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/metrics"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/version"
)

// Name is the plugin's registry name.
const Name = "performance"

const (
	ResourceType    = "resource"
	PerformanceType = "performance"
)

// DefaultSampleInterval is the runtime sampling period.
const DefaultSampleInterval = 30 * time.Second

// DefaultMetrics are the runtime/metrics samples reported.
var DefaultMetrics = []string{
	"/sched/goroutines:goroutines",
	"/memory/classes/heap/objects:bytes",
	"/memory/classes/total:bytes",
	"/gc/cycles/total:gc-cycles",
	"/gc/heap/goal:bytes",
}

// Config selects what the plugin measures.
type Config struct {
	// HTTPClients are instrumented for resource timing.
	HTTPClients []*http.Client

	// IgnoreURLPrefixes exempts requests, typically the collector.
	IgnoreURLPrefixes []string

	// SampleInterval overrides DefaultSampleInterval. Negative
	// disables runtime sampling.
	SampleInterval time.Duration

	// Metrics overrides DefaultMetrics.
	Metrics []string
}

// Plugin is the performance capture plugin.
type Plugin struct {
	config Config

	mu        sync.Mutex
	ctx       *plugin.Context
	timer     *clock.Timer
	interval  time.Duration
	samples   []metrics.Sample
	installed []string
	ignored   []string
}

// New creates the plugin.
func New(config Config) *Plugin {
	return &Plugin{config: config}
}

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version.Version }

// Init instruments the HTTP clients and starts runtime sampling.
// Option "sampleInterval" overrides the configured interval.
func (p *Plugin) Init(ctx *plugin.Context) error {
	interval := p.config.SampleInterval
	if interval == 0 {
		interval = DefaultSampleInterval
	}
	interval = ctx.Duration("sampleInterval", interval)

	names := p.config.Metrics
	if len(names) == 0 {
		names = DefaultMetrics
	}
	samples, err := buildSamples(names)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.ctx = ctx
	p.interval = interval
	p.samples = samples
	p.ignored = append(append([]string(nil), p.config.IgnoreURLPrefixes...), ctx.Strings("ignoreUrls")...)
	p.installed = nil
	p.mu.Unlock()

	for i, client := range p.config.HTTPClients {
		hook := interceptor.HTTPClient(fmt.Sprintf("%s/http-%d", Name, i), client, ctx.Clock, p.observeExchange)
		if err := ctx.Interceptors.Install(hook); err != nil {
			p.Destroy()
			return err
		}
		p.mu.Lock()
		p.installed = append(p.installed, hook.Name)
		p.mu.Unlock()
	}

	if interval > 0 {
		p.mu.Lock()
		p.timer = ctx.Clock.AfterFunc(interval, p.tick)
		p.mu.Unlock()
	}
	return nil
}

// buildSamples validates metric names against the runtime's catalogue.
func buildSamples(names []string) ([]metrics.Sample, error) {
	known := make(map[string]bool)
	for _, description := range metrics.All() {
		known[description.Name] = true
	}
	samples := make([]metrics.Sample, 0, len(names))
	for _, name := range names {
		if !known[name] {
			return nil, fmt.Errorf("unknown runtime metric %q", name)
		}
		samples = append(samples, metrics.Sample{Name: name})
	}
	return samples, nil
}

// Destroy stops sampling and removes the interceptors.
func (p *Plugin) Destroy() error {
	p.mu.Lock()
	ctx := p.ctx
	names := p.installed
	p.installed = nil
	p.ctx = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	if ctx == nil {
		return nil
	}

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := ctx.Interceptors.Uninstall(names[i]); err != nil && !errors.Is(err, interceptor.ErrNotInstalled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Measure records a user timing named name, from start to now.
//
//	start := clk.Now()
//	renderInvoice()
//	perf.Measure("render-invoice", start)
func (p *Plugin) Measure(name string, start time.Time) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		return
	}
	ctx.Track(PerformanceType, name, map[string]any{
		"kind":        "measure",
		"duration_ms": durationMillis(ctx.Clock.Since(start)),
	})
}

// Sample reads the runtime metrics now and reports them.
func (p *Plugin) Sample() {
	p.mu.Lock()
	ctx := p.ctx
	samples := p.samples
	p.mu.Unlock()
	if ctx == nil {
		return
	}

	metrics.Read(samples)
	data := map[string]any{"kind": "runtime"}
	for _, sample := range samples {
		key := metricKey(sample.Name)
		switch sample.Value.Kind() {
		case metrics.KindUint64:
			data[key] = sample.Value.Uint64()
		case metrics.KindFloat64:
			data[key] = sample.Value.Float64()
		}
	}
	ctx.Track(PerformanceType, "runtime", data)
}

func (p *Plugin) tick() {
	p.Sample()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil && p.interval > 0 {
		p.timer = p.ctx.Clock.AfterFunc(p.interval, p.tick)
	}
}

func (p *Plugin) observeExchange(exchange interceptor.Exchange) {
	p.mu.Lock()
	ctx := p.ctx
	ignored := p.ignored
	p.mu.Unlock()
	if ctx == nil {
		return
	}
	for _, prefix := range ignored {
		if strings.HasPrefix(exchange.URL, prefix) {
			return
		}
	}
	data := map[string]any{
		"method":      exchange.Method,
		"status":      exchange.StatusCode,
		"duration_ms": durationMillis(exchange.Duration),
		"start":       exchange.Start,
	}
	if exchange.ResponseSize >= 0 {
		data["size"] = exchange.ResponseSize
	}
	ctx.Track(ResourceType, exchange.URL, data)
}

// metricKey turns "/gc/heap/goal:bytes" into "gc_heap_goal_bytes".
func metricKey(name string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "-", "_")
	return strings.TrimPrefix(replacer.Replace(name), "_")
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
