// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package errorcapture reports application failures as "error"
// events: error-level log records seen by a [interceptor.LogTap],
// failed requests made through instrumented HTTP clients, and panics
// and errors handed over explicitly.
//
// Reports are throttled with a token bucket so an error storm cannot
// flood the pipeline.
package errorcapture

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/version"
)

// Name is the plugin's registry name.
const Name = "error-capture"

// EventType is the type of every event this plugin emits.
const EventType = "error"

// Defaults for the report throttle.
const (
	DefaultRateLimit = 10
	DefaultBurst     = 20
)

// Config selects what the plugin observes.
type Config struct {
	// LogTap, when set, is observed for records at or above
	// LogLevel.
	LogTap   *interceptor.LogTap
	LogLevel slog.Level

	// HTTPClients are instrumented for failed requests.
	HTTPClients []*http.Client

	// IgnoreURLPrefixes exempts requests, typically the collector
	// endpoint itself.
	IgnoreURLPrefixes []string
}

// Plugin is the error capture plugin.
type Plugin struct {
	config Config

	mu         sync.Mutex
	ctx        *plugin.Context
	limiter    *rate.Limiter
	installed  []string
	ignored    []string
	suppressed atomic.Uint64
}

// New creates the plugin. LogLevel defaults to slog.LevelError.
func New(config Config) *Plugin {
	return &Plugin{config: config}
}

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version.Version }

// Init installs the configured interceptors. Options "rateLimit"
// (reports per second) and "burst" tune the throttle; "ignoreUrls"
// extends IgnoreURLPrefixes.
func (p *Plugin) Init(ctx *plugin.Context) error {
	limit := ctx.Float("rateLimit", DefaultRateLimit)
	burst := int(ctx.Float("burst", DefaultBurst))
	if limit <= 0 || burst <= 0 {
		return fmt.Errorf("rateLimit and burst must be positive (got %v, %d)", limit, burst)
	}

	p.mu.Lock()
	p.ctx = ctx
	p.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	p.ignored = append(append([]string(nil), p.config.IgnoreURLPrefixes...), ctx.Strings("ignoreUrls")...)
	p.installed = nil
	p.mu.Unlock()

	var hooks []interceptor.Interceptor
	if p.config.LogTap != nil {
		level := p.config.LogLevel
		if level == 0 {
			level = slog.LevelError
		}
		hooks = append(hooks, interceptor.LogObserver(Name+"/log", p.config.LogTap, level, p.observeRecord))
	}
	for i, client := range p.config.HTTPClients {
		hooks = append(hooks, interceptor.HTTPClient(fmt.Sprintf("%s/http-%d", Name, i), client, ctx.Clock, p.observeExchange))
	}
	for _, hook := range hooks {
		if err := ctx.Interceptors.Install(hook); err != nil {
			p.uninstall()
			return err
		}
		p.mu.Lock()
		p.installed = append(p.installed, hook.Name)
		p.mu.Unlock()
	}
	return nil
}

// Destroy removes the plugin's interceptors. Reports made afterwards
// are discarded.
func (p *Plugin) Destroy() error {
	err := p.uninstall()
	p.mu.Lock()
	p.ctx = nil
	p.mu.Unlock()
	return err
}

func (p *Plugin) uninstall() error {
	p.mu.Lock()
	names := p.installed
	p.installed = nil
	ctx := p.ctx
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

// Suppressed returns the number of reports dropped by the throttle.
func (p *Plugin) Suppressed() uint64 {
	return p.suppressed.Load()
}

// Capture reports err. Extra data is merged into the event.
func (p *Plugin) Capture(err error, data map[string]any) {
	if err == nil {
		return
	}
	payload := map[string]any{
		"message": err.Error(),
		"kind":    errorKind(err),
		"source":  "capture",
	}
	for key, value := range data {
		payload[key] = value
	}
	p.report(errorKind(err), payload)
}

// CapturePanic reports a recovered panic value with its stack.
func (p *Plugin) CapturePanic(recovered any, stack []byte) {
	p.report("panic", map[string]any{
		"message": fmt.Sprint(recovered),
		"kind":    "panic",
		"source":  "panic",
		"stack":   string(stack),
	})
}

// Recover reports a panic in the calling goroutine and then re-panics
// with the same value. Use it as
//
//	defer errorPlugin.Recover()
func (p *Plugin) Recover() {
	if recovered := recover(); recovered != nil {
		p.CapturePanic(recovered, debug.Stack())
		panic(recovered)
	}
}

func (p *Plugin) observeRecord(record slog.Record) {
	data := map[string]any{
		"message": record.Message,
		"level":   record.Level.String(),
		"source":  "log",
	}
	record.Attrs(func(attr slog.Attr) bool {
		data[attr.Key] = attr.Value.Resolve().String()
		return true
	})
	p.report("log", data)
}

func (p *Plugin) observeExchange(exchange interceptor.Exchange) {
	if !exchange.Failed() || p.isIgnored(exchange.URL) {
		return
	}
	data := map[string]any{
		"method":      exchange.Method,
		"url":         exchange.URL,
		"status":      exchange.StatusCode,
		"duration_ms": exchange.Duration.Milliseconds(),
		"source":      "http",
	}
	if exchange.Err != nil {
		data["message"] = exchange.Err.Error()
	} else {
		data["message"] = http.StatusText(exchange.StatusCode)
	}
	p.report("http_error", data)
}

func (p *Plugin) isIgnored(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prefix := range p.ignored {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

func (p *Plugin) report(name string, data map[string]any) {
	p.mu.Lock()
	ctx, limiter := p.ctx, p.limiter
	p.mu.Unlock()
	if ctx == nil {
		return
	}
	if !limiter.AllowN(ctx.Clock.Now(), 1) {
		if p.suppressed.Add(1) == 1 {
			ctx.Logger.Warn("error reports throttled")
		}
		return
	}
	ctx.Track(EventType, name, data)
}

// errorKind names the concrete type at the bottom of err's chain, for
// example "*fs.PathError".
func errorKind(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return reflect.TypeOf(err).String()
		}
		err = next
	}
}
