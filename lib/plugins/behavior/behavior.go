// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package behavior records what users do: page views, clicks, route
// changes, custom events, and, through [Plugin.Middleware], the HTTP
// requests a server handles on their behalf.
package behavior

import (
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/version"
)

// Name is the plugin's registry name.
const Name = "behavior"

// Event types emitted by the plugin. PageViewType is critical by
// default.
const (
	PageViewType    = "page_view"
	ClickType       = "click"
	RouteChangeType = "route_change"
	CustomType      = "custom"
	RequestType     = "request"
)

// Config tunes the plugin.
type Config struct {
	// IgnorePaths are request paths the middleware does not record,
	// matched by prefix.
	IgnorePaths []string
}

// Plugin is the behavior capture plugin. Calls made before Init or
// after Destroy are ignored.
type Plugin struct {
	config Config

	mu          sync.Mutex
	ctx         *plugin.Context
	ignorePaths []string
	route       string
}

// New creates the plugin.
func New(config Config) *Plugin {
	return &Plugin{config: config}
}

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return version.Version }

// Init binds the plugin to the pipeline. Option "ignorePaths" extends
// Config.IgnorePaths.
func (p *Plugin) Init(ctx *plugin.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.ignorePaths = append(slices.Clone(p.config.IgnorePaths), ctx.Strings("ignorePaths")...)
	return nil
}

func (p *Plugin) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = nil
	return nil
}

func (p *Plugin) track(eventType, name string, data map[string]any, options ...event.Option) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx != nil {
		ctx.Track(eventType, name, data, options...)
	}
}

// PageView records a page view and makes path the current route.
func (p *Plugin) PageView(path, title string, data map[string]any) {
	payload := map[string]any{"path": path, "title": title}
	for key, value := range data {
		payload[key] = value
	}
	p.mu.Lock()
	if referrer := p.route; referrer != "" {
		payload["referrer"] = referrer
	}
	p.route = path
	p.mu.Unlock()
	p.track(PageViewType, path, payload)
}

// Click records an interaction with target, for example a CSS
// selector or a button label.
func (p *Plugin) Click(target string, data map[string]any) {
	payload := map[string]any{"target": target}
	for key, value := range data {
		payload[key] = value
	}
	p.track(ClickType, target, payload)
}

// RouteChange records client-side navigation. Navigating to the
// current route is not recorded.
func (p *Plugin) RouteChange(to string) {
	p.mu.Lock()
	from := p.route
	if from == to {
		p.mu.Unlock()
		return
	}
	p.route = to
	p.mu.Unlock()
	p.track(RouteChangeType, to, map[string]any{"from": from, "to": to})
}

// Custom records an application-defined event.
func (p *Plugin) Custom(name string, data map[string]any, options ...event.Option) {
	p.track(CustomType, name, data, options...)
}

// Middleware records one "request" event per request served by next.
func (p *Plugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		ctx := p.ctx
		ignored := p.ignored(r.URL.Path)
		p.mu.Unlock()
		if ctx == nil || ignored {
			next.ServeHTTP(w, r)
			return
		}

		start := ctx.Clock.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ctx.Track(RequestType, r.Method+" "+r.URL.Path, map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"bytes":       recorder.written,
			"duration_ms": float64(ctx.Clock.Since(start).Microseconds()) / 1000,
			"user_agent":  r.UserAgent(),
		})
	})
}

func (p *Plugin) ignored(path string) bool {
	for _, prefix := range p.ignorePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (recorder *statusRecorder) WriteHeader(status int) {
	if !recorder.wroteHeader {
		recorder.status = status
		recorder.wroteHeader = true
	}
	recorder.ResponseWriter.WriteHeader(status)
}

func (recorder *statusRecorder) Write(data []byte) (int, error) {
	recorder.wroteHeader = true
	n, err := recorder.ResponseWriter.Write(data)
	recorder.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (recorder *statusRecorder) Unwrap() http.ResponseWriter {
	return recorder.ResponseWriter
}
