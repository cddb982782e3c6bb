// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package behavior

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/plugin"
)

type tracked struct {
	eventType string
	name      string
	data      map[string]any
	options   event.Options
}

func newPlugin(t *testing.T, config Config, options map[string]any) (*Plugin, *[]tracked) {
	t.Helper()
	var events []tracked
	p := New(config)
	err := p.Init(&plugin.Context{
		Track: func(eventType, name string, data map[string]any, opts ...event.Option) {
			events = append(events, tracked{eventType, name, data, event.Apply(opts...)})
		},
		Options: options,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:   clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p, &events
}

func TestPageViewAndRouteChange(t *testing.T) {
	p, events := newPlugin(t, Config{}, nil)

	p.PageView("/home", "Home", map[string]any{"campaign": "spring"})
	p.RouteChange("/home")
	p.RouteChange("/pricing")
	p.PageView("/pricing", "Pricing", nil)

	got := *events
	if len(got) != 3 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].eventType != PageViewType || got[0].data["campaign"] != "spring" || got[0].data["referrer"] != nil {
		t.Fatalf("first page view = %+v", got[0])
	}
	if got[1].eventType != RouteChangeType || got[1].data["from"] != "/home" || got[1].data["to"] != "/pricing" {
		t.Fatalf("route change = %+v", got[1])
	}
	if got[2].data["referrer"] != "/pricing" {
		t.Fatalf("second page view = %+v", got[2])
	}
}

func TestClickAndCustom(t *testing.T) {
	p, events := newPlugin(t, Config{}, nil)
	p.Click("#buy", map[string]any{"x": 10})
	p.Custom("signup", map[string]any{"plan": "pro"}, event.Immediate())

	got := *events
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].eventType != ClickType || got[0].data["target"] != "#buy" || got[0].data["x"] != 10 {
		t.Fatalf("click = %+v", got[0])
	}
	if got[1].eventType != CustomType || !got[1].options.Immediate {
		t.Fatalf("custom = %+v", got[1])
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	p, events := newPlugin(t, Config{IgnorePaths: []string{"/healthz"}}, map[string]any{"ignorePaths": []any{"/metrics"}})
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "hello")
	}))

	for _, path := range []string{"/hello", "/missing", "/healthz", "/metrics"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := *events
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].name != "GET /hello" || got[0].data["status"] != http.StatusOK || got[0].data["bytes"] != int64(5) {
		t.Fatalf("first request = %+v", got[0])
	}
	if got[1].data["status"] != http.StatusNotFound {
		t.Fatalf("second request = %+v", got[1])
	}
}

func TestIgnoredBeforeInitAndAfterDestroy(t *testing.T) {
	p := New(Config{})
	p.Click("#early", nil)
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	p, events := newPlugin(t, Config{}, nil)
	if err := p.Destroy(); err != nil {
		t.Fatal(err)
	}
	p.Click("#late", nil)
	if len(*events) != 0 {
		t.Fatalf("events = %+v", *events)
	}
}
