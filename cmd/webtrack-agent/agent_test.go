// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/config"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/plugin"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector records every POSTed batch.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []event.Event
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &batch)
	c.mu.Lock()
	c.events = append(c.events, batch...)
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *collector) received() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func (c *collector) types() []string {
	var types []string
	for _, record := range c.received() {
		types = append(types, record.Type+":"+record.Name)
	}
	return types
}

type fixture struct {
	agent     *agent
	clock     *clock.FakeClock
	collector *collector
}

func newFixture(t *testing.T, adjust func(*config.Config)) *fixture {
	t.Helper()
	c := &collector{}
	server := httptest.NewServer(c)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Endpoint = server.URL + "/collect"
	cfg.Queue.AutoFlush = false
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	fakeClock := clock.Fake(epoch)
	a, err := newAgent(agentConfig{
		Config: cfg,
		Host:   &host.Static{},
		Clock:  fakeClock,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("newAgent: %v", err)
	}
	t.Cleanup(func() { _ = a.close() })
	return &fixture{agent: a, clock: fakeClock, collector: c}
}

func TestNewAgentRegistersEnabledBuiltins(t *testing.T) {
	f := newFixture(t, nil)

	descriptors := f.agent.tracker.Plugins()
	if len(descriptors) != 3 {
		t.Fatalf("plugins = %+v, want 3 built-ins", descriptors)
	}
	for _, descriptor := range descriptors {
		if descriptor.State != plugin.StateInitialized {
			t.Errorf("plugin %s state = %s", descriptor.Name, descriptor.State)
		}
	}
}

func TestIngestRoutesLines(t *testing.T) {
	f := newFixture(t, nil)

	input := strings.Join([]string{
		`{"type": "page_view", "name": "/home", "data": {"title": "Home"}}`,
		`{"type": "page_view", "name": "/cart", "data": {"title": "Cart"}}`,
		`{"type": "route_change", "name": "/cart"}`,
		`{"type": "click", "name": "buy", "data": {"sku": "A1"}}`,
		`{"type":`,
		`{"name": "untyped"}`,
		``,
		`{"type": "signup", "name": "newsletter", "priority": "high"}`,
	}, "\n")

	if err := f.agent.ingest(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.agent.tracker.Flush()

	got := f.collector.types()
	want := []string{"page_view:/home", "page_view:/cart", "signup:newsletter", "click:buy"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("delivered = %v, want %v", got, want)
	}

	events := f.collector.received()
	if events[1].Data["referrer"] != "/home" {
		t.Errorf("second page view referrer = %v, want /home", events[1].Data["referrer"])
	}
	if events[1].Data["title"] != "Cart" {
		t.Errorf("second page view title = %v", events[1].Data["title"])
	}
	if events[3].Data["target"] != "buy" || events[3].Data["sku"] != "A1" {
		t.Errorf("click data = %v", events[3].Data)
	}
}

func TestHandleLineWithoutBehaviorPlugin(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = nil
	})

	if err := f.agent.handleLine([]byte(`{"type": "route_change", "name": "/a", "immediate": true}`)); err != nil {
		t.Fatalf("handleLine: %v", err)
	}
	if got := f.collector.types(); len(got) != 1 || got[0] != "route_change:/a" {
		t.Fatalf("delivered = %v", got)
	}
}

func TestHandleLineErrors(t *testing.T) {
	f := newFixture(t, nil)

	for _, line := range []string{
		`not json`,
		`{"name": "x"}`,
		`{"type": "click", "priority": "urgent"}`,
	} {
		if err := f.agent.handleLine([]byte(line)); err == nil {
			t.Errorf("handleLine(%s) succeeded", line)
		}
	}
}

func TestProbeFailureReportedAsError(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = []string{"error-capture"}
	})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(target.Close)

	f.agent.probeOnce(context.Background(), []string{target.URL + "/healthz"})

	events := f.collector.received()
	if len(events) != 1 || events[0].Type != "error" || events[0].Name != "http_error" {
		t.Fatalf("delivered = %+v", events)
	}
	if status, _ := events[0].Data["status"].(float64); status != http.StatusServiceUnavailable {
		t.Errorf("status = %v", events[0].Data["status"])
	}
}

func writeScript(t *testing.T, path, source string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func pluginState(a *agent, name string) (plugin.State, bool) {
	for _, descriptor := range a.tracker.Plugins() {
		if descriptor.Name == name {
			return descriptor.State, true
		}
	}
	return "", false
}

func TestScriptHotReload(t *testing.T) {
	dir := t.TempDir()
	initPath := filepath.Join(dir, "greeter.js")
	writeScript(t, initPath, "// @version 1.0.0\ntrack('custom', 'hello', {v: 1}, true);\n")

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = nil
		cfg.Plugins.ScriptDir = dir
	})

	if state, ok := pluginState(f.agent, "greeter"); !ok || state != plugin.StateInitialized {
		t.Fatalf("greeter state = %q, %v", state, ok)
	}

	// Adding a destroy script and editing the init script coalesce
	// into one reload.
	writeScript(t, filepath.Join(dir, "greeter.destroy.js"), "track('custom', 'bye', {}, true);\n")
	writeScript(t, initPath, "// @version 2.0.0\ntrack('custom', 'hello', {v: 2}, true);\n")
	f.agent.handleFileEvent(fsnotify.Event{Name: filepath.Join(dir, "greeter.destroy.js"), Op: fsnotify.Create})
	f.agent.handleFileEvent(fsnotify.Event{Name: initPath, Op: fsnotify.Write})
	f.agent.handleFileEvent(fsnotify.Event{Name: initPath, Op: fsnotify.Chmod})
	f.clock.Advance(defaultReloadDelay)

	descriptors := f.agent.tracker.Plugins()
	if len(descriptors) != 1 || descriptors[0].Version != "2.0.0" {
		t.Fatalf("plugins after reload = %+v", descriptors)
	}

	if err := os.Remove(initPath); err != nil {
		t.Fatal(err)
	}
	f.agent.handleFileEvent(fsnotify.Event{Name: initPath, Op: fsnotify.Remove})
	f.clock.Advance(defaultReloadDelay)

	if _, ok := pluginState(f.agent, "greeter"); ok {
		t.Fatal("greeter still registered after its script was removed")
	}

	var versions []any
	var names []string
	for _, record := range f.collector.received() {
		names = append(names, record.Name)
		if record.Name == "hello" {
			versions = append(versions, record.Data["v"])
		}
	}
	if strings.Join(names, ",") != "hello,hello,bye" {
		t.Errorf("script events = %v, want hello,hello,bye", names)
	}
	if len(versions) != 2 || versions[0] != float64(1) || versions[1] != float64(2) {
		t.Errorf("hello versions = %v", versions)
	}
}

func TestScriptCannotShadowBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "behavior.js"), "track('custom', 'imposter', {}, true);\n")

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Plugins.ScriptDir = dir
	})

	if len(f.collector.received()) != 0 {
		t.Fatalf("shadowing script ran: %v", f.collector.types())
	}
	if state, _ := pluginState(f.agent, "behavior"); state != plugin.StateInitialized {
		t.Errorf("behavior state = %s", state)
	}
}

func TestBrokenScriptDoesNotBlockStartup(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "broken.js"), "throw new Error('nope');\n")

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = nil
		cfg.Plugins.ScriptDir = dir
	})

	if state, _ := pluginState(f.agent, "broken"); state != plugin.StateError {
		t.Errorf("broken state = %s, want %s", state, plugin.StateError)
	}
}

func TestNewLogger(t *testing.T) {
	var output bytes.Buffer
	logger, tap, err := newLogger(&output, "json", "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if tap == nil {
		t.Fatal("newLogger returned no tap")
	}
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("output is not one JSON record: %q", output.String())
	}
	if record["msg"] != "shown" || record["key"] != "value" {
		t.Errorf("record = %v", record)
	}

	if _, _, err := newLogger(&output, "xml", "info"); err == nil {
		t.Error("accepted log format xml")
	}
	if _, _, err := newLogger(&output, "text", "loud"); err == nil {
		t.Error("accepted log level loud")
	}
}
