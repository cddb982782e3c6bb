// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/webtrack/lib/clock"
	"github.com/bureau-foundation/webtrack/lib/config"
	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/host"
	"github.com/bureau-foundation/webtrack/lib/interceptor"
	"github.com/bureau-foundation/webtrack/lib/netutil"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/plugins/behavior"
	"github.com/bureau-foundation/webtrack/lib/plugins/errorcapture"
	"github.com/bureau-foundation/webtrack/lib/plugins/perfcapture"
	"github.com/bureau-foundation/webtrack/lib/plugins/script"
	"github.com/bureau-foundation/webtrack/lib/tracker"
	"github.com/bureau-foundation/webtrack/lib/version"
)

// maxLineSize bounds one stdin event line.
const maxLineSize = 1 << 20

// defaultReloadDelay coalesces the burst of file events an editor
// produces for one save.
const defaultReloadDelay = 100 * time.Millisecond

type agentConfig struct {
	Config *config.Config
	Host   host.Host

	// LogTap is observed by the error-capture plugin. Optional.
	LogTap *interceptor.LogTap

	// ProbeClient carries --probe requests. Defaults to a client
	// with the configured send timeout.
	ProbeClient *http.Client

	// HTTPClient carries deliveries. Optional.
	HTTPClient *http.Client

	ReloadDelay time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// agent wires a tracker to its inputs: stdin lines, script plugins on
// disk, and probe requests.
type agent struct {
	tracker     *tracker.Tracker
	behavior    *behavior.Plugin
	probeClient *http.Client
	builtins    map[string]bool
	reloadDelay time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	scripts map[string]bool
	pending map[string]*clock.Timer
}

func newAgent(ac agentConfig) (*agent, error) {
	if ac.Clock == nil {
		ac.Clock = clock.Real()
	}
	if ac.Logger == nil {
		ac.Logger = slog.Default()
	}
	if ac.ReloadDelay <= 0 {
		ac.ReloadDelay = defaultReloadDelay
	}
	cfg := ac.Config

	trackerConfig := cfg.TrackerConfig()
	trackerConfig.Host = ac.Host
	trackerConfig.HTTPClient = ac.HTTPClient
	trackerConfig.UserAgent = version.UserAgent()
	trackerConfig.Clock = ac.Clock
	trackerConfig.Logger = ac.Logger
	trackerConfig.OnDrop = func(events []*event.Event, err error) {
		ac.Logger.Warn("events dropped after final attempt",
			"count", len(events),
			"ids", event.IDs(events),
			"error", err,
		)
	}

	pipeline, err := tracker.New(trackerConfig)
	if err != nil {
		return nil, err
	}

	probeClient := ac.ProbeClient
	if probeClient == nil {
		probeClient = &http.Client{Timeout: trackerConfig.SendTimeout}
	}

	a := &agent{
		tracker:     pipeline,
		probeClient: probeClient,
		builtins:    make(map[string]bool),
		reloadDelay: ac.ReloadDelay,
		clock:       ac.Clock,
		logger:      ac.Logger,
		scripts:     make(map[string]bool),
		pending:     make(map[string]*clock.Timer),
	}

	if err := a.registerBuiltins(cfg, ac.LogTap); err != nil {
		_ = pipeline.Destroy()
		return nil, err
	}
	if dir := cfg.Plugins.ScriptDir; dir != "" {
		a.loadScripts(dir)
	}
	pipeline.Start()
	return a, nil
}

// registerBuiltins registers the enabled built-in plugins. A built-in
// that fails to initialize is a startup error.
func (a *agent) registerBuiltins(cfg *config.Config, tap *interceptor.LogTap) error {
	ignored := []string{cfg.Endpoint}
	var plugins []plugin.Plugin
	for _, name := range cfg.Plugins.Enabled {
		switch name {
		case errorcapture.Name:
			plugins = append(plugins, errorcapture.New(errorcapture.Config{
				LogTap:            tap,
				LogLevel:          slog.LevelError,
				HTTPClients:       []*http.Client{a.probeClient},
				IgnoreURLPrefixes: ignored,
			}))
		case perfcapture.Name:
			plugins = append(plugins, perfcapture.New(perfcapture.Config{
				HTTPClients:       []*http.Client{a.probeClient},
				IgnoreURLPrefixes: ignored,
			}))
		case behavior.Name:
			a.behavior = behavior.New(behavior.Config{})
			plugins = append(plugins, a.behavior)
		}
	}

	var errs []error
	for _, p := range plugins {
		if err := a.tracker.RegisterPlugin(p); err != nil {
			errs = append(errs, err)
			continue
		}
		a.builtins[p.Name()] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("registering built-in plugins: %w", err)
	}
	return nil
}

func (a *agent) loadScripts(dir string) {
	plugins, err := script.LoadDir(dir)
	if err != nil {
		a.logger.Warn("loading script plugins", "dir", dir, "error", err)
	}
	for _, p := range plugins {
		a.registerScript(p)
	}
}

// registerScript registers or replaces a script plugin. Init failures
// leave the plugin registered in the error state.
func (a *agent) registerScript(p *script.Plugin) {
	name := p.Name()
	if a.builtins[name] {
		a.logger.Warn("script plugin shadows a built-in plugin, skipping", "plugin", name)
		return
	}
	a.mu.Lock()
	a.scripts[name] = true
	a.mu.Unlock()
	if err := a.tracker.RegisterPlugin(p); err != nil {
		a.logger.Warn("script plugin failed to initialize", "plugin", name, "error", err)
		return
	}
	a.logger.Info("script plugin loaded", "plugin", name, "version", p.Version())
}

func (a *agent) unregisterScript(name string) {
	a.mu.Lock()
	registered := a.scripts[name]
	delete(a.scripts, name)
	a.mu.Unlock()
	if !registered {
		return
	}
	if err := a.tracker.UnregisterPlugin(name); err != nil {
		a.logger.Warn("script plugin failed to unload", "plugin", name, "error", err)
		return
	}
	a.logger.Info("script plugin unloaded", "plugin", name)
}

// scriptName maps an init script path to its plugin name.
func scriptName(initPath string) string {
	return strings.TrimSuffix(filepath.Base(initPath), ".js")
}

// inputLine is one stdin event.
type inputLine struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Immediate bool           `json:"immediate"`
	Priority  string         `json:"priority"`
}

// ingest tracks every line of r until EOF or the end of ctx. Malformed
// lines are logged and skipped.
func (a *agent) ingest(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	lineNumber := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := a.handleLine([]byte(line)); err != nil {
			a.logger.Warn("skipping input line", "line", lineNumber, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("line %d: %w", lineNumber+1, err)
	}
	return nil
}

func (a *agent) handleLine(data []byte) error {
	var input inputLine
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	if input.Type == "" {
		return errors.New("event has no type")
	}

	var options []event.Option
	if input.Immediate {
		options = append(options, event.Immediate())
	}
	if input.Priority != "" {
		priority, err := event.ParsePriority(input.Priority)
		if err != nil {
			return err
		}
		options = append(options, event.WithPriority(priority))
	}

	if a.behavior != nil && len(options) == 0 {
		switch input.Type {
		case behavior.PageViewType:
			title, _ := input.Data["title"].(string)
			a.behavior.PageView(input.Name, title, input.Data)
			return nil
		case behavior.ClickType:
			a.behavior.Click(input.Name, input.Data)
			return nil
		case behavior.RouteChangeType:
			a.behavior.RouteChange(input.Name)
			return nil
		}
	}
	a.tracker.Track(input.Type, input.Name, input.Data, options...)
	return nil
}

// probe GETs each target every interval until ctx ends. Results reach
// the pipeline through the plugins instrumenting the probe client.
func (a *agent) probe(ctx context.Context, targets []string, interval time.Duration) {
	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.probeOnce(ctx, targets)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *agent) probeOnce(ctx context.Context, targets []string) {
	for _, target := range targets {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			a.logger.Warn("invalid probe target", "target", target, "error", err)
			continue
		}
		response, err := a.probeClient.Do(request)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Debug("probe failed", "target", target, "error", err)
			}
			continue
		}
		netutil.Discard(response.Body)
		response.Body.Close()
		a.logger.Debug("probe completed", "target", target, "status", response.StatusCode)
	}
}

// close stops pending reloads and destroys the pipeline.
func (a *agent) close() error {
	a.mu.Lock()
	for name, timer := range a.pending {
		timer.Stop()
		delete(a.pending, name)
	}
	a.mu.Unlock()
	return a.tracker.Destroy()
}
