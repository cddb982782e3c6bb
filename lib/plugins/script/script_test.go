// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package script

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/plugin"
	"github.com/bureau-foundation/webtrack/lib/testutil"
	"github.com/bureau-foundation/webtrack/sandbox"
)

type tracked struct {
	eventType string
	name      string
	data      map[string]any
	immediate bool
}

func newContext(t *testing.T, options map[string]any) (*plugin.Context, *[]tracked) {
	t.Helper()
	config := sandbox.DefaultConfig()
	config.Context = map[string]any{
		"page":     map[string]any{"title": "Checkout"},
		"document": map[string]any{"cookie": "session=secret"},
	}
	config.ScriptTimeout = 200 * time.Millisecond
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := sandbox.New(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(runner.Destroy)

	var events []tracked
	return &plugin.Context{
		Track: func(eventType, name string, data map[string]any, options ...event.Option) {
			events = append(events, tracked{eventType, name, data, event.Apply(options...).Immediate})
		},
		Options: options,
		Logger:  config.Logger,
		Scope:   runner.Context(),
		Sandbox: runner,
	}, &events
}

func TestInitScriptTracksWithBindings(t *testing.T) {
	ctx, events := newContext(t, map[string]any{"label": "checkout-view"})
	p := New("checkout", `// @version 2.1.0
// @depends behavior, error-capture
console.log("starting", options.label);
track("custom", options.label, {title: page.title, cookie: document.cookie === undefined}, true);
`, "")

	if p.Version() != "2.1.0" || !slices.Equal(p.Dependencies(), []string{"behavior", "error-capture"}) {
		t.Fatalf("header parsed as version=%q deps=%v", p.Version(), p.Dependencies())
	}
	if err := p.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got := *events
	if len(got) != 1 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].eventType != "custom" || got[0].name != "checkout-view" || !got[0].immediate {
		t.Fatalf("event = %+v", got[0])
	}
	if got[0].data["title"] != "Checkout" || got[0].data["cookie"] != true {
		t.Fatalf("data = %v", got[0].data)
	}
}

func TestDestroyScriptRuns(t *testing.T) {
	ctx, events := newContext(t, nil)
	p := New("farewell", `track("custom", "hello")`, `track("custom", "goodbye")`)
	if err := p.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := *events; len(got) != 2 || got[1].name != "goodbye" {
		t.Fatalf("events = %+v", got)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if len(*events) != 2 {
		t.Fatal("destroy script ran twice")
	}
}

func TestScriptErrorsSurface(t *testing.T) {
	ctx, _ := newContext(t, nil)
	if err := New("thrower", `throw new Error("bad config")`, "").Init(ctx); err == nil {
		t.Fatal("expected a script error")
	}

	err := New("spinner", `while (true) {}`, "").Init(ctx)
	if !errors.Is(err, sandbox.ErrScriptTimeout) {
		t.Fatalf("Init of a runaway script = %v", err)
	}
}

func TestLoadAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("beta.js", "// @version 1.0.0\ntrack('custom', 'beta')")
	write("beta.destroy.js", "track('custom', 'beta-bye')")
	write("alpha.js", "track('custom', 'alpha')")
	write("notes.txt", "ignored")

	plugins, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(plugins) != 2 || plugins[0].Name() != "alpha" || plugins[1].Name() != "beta" {
		t.Fatalf("plugins = %v", plugins)
	}
	if plugins[1].Version() != "1.0.0" || plugins[1].destroySource == "" {
		t.Fatalf("beta = %+v", plugins[1])
	}
	if plugins[0].Version() != DefaultVersion {
		t.Fatalf("alpha version = %q", plugins[0].Version())
	}

	if _, err := Load(filepath.Join(dir, "beta.destroy.js")); err == nil {
		t.Fatal("Load accepted a destroy script")
	}
	if got := InitScriptFor(filepath.Join(dir, "beta.destroy.js")); got != filepath.Join(dir, "beta.js") {
		t.Fatalf("InitScriptFor = %q", got)
	}
}

func TestLoadSingleFile(t *testing.T) {
	path := testutil.WriteFile(t, "solo.js", "track('custom', 'solo')")
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "solo" || p.destroySource != "" {
		t.Fatalf("plugin = %+v", p)
	}
}
