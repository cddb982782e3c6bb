// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package script runs JavaScript plugins inside the tracker's
// sandbox.
//
// A script plugin is a file NAME.js holding the init body and an
// optional NAME.destroy.js holding the destroy body. Each body runs
// as a function in a fresh engine with these bindings:
//
//	track(type, name, data, immediate)
//	console.log(...), console.warn(...), console.error(...)
//	options   // the plugin's configuration slice
//
// plus every key of the restricted global scope. Header comments
// declare metadata:
//
//	// @version 1.2.0
//	// @depends behavior, error-capture
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/webtrack/lib/event"
	"github.com/bureau-foundation/webtrack/lib/plugin"
)

// DefaultVersion is used when a script declares none.
const DefaultVersion = "0.0.0"

const (
	extension        = ".js"
	destroyExtension = ".destroy.js"
)

// prelude binds the API object passed as the first argument.
const prelude = "var track = args[0].track, console = args[0].console, options = args[0].options;\n"

// Plugin is a JavaScript plugin.
type Plugin struct {
	name          string
	version       string
	dependencies  []string
	initSource    string
	destroySource string

	mu  sync.Mutex
	ctx *plugin.Context
}

// New builds a plugin from sources. destroySource may be empty.
func New(name, initSource, destroySource string) *Plugin {
	p := &Plugin{
		name:          name,
		version:       DefaultVersion,
		initSource:    initSource,
		destroySource: destroySource,
	}
	p.parseHeader(initSource)
	return p
}

// Load reads NAME.js and, when present, NAME.destroy.js.
func Load(path string) (*Plugin, error) {
	if !strings.HasSuffix(path, extension) || strings.HasSuffix(path, destroyExtension) {
		return nil, fmt.Errorf("script: %s is not a plugin init script", path)
	}
	initSource, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	base := strings.TrimSuffix(path, extension)
	destroySource, err := os.ReadFile(base + destroyExtension)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("script: %w", err)
	}
	return New(filepath.Base(base), string(initSource), string(destroySource)), nil
}

// LoadDir loads every plugin in dir, sorted by name.
func LoadDir(dir string) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	var plugins []*Plugin
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !IsInitScript(name) {
			continue
		}
		p, err := Load(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plugins = append(plugins, p)
	}
	slices.SortFunc(plugins, func(a, b *Plugin) int { return strings.Compare(a.name, b.name) })
	return plugins, errors.Join(errs...)
}

// IsInitScript reports whether a file name is a plugin's init script.
func IsInitScript(name string) bool {
	return strings.HasSuffix(name, extension) && !strings.HasSuffix(name, destroyExtension)
}

// InitScriptFor maps a plugin's init or destroy file to its init
// script path.
func InitScriptFor(path string) string {
	if strings.HasSuffix(path, destroyExtension) {
		return strings.TrimSuffix(path, destroyExtension) + extension
	}
	return path
}

func (p *Plugin) parseHeader(source string) {
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		comment, ok := strings.CutPrefix(line, "//")
		if !ok {
			return
		}
		directive, value, _ := strings.Cut(strings.TrimSpace(comment), " ")
		value = strings.TrimSpace(value)
		switch directive {
		case "@version":
			if value != "" {
				p.version = value
			}
		case "@depends":
			for _, dependency := range strings.Split(value, ",") {
				if dependency = strings.TrimSpace(dependency); dependency != "" {
					p.dependencies = append(p.dependencies, dependency)
				}
			}
		}
	}
}

func (p *Plugin) Name() string    { return p.name }
func (p *Plugin) Version() string { return p.version }

// Dependencies returns the names declared with @depends.
func (p *Plugin) Dependencies() []string { return p.dependencies }

// Init runs the init script.
func (p *Plugin) Init(ctx *plugin.Context) error {
	if ctx.Sandbox == nil {
		return fmt.Errorf("script %q: no sandbox in plugin context", p.name)
	}
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	return p.run(ctx, p.initSource)
}

// Destroy runs the destroy script, if any.
func (p *Plugin) Destroy() error {
	p.mu.Lock()
	ctx := p.ctx
	p.ctx = nil
	p.mu.Unlock()
	if ctx == nil || strings.TrimSpace(p.destroySource) == "" {
		return nil
	}
	return p.run(ctx, p.destroySource)
}

func (p *Plugin) run(ctx *plugin.Context, source string) error {
	_, err := ctx.Sandbox.Run(prelude+source, p.api(ctx))
	if err != nil {
		return fmt.Errorf("script %q: %w", p.name, err)
	}
	return nil
}

// api is the object scripts receive as args[0].
func (p *Plugin) api(ctx *plugin.Context) map[string]any {
	logger := ctx.Logger.With("script", p.name)
	logAt := func(log func(string, ...any)) func(...any) {
		return func(values ...any) {
			log(strings.TrimSuffix(fmt.Sprintln(values...), "\n"))
		}
	}
	options := ctx.Options
	if options == nil {
		options = map[string]any{}
	}
	return map[string]any{
		"track": func(eventType, name string, data map[string]any, immediate bool) {
			var trackOptions []event.Option
			if immediate {
				trackOptions = append(trackOptions, event.Immediate())
			}
			ctx.Track(eventType, name, data, trackOptions...)
		},
		"console": map[string]any{
			"log":   logAt(logger.Info),
			"warn":  logAt(logger.Warn),
			"error": logAt(logger.Error),
		},
		"options": options,
	}
}
