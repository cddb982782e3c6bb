// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Globals is the host's real global scope.
type Globals interface {
	// Lookup resolves a dotted path.
	Lookup(path string) (any, bool)
}

// MapGlobals serves lookups from nested maps.
type MapGlobals map[string]any

// Lookup resolves a dotted path by walking nested maps.
func (globals MapGlobals) Lookup(path string) (any, bool) {
	return lookupPath(globals, path)
}

// Context is the restricted global scope. All methods are safe for
// concurrent use.
type Context struct {
	matcher *matcher
	strict  bool
	globals Globals
	logger  *slog.Logger

	mu    sync.Mutex
	store map[string]any
}

func newContext(m *matcher, strict bool, globals Globals, seed map[string]any, logger *slog.Logger) *Context {
	scope := &Context{
		matcher: m,
		strict:  strict,
		globals: globals,
		logger:  logger,
		store:   make(map[string]any),
	}
	// Seeds bypass the matcher: the host decides what it hands over,
	// reads are still filtered.
	for _, key := range slices.Sorted(maps.Keys(seed)) {
		setPath(scope.store, key, deepCopy(seed[key]))
	}
	return scope
}

// Get reads a dotted path. Map values are returned as copies with
// denied descendants removed.
func (c *Context) Get(path string) (any, bool) {
	if c.matcher.blocked(path) {
		c.logger.Warn("sandbox blocked read", "path", path)
		return nil, false
	}

	c.mu.Lock()
	if c.store == nil {
		c.mu.Unlock()
		return nil, false
	}
	value, ok := lookupPath(c.store, path)
	if ok {
		value = c.prune(path, deepCopy(value))
	}
	c.mu.Unlock()

	if ok {
		return value, true
	}
	if c.strict || c.globals == nil {
		return nil, false
	}
	value, ok = c.globals.Lookup(path)
	if !ok {
		return nil, false
	}
	return c.prune(path, deepCopy(value)), true
}

// Set writes a dotted path, creating intermediate maps. It reports
// false when the path is blocked, crosses a non-map value, or when the
// new or replaced value holds a denied entry.
func (c *Context) Set(path string, value any) bool {
	if path == "" {
		return false
	}
	if c.matcher.blocked(path) || c.matcher.deniedWithin(path, value) {
		c.logger.Warn("sandbox blocked write", "path", path)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	if current, ok := lookupPath(c.store, path); ok && c.matcher.deniedWithin(path, current) {
		c.logger.Warn("sandbox blocked write over denied entries", "path", path)
		return false
	}
	return setPath(c.store, path, value)
}

// Has reports whether a path is accessible and present in the store.
// Host globals are not consulted.
func (c *Context) Has(path string) bool {
	if c.matcher.blocked(path) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	_, ok := lookupPath(c.store, path)
	return ok
}

// Delete removes a path. It reports false when the path is blocked,
// absent, or holds a denied entry.
func (c *Context) Delete(path string) bool {
	if c.matcher.blocked(path) {
		c.logger.Warn("sandbox blocked delete", "path", path)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	parent, leaf := splitParent(path)
	container := c.store
	if parent != "" {
		value, ok := lookupPath(c.store, parent)
		if !ok {
			return false
		}
		container, ok = value.(map[string]any)
		if !ok {
			return false
		}
	}
	current, ok := container[leaf]
	if !ok {
		return false
	}
	if c.matcher.deniedWithin(path, current) {
		c.logger.Warn("sandbox blocked delete over denied entries", "path", path)
		return false
	}
	delete(container, leaf)
	return true
}

// Keys returns the visible top-level keys in sorted order.
func (c *Context) Keys() []string {
	return c.ChildKeys("")
}

// ChildKeys returns the visible keys directly under a dotted path, in
// sorted order.
func (c *Context) ChildKeys(path string) []string {
	if path != "" && !c.matcher.visible(path) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	container := c.store
	if path != "" {
		value, ok := lookupPath(c.store, path)
		if !ok {
			return nil
		}
		container, ok = value.(map[string]any)
		if !ok {
			return nil
		}
	}
	var keys []string
	for key := range container {
		if c.matcher.visible(join(path, key)) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// isContainer reports whether the store holds a map at path, without
// consulting the matcher.
func (c *Context) isContainer(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return false
	}
	value, ok := lookupPath(c.store, path)
	if !ok {
		return false
	}
	_, isMap := value.(map[string]any)
	return isMap
}

// snapshot returns a deep copy of the store.
func (c *Context) snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCopy(c.store).(map[string]any)
}

func (c *Context) restore(snapshot map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return
	}
	c.store = deepCopy(snapshot).(map[string]any)
}

func (c *Context) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = nil
}

// prune removes denied descendants from a copied value in place.
func (c *Context) prune(path string, value any) any {
	nested, ok := value.(map[string]any)
	if !ok {
		return value
	}
	for key, child := range nested {
		childPath := join(path, key)
		if !c.matcher.visible(childPath) {
			delete(nested, key)
			continue
		}
		nested[key] = c.prune(childPath, child)
	}
	return nested
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = root
	for _, segment := range strings.Split(path, ".") {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = container[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setPath(root map[string]any, path string, value any) bool {
	segments := strings.Split(path, ".")
	container := root
	for _, segment := range segments[:len(segments)-1] {
		next, exists := container[segment]
		if !exists {
			created := make(map[string]any)
			container[segment] = created
			container = created
			continue
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return false
		}
		container = nested
	}
	container[segments[len(segments)-1]] = value
	return true
}

func splitParent(path string) (parent, leaf string) {
	index := strings.LastIndex(path, ".")
	if index < 0 {
		return "", path
	}
	return path[:index], path[index+1:]
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// deepCopy copies nested maps and slices of any. Other values are
// shared.
func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, child := range typed {
			copied[key] = deepCopy(child)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for i, child := range typed {
			copied[i] = deepCopy(child)
		}
		return copied
	default:
		return value
	}
}
