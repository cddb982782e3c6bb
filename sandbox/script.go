// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ErrScriptTimeout is returned when a script is interrupted for
// exceeding Config.ScriptTimeout.
var ErrScriptTimeout = errors.New("script timed out")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reservedWords cannot be used as parameter names.
var reservedWords = map[string]bool{
	"args": true, "arguments": true, "await": true, "break": true, "case": true,
	"catch": true, "class": true, "const": true, "continue": true, "debugger": true,
	"default": true, "delete": true, "do": true, "else": true, "enum": true,
	"eval": true, "export": true, "extends": true, "false": true, "finally": true,
	"for": true, "function": true, "if": true, "implements": true, "import": true,
	"in": true, "instanceof": true, "interface": true, "let": true, "new": true,
	"null": true, "package": true, "private": true, "protected": true, "public": true,
	"return": true, "static": true, "super": true, "switch": true, "this": true,
	"throw": true, "true": true, "try": true, "typeof": true, "var": true,
	"void": true, "while": true, "with": true, "yield": true,
}

// runScript compiles source as the body of a function whose parameters
// are the visible context keys plus args, and calls it with the
// restricted context as this.
func (s *Sandbox) runScript(source string, args []any) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var names []string
	var values []goja.Value
	for _, key := range s.context.Keys() {
		if !identifierPattern.MatchString(key) || reservedWords[key] {
			continue
		}
		value, ok := s.lookup(vm, key)
		if !ok {
			continue
		}
		names = append(names, key)
		values = append(values, value)
	}
	names = append(names, "args")
	values = append(values, vm.ToValue(args))

	wrapper := "(function(" + strings.Join(names, ", ") + ") {\n" + source + "\n})"

	timeout := s.config.ScriptTimeout
	timer := s.clock.AfterFunc(timeout, func() { vm.Interrupt(ErrScriptTimeout) })
	defer timer.Stop()

	compiled, err := vm.RunString(wrapper)
	if err != nil {
		return nil, s.scriptError(err, timeout)
	}
	function, ok := goja.AssertFunction(compiled)
	if !ok {
		return nil, fmt.Errorf("sandbox: script did not compile to a function")
	}
	result, err := function(vm.NewDynamicObject(&scopeObject{sandbox: s, vm: vm}), values...)
	if err != nil {
		return nil, s.scriptError(err, timeout)
	}
	return s.export(result), nil
}

func (s *Sandbox) scriptError(err error, timeout time.Duration) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("sandbox: %w after %v", ErrScriptTimeout, timeout)
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("sandbox: script threw: %s", exception.Value().String())
	}
	return fmt.Errorf("sandbox: %w", err)
}

// lookup resolves a path for script use. A blocked path that is the
// parent of allowed paths resolves to a proxy so its allowed children
// stay reachable.
func (s *Sandbox) lookup(vm *goja.Runtime, path string) (goja.Value, bool) {
	if value, ok := s.context.Get(path); ok {
		return s.toValue(vm, path, value), true
	}
	if s.context.matcher.visible(path) && s.context.isContainer(path) {
		return vm.NewDynamicObject(&scopeObject{sandbox: s, vm: vm, prefix: path}), true
	}
	return goja.Undefined(), false
}

// toValue converts a context value for script use. Maps become
// dynamic objects rooted at path so nested access stays checked.
func (s *Sandbox) toValue(vm *goja.Runtime, path string, value any) goja.Value {
	if _, ok := value.(map[string]any); ok {
		return vm.NewDynamicObject(&scopeObject{sandbox: s, vm: vm, prefix: path})
	}
	return vm.ToValue(value)
}

// export converts a script value back to Go, resolving context proxies
// through the matcher.
func (s *Sandbox) export(value goja.Value) any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	exported := value.Export()
	if proxy, ok := exported.(*scopeObject); ok {
		if proxy.prefix == "" {
			return nil
		}
		resolved, _ := s.context.Get(proxy.prefix)
		return resolved
	}
	return exported
}

// scopeObject exposes a subtree of the restricted context to scripts.
// Every property access goes through the Context and its matcher.
type scopeObject struct {
	sandbox *Sandbox
	vm      *goja.Runtime
	prefix  string
}

func (o *scopeObject) path(key string) string { return join(o.prefix, key) }

func (o *scopeObject) Get(key string) goja.Value {
	value, _ := o.sandbox.lookup(o.vm, o.path(key))
	return value
}

func (o *scopeObject) Set(key string, value goja.Value) bool {
	return o.sandbox.context.Set(o.path(key), o.sandbox.export(value))
}

func (o *scopeObject) Has(key string) bool {
	return o.sandbox.context.Has(o.path(key))
}

func (o *scopeObject) Delete(key string) bool {
	return o.sandbox.context.Delete(o.path(key))
}

func (o *scopeObject) Keys() []string {
	return o.sandbox.context.ChildKeys(o.prefix)
}
