// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrDuplicate is returned when installing a name that is already
// installed.
var ErrDuplicate = errors.New("interceptor already installed")

// ErrNotInstalled is returned when uninstalling an unknown name.
var ErrNotInstalled = errors.New("interceptor not installed")

// Interceptor is one named hook.
type Interceptor struct {
	Name      string
	Install   func() error
	Uninstall func() error
}

// Registry tracks installed interceptors. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	installed []Interceptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Install runs the interceptor's Install step and records it. A failed
// install is not recorded.
func (r *Registry) Install(interceptor Interceptor) error {
	if interceptor.Name == "" {
		return fmt.Errorf("interceptor has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(interceptor.Name) >= 0 {
		return fmt.Errorf("installing %q: %w", interceptor.Name, ErrDuplicate)
	}
	if interceptor.Install != nil {
		if err := interceptor.Install(); err != nil {
			return fmt.Errorf("installing %q: %w", interceptor.Name, err)
		}
	}
	r.installed = append(r.installed, interceptor)
	return nil
}

// Uninstall removes one interceptor by name.
func (r *Registry) Uninstall(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := r.indexLocked(name)
	if index < 0 {
		return fmt.Errorf("uninstalling %q: %w", name, ErrNotInstalled)
	}
	interceptor := r.installed[index]
	r.installed = slices.Delete(r.installed, index, index+1)
	if interceptor.Uninstall != nil {
		if err := interceptor.Uninstall(); err != nil {
			return fmt.Errorf("uninstalling %q: %w", name, err)
		}
	}
	return nil
}

// UninstallAll removes every interceptor, most recently installed
// first. All are removed even if some fail; the failures are joined.
func (r *Registry) UninstallAll() error {
	r.mu.Lock()
	installed := r.installed
	r.installed = nil
	r.mu.Unlock()

	var errs []error
	for _, interceptor := range slices.Backward(installed) {
		if interceptor.Uninstall == nil {
			continue
		}
		if err := interceptor.Uninstall(); err != nil {
			errs = append(errs, fmt.Errorf("uninstalling %q: %w", interceptor.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Installed returns installed names in install order.
func (r *Registry) Installed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.installed))
	for i, interceptor := range r.installed {
		names[i] = interceptor.Name
	}
	return names
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.installed, func(interceptor Interceptor) bool {
		return interceptor.Name == name
	})
}
