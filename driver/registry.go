// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"log/slog"
	"sync"
)

// Driver names known to the registry.
const (
	// NameSoft is the built-in software timeline driver.
	NameSoft = "soft"

	// NameWGPU is the hardware driver backed by gogpu/wgpu HAL.
	NameWGPU = "wgpu"
)

// Options configures device creation. Drivers that cannot honor a field
// ignore it.
type Options struct {
	// Debug enables extra validation inside the driver.
	Debug bool

	// Logger receives driver diagnostics. Nil means silent.
	Logger *slog.Logger

	// Provider optionally carries the host application's GPU context.
	// Drivers that can adopt a shared device inspect it for the handles
	// they understand; others ignore it.
	Provider any
}

// Factory opens a new device instance.
type Factory func(opts Options) (Device, error)

// registry holds registered drivers.
var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Factory)
	// Priority order for default selection (first available wins).
	// Hardware beats software; soft is the always-present fallback.
	priority = []string{NameWGPU, NameSoft}
)

// Register registers a driver factory with the given name.
// This is typically called from init() functions in driver packages.
// If a driver with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = factory
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(drivers, name)
}

// Available returns the names of all registered drivers.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

// IsRegistered reports whether a driver with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Open opens a device from the named driver.
// Returns ErrNotAvailable if the driver is not registered or fails to open.
func Open(name string, opts Options) (Device, error) {
	registryMu.RLock()
	factory, ok := drivers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, ErrNotAvailable
	}
	return factory(opts)
}

// OpenDefault opens the best available device based on priority.
// Drivers that fail to open are skipped.
// Returns ErrNotAvailable if no registered driver opens.
func OpenDefault(opts Options) (Device, error) {
	registryMu.RLock()
	ordered := make([]Factory, 0, len(drivers))
	for _, name := range priority {
		if factory, ok := drivers[name]; ok {
			ordered = append(ordered, factory)
		}
	}
	for name, factory := range drivers {
		if !inPriority(name) {
			ordered = append(ordered, factory)
		}
	}
	registryMu.RUnlock()

	for _, factory := range ordered {
		dev, err := factory(opts)
		if err == nil && dev != nil {
			return dev, nil
		}
	}
	return nil, ErrNotAvailable
}

func inPriority(name string) bool {
	for _, p := range priority {
		if p == name {
			return true
		}
	}
	return false
}
