// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"github.com/gogpu/gpucontext"
)

// Option configures a Device during Open.
//
// Example:
//
//	// Best available driver, release mode.
//	dev, err := gpuq.Open()
//
//	// Software driver with validation logging.
//	dev, err := gpuq.Open(gpuq.WithDriver(driver.NameSoft), gpuq.WithDebug(true))
type Option func(*options)

// options holds optional configuration for Open.
type options struct {
	driverName     string
	debug          bool
	frames         int
	shaderCacheCap int
	provider       gpucontext.DeviceProvider
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		driverName:     "", // best available by registry priority
		frames:         defaultSwapchainFrames,
		shaderCacheCap: 0, // cache.DefaultCapacity
	}
}

// defaultSwapchainFrames is the per-window frame ring depth. Three frames
// allow the application to acquire a new frame while one is being encoded
// and one is on screen.
const defaultSwapchainFrames = 3

// WithDriver selects a specific driver by registry name instead of the
// highest-priority available one. Open fails with ErrNoDriver if the
// named driver is not registered.
func WithDriver(name string) Option {
	return func(o *options) {
		o.driverName = name
	}
}

// WithDebug enables validation warnings. In debug mode the device logs
// hazards that are legal but usually unintended, such as writing a
// transfer buffer that pending work still references without cycling.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithSwapchainFrames sets the frame ring depth used for windows claimed
// via [Device.ClaimWindow]. Values below 2 are clamped to 2.
func WithSwapchainFrames(n int) Option {
	return func(o *options) {
		if n < 2 {
			n = 2
		}
		o.frames = n
	}
}

// WithShaderCacheCapacity sets the per-shard capacity of the shader
// compilation cache. Zero or negative selects the default.
func WithShaderCacheCapacity(n int) Option {
	return func(o *options) {
		o.shaderCacheCap = n
	}
}

// WithDeviceProvider attaches a host gogpu device provider, for embedding
// into applications that already own a GPU context. The provider is
// exposed via [Device.Provider]; drivers may use it to share the
// underlying device instead of opening their own.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}
