// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/cache"
	"github.com/gogpu/gpuq/driver"
)

// Device is the process-wide entry point: it owns the driver device, the
// resource pool bookkeeping, the swapchain bindings and the error side
// channel. A Device is created once, closed once, and outlives every
// entity created from it.
//
// All methods are safe for concurrent use. Command buffers acquired from
// the device are single-goroutine objects; see [CommandBuffer].
type Device struct {
	drv   driver.Device
	debug bool

	// provider is the host application's device provider when embedding
	// into an existing gogpu context, or nil when the device stands alone.
	provider gpucontext.DeviceProvider

	// frames is the swapchain ring depth for claimed windows.
	frames int

	// shaderCache memoizes WGSL compilation results across CreateShader
	// calls, keyed by source hash.
	shaderCache *cache.ShardedCache[uint64, []byte]

	mu      sync.Mutex
	closed  bool
	rings   map[*backingRing]struct{}
	windows map[Window]*swapchain

	// lastErr is the out-of-band, human-readable error channel. Every
	// failing operation records its message here in addition to returning
	// the error.
	lastErr atomic.Pointer[string]

	// fences tracks outstanding acquired fences for leak reporting at Close.
	fences atomic.Int64
}

// Open opens a device on the best available driver, or on the driver named
// via [WithDriver]. Driver packages register themselves on import:
//
//	import _ "github.com/gogpu/gpuq/driver/soft"
//
// Returns ErrNoDriver when no registered driver can be opened.
func Open(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var (
		drv driver.Device
		err error
	)
	dopts := driver.Options{Debug: o.debug, Logger: Logger(), Provider: o.provider}
	if o.driverName != "" {
		drv, err = driver.Open(o.driverName, dopts)
	} else {
		drv, err = driver.OpenDefault(dopts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDriver, err)
	}

	d := &Device{
		drv:         drv,
		debug:       o.debug,
		frames:      o.frames,
		shaderCache: cache.NewSharded[uint64, []byte](o.shaderCacheCap, cache.Uint64Hasher),
		rings:       make(map[*backingRing]struct{}),
		windows:     make(map[Window]*swapchain),
	}
	d.provider = o.provider
	Logger().Info("gpuq device opened", "driver", drv.Name(), "debug", o.debug)
	return d, nil
}

// Driver returns the active driver's name.
func (d *Device) Driver() string { return d.drv.Name() }

// Provider returns the host device provider supplied via
// [WithDeviceProvider], or nil when the device stands alone.
func (d *Device) Provider() gpucontext.DeviceProvider { return d.provider }

// LastError returns the message of the most recent failed operation, or ""
// if none failed since the last call to ClearLastError. This is the
// out-of-band error channel; the same information is always also returned
// as an error from the failing call.
func (d *Device) LastError() string {
	if s := d.lastErr.Load(); s != nil {
		return *s
	}
	return ""
}

// ClearLastError resets the error side channel.
func (d *Device) ClearLastError() {
	d.lastErr.Store(nil)
}

// fail records err in the error side channel and returns it.
func (d *Device) fail(err error) error {
	if err == nil {
		return nil
	}
	s := err.Error()
	d.lastErr.Store(&s)
	return err
}

// checkOpen returns ErrDeviceClosed after Close.
func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.fail(ErrDeviceClosed)
	}
	return nil
}

// noteCycle logs cycling activity and the non-cycled-write hazard.
// The hazard warning fires only in debug mode: writing a bound backing
// without cycling is the documented escape hatch, not an error.
func (d *Device) noteCycle(cycled, hazard bool, name string) {
	if cycled {
		Logger().Debug("resource cycled", "resource", name)
	}
	if hazard && d.debug {
		Logger().Warn("non-cycled write to a backing referenced by pending work; result undefined",
			"resource", name)
	}
}

func (d *Device) registerRing(r *backingRing) {
	d.mu.Lock()
	d.rings[r] = struct{}{}
	d.mu.Unlock()
}

func (d *Device) unregisterRing(r *backingRing) {
	d.mu.Lock()
	delete(d.rings, r)
	d.mu.Unlock()
	r.destroy()
}

// PoolStats returns backing bookkeeping across all live resources.
func (d *Device) PoolStats() PoolStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var s PoolStats
	s.Resources = len(d.rings)
	for r := range d.rings {
		n := r.size()
		s.Backings += n
		s.Bytes += uint64(n) * r.backingBytes
		s.Cycles += r.cycleCount()
	}
	return s
}

// TextureSupportsFormat reports whether the driver can create a texture
// with the given format, usage and sample count. Callers should query
// before requesting; creation fails on unsupported combinations.
func (d *Device) TextureSupportsFormat(format gputypes.TextureFormat, usage TextureUsageFlags, samples uint32) bool {
	if samples == 0 {
		samples = 1
	}
	return d.drv.TextureFormatSupported(format, uint32(usage), samples)
}

// TextureSupportsSampleCount reports whether the format supports the given
// MSAA sample count.
func (d *Device) TextureSupportsSampleCount(format gputypes.TextureFormat, samples uint32) bool {
	return d.TextureSupportsFormat(format, TextureUsageColorTarget, samples)
}

// WaitIdle blocks until all outstanding submitted work across all command
// buffers has completed.
func (d *Device) WaitIdle() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.drv.WaitIdle()
}

// WaitForFences blocks until either all (waitAll) or any (!waitAll) of the
// listed fences signal. There is deliberately no timeout: completion is
// the only exit, matching the submission model's no-cancellation contract.
func (d *Device) WaitForFences(waitAll bool, fences ...*Fence) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if len(fences) == 0 {
		return nil
	}
	for _, f := range fences {
		if f == nil || f.released.Load() {
			return d.fail(fmt.Errorf("wait for fences: %w", ErrFenceReleased))
		}
	}

	if waitAll {
		for _, f := range fences {
			<-f.f.Done()
		}
		return nil
	}

	// Wait-any over a dynamic fence set.
	cases := make([]reflect.SelectCase, len(fences))
	for i, f := range fences {
		cases[i] = reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(f.f.Done()),
		}
	}
	reflect.Select(cases)
	return nil
}

// Close waits for all outstanding work, tears down claimed swapchains and
// destroys the driver device. Close is idempotent. Resources left
// unreleased are destroyed with the device; unreleased fences are logged
// as leaks in debug mode.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	rings := make([]*backingRing, 0, len(d.rings))
	for r := range d.rings {
		rings = append(rings, r)
	}
	d.rings = nil
	windows := d.windows
	d.windows = nil
	d.mu.Unlock()

	if err := d.drv.WaitIdle(); err != nil {
		return d.fail(fmt.Errorf("close: %w", err))
	}
	for _, sc := range windows {
		sc.destroy()
	}
	for _, r := range rings {
		r.destroy()
	}
	if n := d.fences.Load(); n > 0 && d.debug {
		Logger().Warn("device closed with unreleased fences", "count", n)
	}
	d.drv.Destroy()
	Logger().Info("gpuq device closed")
	return nil
}
