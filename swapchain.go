// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// PresentMode selects the presentation strategy of a claimed window.
type PresentMode = driver.PresentMode

// Present modes. VSync is always supported; query the others with
// [Device.SupportsPresentMode] before requesting them.
const (
	PresentModeVSync     = driver.PresentModeVSync
	PresentModeImmediate = driver.PresentModeImmediate
	PresentModeMailbox   = driver.PresentModeMailbox
)

// SwapchainComposition selects the colorspace and encoding of presented
// frames.
type SwapchainComposition = driver.SwapchainComposition

// Swapchain compositions. SDR is always supported; query the others with
// [Device.SupportsSwapchainComposition] before requesting them.
const (
	SwapchainCompositionSDR               = driver.SwapchainCompositionSDR
	SwapchainCompositionSDRLinear         = driver.SwapchainCompositionSDRLinear
	SwapchainCompositionHDRExtendedLinear = driver.SwapchainCompositionHDRExtendedLinear
	SwapchainCompositionHDR10ST2084       = driver.SwapchainCompositionHDR10ST2084
)

// Window is the surface a swapchain presents to. Implementations come
// from the windowing layer; the device only needs the pixel size and the
// occlusion state.
type Window interface {
	// PixelSize returns the drawable size in pixels.
	PixelSize() (width, height int)

	// Occluded reports whether the window is fully hidden. Acquiring a
	// swapchain texture from an occluded window yields no texture.
	Occluded() bool
}

// swapchain is the per-claimed-window frame ring.
type swapchain struct {
	dev *Device
	w   Window

	// mu guards the ring fields below. A resize or composition change
	// replaces the ring while earlier frames may still be held by
	// recording command buffers.
	mu   sync.Mutex
	mode PresentMode
	comp SwapchainComposition

	// free holds frames not currently acquired or in flight. Capacity is
	// the frame count; returning a current frame never blocks.
	free chan *swapchainFrame

	frames []*swapchainFrame
	width  uint32
	height uint32
}

// swapchainFrame is one presentable texture of the ring.
type swapchainFrame struct {
	sc      *swapchain
	texture *Texture

	// tex is the resolved driver backing, fixed for the frame's lifetime;
	// swapchain textures never cycle.
	tex driver.Texture

	// home is the free ring the frame was built into. A rebuild orphans
	// frames still held by command buffers; recycle recognizes them by a
	// stale home and destroys them instead of mixing rings.
	home chan *swapchainFrame
}

// destroy tears down the frame's storage.
func (f *swapchainFrame) destroy() {
	f.texture.released.Store(true)
	f.texture.ring.destroy()
}

// recycle returns a frame once its referencing submission completes (or
// never ran). Frames from a ring that was since rebuilt or torn down are
// destroyed here; only frames of the live ring go back on the free channel.
func (sc *swapchain) recycle(f *swapchainFrame) {
	sc.mu.Lock()
	current := sc.free != nil && f.home == sc.free
	sc.mu.Unlock()
	if !current {
		f.destroy()
		return
	}
	f.home <- f
}

// destroy tears down the free frames and detaches the ring. Frames held by
// a recording command buffer stay alive; recycle destroys them when their
// buffer resolves. Frame rings are owned by the swapchain, not the device
// pool, so they are destroyed directly.
func (sc *swapchain) destroy() {
	sc.mu.Lock()
	free := sc.free
	sc.free = nil
	sc.frames = nil
	sc.mu.Unlock()
	if free == nil {
		return
	}
	for {
		select {
		case f := <-free:
			f.destroy()
		default:
			return
		}
	}
}

// swapchainFormat maps a composition to the texel format of its frames.
func swapchainFormat(comp SwapchainComposition) gputypes.TextureFormat {
	switch comp {
	case SwapchainCompositionSDR, SwapchainCompositionSDRLinear:
		return gputypes.TextureFormatBGRA8Unorm
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

// build creates the frame ring at the window's current size. Frame rings
// stay outside the device pool; the swapchain owns their lifetime.
func (sc *swapchain) build() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	d := sc.dev
	w, h := sc.w.PixelSize()
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	sc.width, sc.height = uint32(w), uint32(h)

	n := d.frames
	sc.frames = make([]*swapchainFrame, 0, n)
	sc.free = make(chan *swapchainFrame, n)
	for i := 0; i < n; i++ {
		info := TextureCreateInfo{
			Format: swapchainFormat(sc.comp),
			Usage:  TextureUsageColorTarget | TextureUsageSampler,
			Width:  sc.width,
			Height: sc.height,
			Name:   fmt.Sprintf("swapchain frame %d", i),
		}
		ring := &backingRing{label: info.Name}
		desc := driver.TextureDescriptor{
			Label:     info.Name,
			Format:    info.Format,
			Size:      gputypes.Extent3D{Width: info.Width, Height: info.Height, DepthOrArrayLayers: 1},
			MipLevels: 1,
			Samples:   1,
			Usage:     uint32(info.Usage),
		}
		ring.allocTexture = func() (driverTexture, error) {
			return d.drv.CreateTexture(desc)
		}
		if err := seedRing(ring); err != nil {
			return fmt.Errorf("swapchain frame %d: %w", i, err)
		}
		f := &swapchainFrame{
			sc:      sc,
			texture: &Texture{dev: d, info: info, ring: ring, swapchainOwned: true},
			tex:     ring.currentBacking().tex,
			home:    sc.free,
		}
		sc.frames = append(sc.frames, f)
		sc.free <- f
	}
	return nil
}

// ClaimWindow binds a window to the device and builds its swapchain with
// SDR composition and vsync presentation. A window can be claimed by one
// device at a time; claiming an already-claimed window fails.
func (d *Device) ClaimWindow(w Window) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if w == nil {
		return d.fail(fmt.Errorf("claim window: nil window"))
	}
	if !d.drv.Caps().SupportsPresent {
		return d.fail(fmt.Errorf("claim window: %w", ErrUnsupported))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[w]; ok {
		return d.fail(fmt.Errorf("claim window: %w", ErrWindowClaimed))
	}
	sc := &swapchain{
		dev:  d,
		w:    w,
		mode: PresentModeVSync,
		comp: SwapchainCompositionSDR,
	}
	if err := sc.build(); err != nil {
		return d.fail(fmt.Errorf("claim window: %w", err))
	}
	d.windows[w] = sc
	Logger().Debug("window claimed", "frames", d.frames)
	return nil
}

// ReleaseWindow unbinds a claimed window and frees its swapchain. The
// device drains all pending work first so no in-flight submission still
// references a frame.
func (d *Device) ReleaseWindow(w Window) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	sc, ok := d.windows[w]
	if !ok {
		d.mu.Unlock()
		return d.fail(fmt.Errorf("release window: %w", ErrWindowNotClaimed))
	}
	delete(d.windows, w)
	d.mu.Unlock()

	if err := d.drv.WaitIdle(); err != nil {
		return d.fail(fmt.Errorf("release window: %w", err))
	}
	sc.destroy()
	return nil
}

// SupportsPresentMode reports whether the device can present with the
// given mode. VSync is always supported on presenting devices.
func (d *Device) SupportsPresentMode(mode PresentMode) bool {
	caps := d.drv.Caps()
	return caps.SupportsPresent && slices.Contains(caps.PresentModes, mode)
}

// SupportsSwapchainComposition reports whether the device can present
// with the given composition. SDR is always supported on presenting
// devices.
func (d *Device) SupportsSwapchainComposition(comp SwapchainComposition) bool {
	caps := d.drv.Caps()
	return caps.SupportsPresent && slices.Contains(caps.Compositions, comp)
}

// SetSwapchainParameters changes a claimed window's composition and
// present mode. Both must be supported; query first. The frame ring is
// rebuilt when the composition changes the frame format.
func (d *Device) SetSwapchainParameters(w Window, comp SwapchainComposition, mode PresentMode) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !d.SupportsSwapchainComposition(comp) || !d.SupportsPresentMode(mode) {
		return d.fail(fmt.Errorf("set swapchain parameters: %w", ErrUnsupported))
	}
	d.mu.Lock()
	sc, ok := d.windows[w]
	d.mu.Unlock()
	if !ok {
		return d.fail(fmt.Errorf("set swapchain parameters: %w", ErrWindowNotClaimed))
	}

	sc.mu.Lock()
	rebuild := swapchainFormat(comp) != swapchainFormat(sc.comp)
	sc.mode = mode
	sc.comp = comp
	sc.mu.Unlock()
	if rebuild {
		return d.rebuildSwapchain(sc)
	}
	return nil
}

// rebuildSwapchain replaces a swapchain's frame ring, draining the device
// first so no in-flight submission references the old frames.
func (d *Device) rebuildSwapchain(sc *swapchain) error {
	if err := d.drv.WaitIdle(); err != nil {
		return d.fail(fmt.Errorf("rebuild swapchain: %w", err))
	}
	sc.destroy()
	if err := sc.build(); err != nil {
		return d.fail(fmt.Errorf("rebuild swapchain: %w", err))
	}
	return nil
}

// AcquireSwapchainTexture acquires the next presentable texture of a
// claimed window into this command buffer. Submitting the buffer presents
// the texture; it cannot be presented twice or carried across buffers.
//
// A nil texture with a nil error is a valid outcome, not a failure: the
// window is occluded or no frame is ready. Skip rendering and try again
// next frame. Use [CommandBuffer.WaitAndAcquireSwapchainTexture] to block
// until a frame is ready instead.
//
// The returned width and height are the texture's pixel dimensions.
func (cb *CommandBuffer) AcquireSwapchainTexture(w Window) (*Texture, uint32, uint32, error) {
	return cb.acquireSwapchain(w, false)
}

// WaitAndAcquireSwapchainTexture is AcquireSwapchainTexture but blocks
// until a frame is available. It still returns nil for an occluded
// window.
func (cb *CommandBuffer) WaitAndAcquireSwapchainTexture(w Window) (*Texture, uint32, uint32, error) {
	return cb.acquireSwapchain(w, true)
}

func (cb *CommandBuffer) acquireSwapchain(w Window, wait bool) (*Texture, uint32, uint32, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecording("acquire swapchain texture"); err != nil {
		return nil, 0, 0, err
	}
	if cb.frame != nil {
		return nil, 0, 0, cb.dev.fail(fmt.Errorf("acquire swapchain texture: %w", ErrSwapchainInUse))
	}

	d := cb.dev
	d.mu.Lock()
	sc, ok := d.windows[w]
	d.mu.Unlock()
	if !ok {
		return nil, 0, 0, d.fail(fmt.Errorf("acquire swapchain texture: %w", ErrWindowNotClaimed))
	}

	// Occlusion is not an error; there is simply nothing to render to.
	if w.Occluded() {
		return nil, 0, 0, nil
	}

	sc.mu.Lock()
	scw, sch := sc.width, sc.height
	sc.mu.Unlock()
	if pw, ph := w.PixelSize(); pw > 0 && ph > 0 &&
		(uint32(pw) != scw || uint32(ph) != sch) {
		if err := d.rebuildSwapchain(sc); err != nil {
			return nil, 0, 0, err
		}
	}

	sc.mu.Lock()
	free := sc.free
	scw, sch = sc.width, sc.height
	sc.mu.Unlock()
	if free == nil {
		return nil, 0, 0, d.fail(fmt.Errorf("acquire swapchain texture: %w", ErrWindowNotClaimed))
	}

	var f *swapchainFrame
	if wait {
		f = <-free
	} else {
		select {
		case f = <-free:
		default:
			// Every frame is in flight; the caller should skip this frame.
			return nil, 0, 0, nil
		}
	}

	cb.frame = f
	return f.texture, scw, sch, nil
}
