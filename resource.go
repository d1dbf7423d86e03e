// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// BufferUsageFlags specifies how a buffer will be used.
// Flags combine with bitwise OR. Bit positions are part of the backend ABI
// and must not be reordered.
type BufferUsageFlags uint32

const (
	// BufferUsageVertex allows the buffer as a vertex fetch source.
	BufferUsageVertex BufferUsageFlags = 1 << 0

	// BufferUsageIndex allows the buffer as an index fetch source.
	BufferUsageIndex BufferUsageFlags = 1 << 1

	// BufferUsageIndirect allows the buffer to source indirect draw and
	// dispatch parameters.
	BufferUsageIndirect BufferUsageFlags = 1 << 2

	// BufferUsageGraphicsStorageRead allows read-only storage access from
	// vertex and fragment shaders.
	BufferUsageGraphicsStorageRead BufferUsageFlags = 1 << 3

	// BufferUsageComputeStorageRead allows read-only storage access from
	// compute shaders.
	BufferUsageComputeStorageRead BufferUsageFlags = 1 << 4

	// BufferUsageComputeStorageWrite allows read-write storage access from
	// compute shaders, declared at compute pass begin.
	BufferUsageComputeStorageWrite BufferUsageFlags = 1 << 5
)

// TextureUsageFlags specifies how a texture will be used.
// Flags combine with bitwise OR. Bit positions are part of the backend ABI
// and must not be reordered.
type TextureUsageFlags uint32

const (
	// TextureUsageSampler allows sampling the texture from shaders.
	TextureUsageSampler TextureUsageFlags = 1 << 0

	// TextureUsageColorTarget allows the texture as a render pass color target.
	TextureUsageColorTarget TextureUsageFlags = 1 << 1

	// TextureUsageDepthStencilTarget allows the texture as a render pass
	// depth/stencil target.
	TextureUsageDepthStencilTarget TextureUsageFlags = 1 << 2

	// TextureUsageGraphicsStorageRead allows read-only storage access from
	// vertex and fragment shaders.
	TextureUsageGraphicsStorageRead TextureUsageFlags = 1 << 3

	// TextureUsageComputeStorageRead allows read-only storage access from
	// compute shaders.
	TextureUsageComputeStorageRead TextureUsageFlags = 1 << 4

	// TextureUsageComputeStorageWrite allows write storage access from
	// compute shaders, declared at compute pass begin.
	TextureUsageComputeStorageWrite TextureUsageFlags = 1 << 5

	// TextureUsageComputeStorageSimultaneousReadWrite allows a compute
	// shader to read and write the same texture within one dispatch.
	TextureUsageComputeStorageSimultaneousReadWrite TextureUsageFlags = 1 << 6
)

// TransferBufferUsage selects the direction of a transfer buffer.
type TransferBufferUsage uint8

const (
	// TransferBufferUsageUpload stages CPU data for GPU-timeline uploads.
	TransferBufferUsageUpload TransferBufferUsage = iota

	// TransferBufferUsageDownload receives GPU data; contents materialize
	// when the downloading submission's fence signals.
	TransferBufferUsageDownload
)

// BufferCreateInfo describes a buffer resource.
type BufferCreateInfo struct {
	// Usage is the set of allowed uses. At least one flag is required.
	Usage BufferUsageFlags

	// Size is the buffer size in bytes.
	Size uint64

	// Name is an optional debug label.
	Name string
}

// TextureCreateInfo describes a texture resource.
type TextureCreateInfo struct {
	// Format is the texel format. Support should be confirmed with
	// [Device.TextureSupportsFormat] before creation.
	Format gputypes.TextureFormat

	// Usage is the set of allowed uses. At least one flag is required.
	Usage TextureUsageFlags

	// Width and Height are the mip 0 dimensions in texels.
	Width, Height uint32

	// LayerCount is the array layer count; 0 means 1.
	LayerCount uint32

	// MipLevels is the mip chain length; 0 means 1.
	MipLevels uint32

	// Samples is the MSAA sample count; 0 means 1. Support should be
	// confirmed with [Device.TextureSupportsSampleCount].
	Samples uint32

	// Name is an optional debug label.
	Name string
}

// TransferBufferCreateInfo describes a transfer buffer resource.
type TransferBufferCreateInfo struct {
	// Usage selects the transfer direction.
	Usage TransferBufferUsage

	// Size is the buffer size in bytes.
	Size uint64

	// Name is an optional debug label.
	Name string
}

// Buffer is a logical GPU buffer backed by a ring of physical allocations.
// Reads always observe the current backing as of encode time; cycling
// writes may rotate the current backing. See [CopyPass] for the write
// operations and the cycle parameter semantics.
//
// A Buffer handle is safe for concurrent encoding use; the ring serializes
// backing selection internally.
type Buffer struct {
	dev      *Device
	usage    BufferUsageFlags
	size     uint64
	ring     *backingRing
	released atomic.Bool
	name     string
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() BufferUsageFlags { return b.usage }

// Release frees the buffer's backings once no pending command buffer
// references them. Using the handle after Release is an error.
func (b *Buffer) Release() {
	if b == nil || b.released.Swap(true) {
		return
	}
	b.dev.unregisterRing(b.ring)
}

// CreateBuffer creates a buffer resource.
func (d *Device) CreateBuffer(info BufferCreateInfo) (*Buffer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.Size == 0 || info.Usage == 0 {
		return nil, d.fail(fmt.Errorf("create buffer %q: size and usage are required", info.Name))
	}
	ring := &backingRing{
		label:        info.Name,
		backingBytes: info.Size,
	}
	desc := driver.BufferDescriptor{
		Label: info.Name,
		Size:  info.Size,
		Usage: uint32(info.Usage),
	}
	ring.allocBuffer = func() (driverBuffer, error) {
		return d.drv.CreateBuffer(desc)
	}
	if err := seedRing(ring); err != nil {
		return nil, d.fail(fmt.Errorf("create buffer %q: %w", info.Name, err))
	}
	d.registerRing(ring)
	return &Buffer{
		dev:   d,
		usage: info.Usage,
		size:  info.Size,
		ring:  ring,
		name:  info.Name,
	}, nil
}

// Texture is a logical GPU texture backed by a ring of physical
// allocations. Cycling a texture invalidates its entire contents for
// subsequent commands, even when only a sub-region is written; only the
// data explicitly written afterwards is defined.
type Texture struct {
	dev      *Device
	info     TextureCreateInfo
	ring     *backingRing
	released atomic.Bool

	// swapchainOwned marks transient presentation textures; they are
	// device-managed and must not be released or cycled by the caller.
	swapchainOwned bool
}

// Width returns the mip 0 width in texels.
func (t *Texture) Width() uint32 { return t.info.Width }

// Height returns the mip 0 height in texels.
func (t *Texture) Height() uint32 { return t.info.Height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.info.Format }

// Usage returns the usage flags the texture was created with.
func (t *Texture) Usage() TextureUsageFlags { return t.info.Usage }

// Release frees the texture's backings once no pending command buffer
// references them. Swapchain textures are device-managed; releasing one is
// a no-op logged in debug mode.
func (t *Texture) Release() {
	if t == nil {
		return
	}
	if t.swapchainOwned {
		if t.dev.debug {
			Logger().Warn("release of swapchain texture ignored", "texture", t.info.Name)
		}
		return
	}
	if t.released.Swap(true) {
		return
	}
	t.dev.unregisterRing(t.ring)
}

// CreateTexture creates a texture resource. Format and sample count
// support should be confirmed via [Device.TextureSupportsFormat] and
// [Device.TextureSupportsSampleCount] first; creation fails on an
// unsupported combination.
func (d *Device) CreateTexture(info TextureCreateInfo) (*Texture, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.Width == 0 || info.Height == 0 || info.Usage == 0 {
		return nil, d.fail(fmt.Errorf("create texture %q: extent and usage are required", info.Name))
	}
	samples := info.Samples
	if samples == 0 {
		samples = 1
	}
	if !d.drv.TextureFormatSupported(info.Format, uint32(info.Usage), samples) {
		return nil, d.fail(fmt.Errorf("create texture %q: %w", info.Name, ErrUnsupported))
	}
	ring := &backingRing{label: info.Name}
	desc := driver.TextureDescriptor{
		Label:  info.Name,
		Format: info.Format,
		Size: gputypes.Extent3D{
			Width:              info.Width,
			Height:             info.Height,
			DepthOrArrayLayers: max(info.LayerCount, 1),
		},
		MipLevels: max(info.MipLevels, 1),
		Samples:   samples,
		Usage:     uint32(info.Usage),
	}
	ring.allocTexture = func() (driverTexture, error) {
		return d.drv.CreateTexture(desc)
	}
	if err := seedRing(ring); err != nil {
		return nil, d.fail(fmt.Errorf("create texture %q: %w", info.Name, err))
	}
	d.registerRing(ring)
	return &Texture{dev: d, info: info, ring: ring}, nil
}

// TransferBuffer is a CPU-visible staging resource. Uploads stage data for
// the GPU timeline; downloads materialize when the submitting command
// buffer's fence signals.
type TransferBuffer struct {
	dev      *Device
	usage    TransferBufferUsage
	size     uint64
	ring     *backingRing
	released atomic.Bool
	name     string

	mu     sync.Mutex
	mapped *backing
}

// Size returns the transfer buffer size in bytes.
func (t *TransferBuffer) Size() uint64 { return t.size }

// TransferUsage returns the transfer direction.
func (t *TransferBuffer) TransferUsage() TransferBufferUsage { return t.usage }

// Map exposes the transfer buffer's current backing memory for CPU access.
//
// With cycle set and the current backing still referenced by pending work,
// the backing is rotated first, so the CPU write cannot race data the GPU
// timeline is still reading — the standard per-frame staging pattern.
// Mapping without cycle while the backing is referenced leaves the result
// of overlapping access undefined.
//
// The returned slice is valid until Unmap.
func (t *TransferBuffer) Map(cycle bool) ([]byte, error) {
	if t.released.Load() {
		return nil, t.dev.fail(fmt.Errorf("map %q: %w", t.name, ErrResourceReleased))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mapped != nil {
		return nil, t.dev.fail(fmt.Errorf("map %q: %w", t.name, ErrMapped))
	}
	b, cycled, err := t.ring.writeTarget(cycle)
	if err != nil {
		return nil, t.dev.fail(err)
	}
	t.dev.noteCycle(cycled, !cycle && t.ring.boundCurrent(), t.name)
	t.mapped = b
	return b.buf.Map(), nil
}

// Unmap ends CPU access started by Map.
func (t *TransferBuffer) Unmap() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mapped == nil {
		return t.dev.fail(fmt.Errorf("unmap %q: %w", t.name, ErrMapped))
	}
	t.mapped = nil
	return nil
}

// Release frees the transfer buffer's backings once no pending command
// buffer references them.
func (t *TransferBuffer) Release() {
	if t == nil || t.released.Swap(true) {
		return
	}
	t.dev.unregisterRing(t.ring)
}

// CreateTransferBuffer creates a transfer buffer resource.
func (d *Device) CreateTransferBuffer(info TransferBufferCreateInfo) (*TransferBuffer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return nil, d.fail(fmt.Errorf("create transfer buffer %q: size is required", info.Name))
	}
	ring := &backingRing{
		label:        info.Name,
		backingBytes: info.Size,
	}
	desc := driver.BufferDescriptor{
		Label:       info.Name,
		Size:        info.Size,
		HostVisible: true,
	}
	ring.allocBuffer = func() (driverBuffer, error) {
		return d.drv.CreateBuffer(desc)
	}
	if err := seedRing(ring); err != nil {
		return nil, d.fail(fmt.Errorf("create transfer buffer %q: %w", info.Name, err))
	}
	d.registerRing(ring)
	return &TransferBuffer{
		dev:   d,
		usage: info.Usage,
		size:  info.Size,
		ring:  ring,
		name:  info.Name,
	}, nil
}

// seedRing allocates the ring's first backing, which stays current until
// the first cycling write against in-flight work.
func seedRing(r *backingRing) error {
	b, err := r.allocLocked()
	if err != nil {
		return err
	}
	r.backings = []*backing{b}
	r.current = 0
	return nil
}
