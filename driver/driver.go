// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the contract between the gpuq submission layer and
// the backends that execute it.
//
// A Device accepts fully-encoded Submissions and runs them on an
// asynchronous timeline. Every implementation must guarantee FIFO start
// order: all commands of an earlier submission begin executing before any
// command of a later one. Within a submission, pass boundaries are the only
// execution barriers a backend is required to honor; commands inside a
// single compute pass may overlap freely.
//
// Backends register themselves via [Register], typically from an init()
// function, and are selected through the priority-ordered registry.
package driver

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Common driver errors.
var (
	// ErrNotAvailable is returned when a requested driver is not available.
	ErrNotAvailable = errors.New("driver: not available")

	// ErrDeviceLost is returned when operations are called on a destroyed device.
	ErrDeviceLost = errors.New("driver: device destroyed")

	// ErrShaderFormat is returned when a shader format is not consumable
	// by the device.
	ErrShaderFormat = errors.New("driver: unsupported shader format")

	// ErrOutOfMemory is returned when a resource allocation fails.
	ErrOutOfMemory = errors.New("driver: out of memory")
)

// ShaderFormat identifies the encoding of shader code handed to a device.
// Values are bit flags so capability sets can be expressed as a mask.
type ShaderFormat uint32

const (
	// ShaderFormatSPIRV is SPIR-V bytecode (little-endian 32-bit words).
	ShaderFormatSPIRV ShaderFormat = 1 << 0

	// ShaderFormatWGSL is WGSL source text.
	ShaderFormatWGSL ShaderFormat = 1 << 1

	// ShaderFormatHost is a Go function executed in-process. Only software
	// devices consume it; hardware devices report it unsupported.
	ShaderFormatHost ShaderFormat = 1 << 2
)

// PresentMode mirrors the presentation strategies a swapchain can use.
// Bit positions match the source ABI and must not be reordered.
type PresentMode uint8

const (
	// PresentModeVSync waits for the vertical blank. Always supported.
	PresentModeVSync PresentMode = iota

	// PresentModeImmediate presents without waiting; may tear.
	PresentModeImmediate

	// PresentModeMailbox replaces the queued image instead of blocking.
	PresentModeMailbox
)

// SwapchainComposition selects the colorspace/encoding of presented frames.
// Bit positions match the source ABI and must not be reordered.
type SwapchainComposition uint8

const (
	// SwapchainCompositionSDR is 8-bit sRGB-encoded output. Always supported.
	SwapchainCompositionSDR SwapchainComposition = iota

	// SwapchainCompositionSDRLinear is linearly-encoded SDR output.
	SwapchainCompositionSDRLinear

	// SwapchainCompositionHDRExtendedLinear is linear FP16 HDR output.
	SwapchainCompositionHDRExtendedLinear

	// SwapchainCompositionHDR10ST2084 is 10-bit PQ-encoded HDR output.
	SwapchainCompositionHDR10ST2084
)

// Caps describes what a device can do. The submission layer consults Caps
// for its query-then-request protocol instead of relying on late failures.
type Caps struct {
	// ShaderFormats is the mask of shader encodings the device consumes.
	ShaderFormats ShaderFormat

	// SupportsPresent reports whether the device can drive a swapchain.
	SupportsPresent bool

	// PresentModes lists the supported presentation strategies.
	// Implementations must always include PresentModeVSync when
	// SupportsPresent is true.
	PresentModes []PresentMode

	// Compositions lists the supported swapchain compositions.
	// Implementations must always include SwapchainCompositionSDR when
	// SupportsPresent is true.
	Compositions []SwapchainComposition
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Size is the allocation size in bytes.
	Size uint64

	// Usage carries the submission layer's usage bits verbatim. Backings of
	// the same logical resource always share one usage value.
	Usage uint32

	// HostVisible requests memory the CPU can map. Set for transfer buffers.
	HostVisible bool
}

// TextureDescriptor describes a texture allocation.
type TextureDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Size is the texture extent. DepthOrArrayLayers is the layer count
	// for 2D array textures.
	Size gputypes.Extent3D

	// MipLevels is the number of mip levels (>= 1).
	MipLevels uint32

	// Samples is the MSAA sample count (>= 1).
	Samples uint32

	// Usage carries the submission layer's usage bits verbatim.
	Usage uint32
}

// SamplerDescriptor describes a texture sampler.
type SamplerDescriptor struct {
	Label        string
	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	Compare      gputypes.CompareFunction
}

// Kernel is a host compute function run by software devices in place of a
// compiled compute shader. It is invoked once per dispatch with the
// workgroup counts of that dispatch and the storage buffers declared at
// pass begin, in declaration order. Kernels for dispatches recorded in the
// same compute pass may run concurrently; a kernel must tolerate that or
// the recording side must split passes.
type Kernel func(inv *KernelInvocation)

// KernelInvocation carries the inputs of one dispatch to a host kernel.
type KernelInvocation struct {
	// GroupsX, GroupsY, GroupsZ are the workgroup counts of the dispatch.
	GroupsX, GroupsY, GroupsZ uint32

	// StorageBuffers aliases the byte storage of the read-write buffers
	// declared at compute pass begin, in declaration order.
	StorageBuffers [][]byte

	// StorageTextures aliases the texel storage of the read-write textures
	// declared at compute pass begin, in declaration order.
	StorageTextures [][]byte

	// Uniforms holds the compute-stage uniform slots as last pushed before
	// the dispatch. Unpushed slots are nil.
	Uniforms [4][]byte
}

// ShaderDescriptor describes a shader module.
type ShaderDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Format selects which payload field is meaningful.
	Format ShaderFormat

	// Code is SPIR-V bytecode when Format is ShaderFormatSPIRV.
	Code []byte

	// WGSL is source text when Format is ShaderFormatWGSL.
	WGSL string

	// Kernel is the host function when Format is ShaderFormatHost.
	Kernel Kernel

	// EntryPoint is the shader entry function name.
	EntryPoint string

	// Stage is the single stage this shader runs at.
	Stage gputypes.ShaderStage
}

// GraphicsPipelineDescriptor describes a graphics pipeline.
type GraphicsPipelineDescriptor struct {
	Label        string
	Vertex       Shader
	Fragment     Shader
	Primitive    gputypes.PrimitiveState
	Multisample  gputypes.MultisampleState
	ColorTargets []gputypes.ColorTargetState

	// DepthStencilFormat is TextureFormatUndefined when the pipeline has
	// no depth/stencil target.
	DepthStencilFormat gputypes.TextureFormat

	// VertexBuffers describes the vertex fetch layout.
	VertexBuffers []gputypes.VertexBufferLayout
}

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label  string
	Shader Shader

	// ThreadCountX/Y/Z are the workgroup dimensions baked into the shader.
	ThreadCountX, ThreadCountY, ThreadCountZ uint32
}

// Resource is the base interface of all device-owned objects.
type Resource interface {
	// Destroy releases the backing allocation. The object must not be
	// referenced by any pending submission when Destroy is called; the
	// submission layer guarantees this via its reference counts.
	Destroy()
}

// Buffer is a device buffer backing.
type Buffer interface {
	Resource

	// Size returns the allocation size in bytes.
	Size() uint64

	// Map returns the CPU-visible byte storage of a host-visible buffer.
	// Devices return nil for buffers created without HostVisible.
	Map() []byte
}

// Texture is a device texture backing.
type Texture interface {
	Resource

	// Size returns the texture extent.
	Size() gputypes.Extent3D

	// Format returns the pixel format.
	Format() gputypes.TextureFormat
}

// Shader is a compiled shader module.
type Shader interface {
	Resource
}

// Pipeline is a compiled graphics or compute pipeline.
type Pipeline interface {
	Resource
}

// Sampler is a texture sampler.
type Sampler interface {
	Resource
}

// Fence observes completion of one submission. A fence signals exactly once,
// after every command of its submission — downloads included — has
// completed, and never reverts.
type Fence interface {
	// Signaled reports completion without blocking.
	Signaled() bool

	// Done returns a channel closed when the fence signals.
	Done() <-chan struct{}

	// Release frees the fence's backing object. The fence must not be
	// queried after Release.
	Release()
}

// Submission is one atomically-submitted command stream.
type Submission struct {
	// Label is an optional debug name.
	Label string

	// Commands is the encoded stream, in encoding order.
	Commands []Command

	// OnComplete, if non-nil, runs on the device timeline after every
	// command of the submission has completed and before the returned
	// fence signals. The submission layer uses it to release backing
	// references.
	OnComplete func()
}

// Device is one opened backend device.
//
// Submit is safe for concurrent use; submissions from multiple goroutines
// are serialized into one total order. All other methods are safe for
// concurrent use unless noted.
type Device interface {
	// Name returns the driver identifier (e.g. "soft", "wgpu").
	Name() string

	// Caps returns the device capability set.
	Caps() Caps

	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateTexture(desc TextureDescriptor) (Texture, error)
	CreateSampler(desc SamplerDescriptor) (Sampler, error)
	CreateShader(desc ShaderDescriptor) (Shader, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDescriptor) (Pipeline, error)
	CreateComputePipeline(desc ComputePipelineDescriptor) (Pipeline, error)

	// TextureFormatSupported reports whether the format can be created with
	// the given usage bits and sample count.
	TextureFormatSupported(format gputypes.TextureFormat, usage uint32, samples uint32) bool

	// Submit enqueues one submission and returns its fence. Submissions
	// begin executing in Submit call order.
	Submit(sub Submission) (Fence, error)

	// WaitIdle blocks until every enqueued submission has completed.
	WaitIdle() error

	// Destroy tears the device down. Pending submissions are drained first.
	Destroy()
}
