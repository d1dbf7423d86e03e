// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "github.com/gogpu/gputypes"

// Command is one encoded operation in a submission stream. Each variant is
// an exported struct; devices dispatch with a type switch. The sealed
// marker keeps the variant set closed to this package.
type Command interface {
	isCommand()
}

// ColorAttachment is one color target of a render pass, resolved to a
// concrete device backing at encode time.
type ColorAttachment struct {
	Target     Texture
	MipLevel   uint32
	Layer      uint32
	LoadOp     gputypes.LoadOp
	StoreOp    gputypes.StoreOp
	ClearColor gputypes.Color
}

// DepthStencilAttachment is the depth/stencil target of a render pass.
type DepthStencilAttachment struct {
	Target       Texture
	LoadOp       gputypes.LoadOp
	StoreOp      gputypes.StoreOp
	ClearDepth   float32
	ClearStencil uint32
}

// Viewport is a render pass viewport rectangle with depth range.
type Viewport struct {
	X, Y, W, H         float32
	MinDepth, MaxDepth float32
}

// Scissor is a render pass scissor rectangle.
type Scissor struct {
	X, Y, W, H uint32
}

// BufferRange addresses a byte range of a buffer backing.
type BufferRange struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
}

// TextureRegion addresses a texel region of a texture backing.
type TextureRegion struct {
	Texture  Texture
	MipLevel uint32
	Layer    uint32
	Origin   gputypes.Origin3D
	Extent   gputypes.Extent3D
}

// BeginRenderPass opens a render pass over the given attachments.
type BeginRenderPass struct {
	Colors       []ColorAttachment
	DepthStencil *DepthStencilAttachment
}

// EndRenderPass closes the open render pass. It is an execution barrier.
type EndRenderPass struct{}

// BindGraphicsPipeline selects the pipeline for subsequent draws.
type BindGraphicsPipeline struct {
	Pipeline Pipeline
}

// SetViewport replaces the current viewport.
type SetViewport struct {
	Viewport Viewport
}

// SetScissor replaces the current scissor rectangle.
type SetScissor struct {
	Scissor Scissor
}

// SetBlendConstant replaces the blend constant color.
type SetBlendConstant struct {
	Color gputypes.Color
}

// SetStencilReference replaces the stencil reference value.
type SetStencilReference struct {
	Reference uint32
}

// BindVertexBuffers binds vertex fetch sources starting at FirstSlot.
type BindVertexBuffers struct {
	FirstSlot uint32
	Buffers   []BufferRange
}

// BindIndexBuffer binds the index fetch source.
type BindIndexBuffer struct {
	Buffer      BufferRange
	IndexFormat gputypes.IndexFormat
}

// SamplerBinding pairs a sampled texture with its sampler.
type SamplerBinding struct {
	Texture Texture
	Sampler Sampler
}

// BindSamplers binds texture/sampler pairs for one stage, starting at
// FirstSlot, following the fixed per-stage binding order.
type BindSamplers struct {
	Stage     gputypes.ShaderStage
	FirstSlot uint32
	Pairs     []SamplerBinding
}

// BindStorageBuffers binds read-only storage buffers for one stage.
type BindStorageBuffers struct {
	Stage     gputypes.ShaderStage
	FirstSlot uint32
	Buffers   []Buffer
}

// BindStorageTextures binds read-only storage textures for one stage.
type BindStorageTextures struct {
	Stage     gputypes.ShaderStage
	FirstSlot uint32
	Textures  []Texture
}

// StageUniforms carries the vertex and fragment uniform slots of one draw,
// snapshotted at encode time.
type StageUniforms struct {
	Vertex   [4][]byte
	Fragment [4][]byte
}

// Draw issues a non-indexed draw.
type Draw struct {
	Vertices      uint32
	Instances     uint32
	FirstVertex   uint32
	FirstInstance uint32
	Uniforms      StageUniforms
}

// DrawIndexed issues an indexed draw.
type DrawIndexed struct {
	Indices       uint32
	Instances     uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
	Uniforms      StageUniforms
}

// DrawIndirect issues draws with GPU-sourced parameters.
type DrawIndirect struct {
	Buffer    Buffer
	Offset    uint64
	DrawCount uint32
	Uniforms  StageUniforms
}

// DrawIndexedIndirect issues indexed draws with GPU-sourced parameters.
type DrawIndexedIndirect struct {
	Buffer    Buffer
	Offset    uint64
	DrawCount uint32
	Uniforms  StageUniforms
}

// BeginComputePass opens a compute pass. The read-write bindings are
// declared up front; dispatches inside the pass have no ordering or memory
// barriers between them.
type BeginComputePass struct {
	StorageTextures []Texture
	StorageBuffers  []Buffer
}

// EndComputePass closes the open compute pass. It is an execution barrier:
// all dispatches of the pass complete before later commands start.
type EndComputePass struct{}

// BindComputePipeline selects the pipeline for subsequent dispatches.
type BindComputePipeline struct {
	Pipeline Pipeline
}

// Dispatch issues one compute dispatch.
type Dispatch struct {
	GroupsX, GroupsY, GroupsZ uint32

	// Uniforms snapshots the compute-stage uniform slots at encode time.
	Uniforms [4][]byte
}

// DispatchIndirect issues a dispatch with GPU-sourced workgroup counts.
type DispatchIndirect struct {
	Buffer Buffer
	Offset uint64

	// Uniforms snapshots the compute-stage uniform slots at encode time.
	Uniforms [4][]byte
}

// BeginCopyPass opens a copy pass.
type BeginCopyPass struct{}

// EndCopyPass closes the open copy pass.
type EndCopyPass struct{}

// CopyBufferToBuffer copies bytes between buffer backings.
type CopyBufferToBuffer struct {
	Src BufferRange
	Dst BufferRange
}

// CopyBufferToTexture copies packed texel data from a buffer backing into a
// texture region (transfer upload).
type CopyBufferToTexture struct {
	Src    BufferRange
	Layout gputypes.TextureDataLayout
	Dst    TextureRegion
}

// CopyTextureToBuffer copies a texture region into a buffer backing as
// packed texel data (transfer download).
type CopyTextureToBuffer struct {
	Src    TextureRegion
	Dst    BufferRange
	Layout gputypes.TextureDataLayout
}

// CopyTextureToTexture copies texels between texture backings.
type CopyTextureToTexture struct {
	Src    TextureRegion
	Dst    TextureRegion
	Extent gputypes.Extent3D
}

// Present hands a texture to the compositor for display. The submission
// layer encodes it as the last command of a buffer that acquired a
// swapchain texture.
type Present struct {
	Texture Texture
}

func (BeginRenderPass) isCommand()      {}
func (EndRenderPass) isCommand()        {}
func (BindGraphicsPipeline) isCommand() {}
func (SetViewport) isCommand()          {}
func (SetScissor) isCommand()           {}
func (SetBlendConstant) isCommand()     {}
func (SetStencilReference) isCommand()  {}
func (BindVertexBuffers) isCommand()    {}
func (BindIndexBuffer) isCommand()      {}
func (BindSamplers) isCommand()         {}
func (BindStorageBuffers) isCommand()   {}
func (BindStorageTextures) isCommand()  {}
func (Draw) isCommand()                 {}
func (DrawIndexed) isCommand()          {}
func (DrawIndirect) isCommand()         {}
func (DrawIndexedIndirect) isCommand()  {}
func (BeginComputePass) isCommand()     {}
func (EndComputePass) isCommand()       {}
func (BindComputePipeline) isCommand()  {}
func (Dispatch) isCommand()             {}
func (DispatchIndirect) isCommand()     {}
func (BeginCopyPass) isCommand()        {}
func (EndCopyPass) isCommand()          {}
func (CopyBufferToBuffer) isCommand()   {}
func (CopyBufferToTexture) isCommand()  {}
func (CopyTextureToBuffer) isCommand()  {}
func (CopyTextureToTexture) isCommand() {}
func (Present) isCommand()              {}
