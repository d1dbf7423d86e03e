// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// ColorTargetInfo describes one color attachment of a render pass.
type ColorTargetInfo struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32

	// LoadOp selects what the pass sees at begin: the previous contents
	// (load) or ClearColor (clear).
	LoadOp gputypes.LoadOp

	// StoreOp selects whether results persist past the pass end.
	StoreOp gputypes.StoreOp

	// ClearColor is applied when LoadOp is LoadOpClear.
	ClearColor gputypes.Color

	// Cycle rotates the texture's backing if it is still referenced by
	// earlier pending work. Only meaningful with LoadOpClear or when the
	// full target is overwritten; a cycled backing holds undefined data
	// wherever the pass does not write.
	Cycle bool
}

// DepthStencilTargetInfo describes the depth/stencil attachment of a
// render pass.
type DepthStencilTargetInfo struct {
	Texture      *Texture
	LoadOp       gputypes.LoadOp
	StoreOp      gputypes.StoreOp
	ClearDepth   float32
	ClearStencil uint32
	Cycle        bool
}

// BufferBinding addresses a buffer at an offset for vertex or index fetch.
type BufferBinding struct {
	Buffer *Buffer
	Offset uint64
}

// TextureSamplerPair binds a sampled texture with its sampler.
type TextureSamplerPair struct {
	Texture *Texture
	Sampler *Sampler
}

// RenderPass records draw commands against the attachments declared at
// begin. Draw order within a pass is preserved.
//
// Begin with [CommandBuffer.BeginRenderPass]; only one pass of any kind
// may be open on a command buffer at a time.
type RenderPass struct {
	cb       *CommandBuffer
	ended    bool
	pipeline bool
}

func (p *RenderPass) passLabel() string { return "render pass" }

// BeginRenderPass opens a render pass. At least one color target or a
// depth/stencil target is required. The viewport and scissor default to
// the full extent of the first color target (or the depth/stencil target
// when there are no color targets).
//
// Color targets must carry TextureUsageColorTarget; the depth/stencil
// target must carry TextureUsageDepthStencilTarget.
func (cb *CommandBuffer) BeginRenderPass(colors []ColorTargetInfo, depthStencil *DepthStencilTargetInfo) (*RenderPass, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	p := &RenderPass{cb: cb}
	if err := cb.beginPass(p, "begin render pass"); err != nil {
		return nil, err
	}
	if len(colors) == 0 && depthStencil == nil {
		cb.endPass(p)
		return nil, cb.dev.fail(fmt.Errorf("begin render pass: no attachments"))
	}

	var (
		begin   driver.BeginRenderPass
		extentW uint32
		extentH uint32
	)
	for _, ct := range colors {
		if ct.Texture == nil || ct.Texture.released.Load() {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin render pass: color target: %w", ErrResourceReleased))
		}
		if ct.Texture.info.Usage&TextureUsageColorTarget == 0 {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin render pass: texture %q lacks color target usage: %w",
				ct.Texture.info.Name, ErrUsage))
		}
		cycle := ct.Cycle && !ct.Texture.swapchainOwned
		tex, err := cb.writeTexture(ct.Texture.ring, cycle, ct.Texture.info.Name)
		if err != nil {
			cb.endPass(p)
			return nil, err
		}
		if extentW == 0 {
			e := mipExtent(ct.Texture, ct.MipLevel)
			extentW, extentH = e.Width, e.Height
		}
		begin.Colors = append(begin.Colors, driver.ColorAttachment{
			Target:     tex,
			MipLevel:   ct.MipLevel,
			Layer:      ct.Layer,
			LoadOp:     ct.LoadOp,
			StoreOp:    ct.StoreOp,
			ClearColor: ct.ClearColor,
		})
	}
	if depthStencil != nil {
		ds := depthStencil
		if ds.Texture == nil || ds.Texture.released.Load() {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin render pass: depth/stencil target: %w", ErrResourceReleased))
		}
		if ds.Texture.info.Usage&TextureUsageDepthStencilTarget == 0 {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin render pass: texture %q lacks depth/stencil target usage: %w",
				ds.Texture.info.Name, ErrUsage))
		}
		tex, err := cb.writeTexture(ds.Texture.ring, ds.Cycle, ds.Texture.info.Name)
		if err != nil {
			cb.endPass(p)
			return nil, err
		}
		if extentW == 0 {
			extentW, extentH = ds.Texture.info.Width, ds.Texture.info.Height
		}
		begin.DepthStencil = &driver.DepthStencilAttachment{
			Target:       tex,
			LoadOp:       ds.LoadOp,
			StoreOp:      ds.StoreOp,
			ClearDepth:   ds.ClearDepth,
			ClearStencil: ds.ClearStencil,
		}
	}

	cb.push(begin,
		driver.SetViewport{Viewport: driver.Viewport{
			W: float32(extentW), H: float32(extentH), MinDepth: 0, MaxDepth: 1,
		}},
		driver.SetScissor{Scissor: driver.Scissor{W: extentW, H: extentH}},
	)
	return p, nil
}

// checkActive validates that the pass still accepts commands.
// Caller must hold p.cb.mu.
func (p *RenderPass) checkActive(op string) error {
	if err := p.cb.checkRecording(op); err != nil {
		return err
	}
	if p.ended {
		return p.cb.dev.fail(fmt.Errorf("%s: %w", op, ErrPassEnded))
	}
	return nil
}

// End closes the pass. Attachment contents with StoreOpStore are defined
// for later commands of this submission and later submissions.
func (p *RenderPass) End() error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("end render pass"); err != nil {
		return err
	}
	p.ended = true
	p.cb.endPass(p)
	p.cb.push(driver.EndRenderPass{})
	return nil
}

// BindPipeline selects the graphics pipeline for subsequent draws.
func (p *RenderPass) BindPipeline(gp *GraphicsPipeline) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind graphics pipeline"); err != nil {
		return err
	}
	if gp == nil || gp.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("bind graphics pipeline: %w", ErrResourceReleased))
	}
	p.pipeline = true
	p.cb.push(driver.BindGraphicsPipeline{Pipeline: gp.p})
	return nil
}

// SetViewport replaces the default full-target viewport.
func (p *RenderPass) SetViewport(x, y, w, h, minDepth, maxDepth float32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("set viewport"); err != nil {
		return err
	}
	p.cb.push(driver.SetViewport{Viewport: driver.Viewport{
		X: x, Y: y, W: w, H: h,
		MinDepth: minDepth, MaxDepth: maxDepth,
	}})
	return nil
}

// SetScissor replaces the default full-target scissor rectangle.
func (p *RenderPass) SetScissor(x, y, w, h uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("set scissor"); err != nil {
		return err
	}
	p.cb.push(driver.SetScissor{Scissor: driver.Scissor{X: x, Y: y, W: w, H: h}})
	return nil
}

// SetBlendConstant replaces the blend constant color.
func (p *RenderPass) SetBlendConstant(color gputypes.Color) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("set blend constant"); err != nil {
		return err
	}
	p.cb.push(driver.SetBlendConstant{Color: color})
	return nil
}

// SetStencilReference replaces the stencil reference value.
func (p *RenderPass) SetStencilReference(ref uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("set stencil reference"); err != nil {
		return err
	}
	p.cb.push(driver.SetStencilReference{Reference: ref})
	return nil
}

// BindVertexBuffers binds vertex fetch sources starting at firstSlot.
// Buffers must carry BufferUsageVertex.
func (p *RenderPass) BindVertexBuffers(firstSlot uint32, bindings []BufferBinding) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind vertex buffers"); err != nil {
		return err
	}
	ranges := make([]driver.BufferRange, 0, len(bindings))
	for _, bind := range bindings {
		if bind.Buffer == nil || bind.Buffer.released.Load() {
			return p.cb.dev.fail(fmt.Errorf("bind vertex buffers: %w", ErrResourceReleased))
		}
		if bind.Buffer.usage&BufferUsageVertex == 0 {
			return p.cb.dev.fail(fmt.Errorf("bind vertex buffers: buffer %q lacks vertex usage: %w",
				bind.Buffer.name, ErrUsage))
		}
		ranges = append(ranges, driver.BufferRange{
			Buffer: p.cb.readBuffer(bind.Buffer.ring),
			Offset: bind.Offset,
		})
	}
	p.cb.push(driver.BindVertexBuffers{FirstSlot: firstSlot, Buffers: ranges})
	return nil
}

// BindIndexBuffer binds the index fetch source. The buffer must carry
// BufferUsageIndex.
func (p *RenderPass) BindIndexBuffer(binding BufferBinding, format gputypes.IndexFormat) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind index buffer"); err != nil {
		return err
	}
	if binding.Buffer == nil || binding.Buffer.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("bind index buffer: %w", ErrResourceReleased))
	}
	if binding.Buffer.usage&BufferUsageIndex == 0 {
		return p.cb.dev.fail(fmt.Errorf("bind index buffer: buffer %q lacks index usage: %w",
			binding.Buffer.name, ErrUsage))
	}
	p.cb.push(driver.BindIndexBuffer{
		Buffer: driver.BufferRange{
			Buffer: p.cb.readBuffer(binding.Buffer.ring),
			Offset: binding.Offset,
		},
		IndexFormat: format,
	})
	return nil
}

// resolveSamplerPairs validates and resolves sampler bindings for any
// stage. Caller must hold cb.mu.
func (cb *CommandBuffer) resolveSamplerPairs(pairs []TextureSamplerPair, op string) ([]driver.SamplerBinding, error) {
	resolved := make([]driver.SamplerBinding, 0, len(pairs))
	for _, pair := range pairs {
		if pair.Texture == nil || pair.Texture.released.Load() {
			return nil, cb.dev.fail(fmt.Errorf("%s: texture: %w", op, ErrResourceReleased))
		}
		if pair.Sampler == nil || pair.Sampler.released.Load() {
			return nil, cb.dev.fail(fmt.Errorf("%s: sampler: %w", op, ErrResourceReleased))
		}
		if pair.Texture.info.Usage&TextureUsageSampler == 0 {
			return nil, cb.dev.fail(fmt.Errorf("%s: texture %q lacks sampler usage: %w",
				op, pair.Texture.info.Name, ErrUsage))
		}
		resolved = append(resolved, driver.SamplerBinding{
			Texture: cb.readTexture(pair.Texture.ring),
			Sampler: pair.Sampler.s,
		})
	}
	return resolved, nil
}

// BindVertexSamplers binds texture/sampler pairs for vertex-stage
// sampling, starting at firstSlot.
func (p *RenderPass) BindVertexSamplers(firstSlot uint32, pairs []TextureSamplerPair) error {
	return p.bindSamplers(gputypes.ShaderStageVertex, firstSlot, pairs, "bind vertex samplers")
}

// BindFragmentSamplers binds texture/sampler pairs for fragment-stage
// sampling, starting at firstSlot.
func (p *RenderPass) BindFragmentSamplers(firstSlot uint32, pairs []TextureSamplerPair) error {
	return p.bindSamplers(gputypes.ShaderStageFragment, firstSlot, pairs, "bind fragment samplers")
}

func (p *RenderPass) bindSamplers(stage gputypes.ShaderStage, firstSlot uint32, pairs []TextureSamplerPair, op string) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive(op); err != nil {
		return err
	}
	bindings, err := p.cb.resolveSamplerPairs(pairs, op)
	if err != nil {
		return err
	}
	p.cb.push(driver.BindSamplers{Stage: stage, FirstSlot: firstSlot, Pairs: bindings})
	return nil
}

// BindVertexStorageBuffers binds read-only storage buffers for the vertex
// stage. Buffers must carry BufferUsageGraphicsStorageRead.
func (p *RenderPass) BindVertexStorageBuffers(firstSlot uint32, buffers []*Buffer) error {
	return p.bindStorageBuffers(gputypes.ShaderStageVertex, firstSlot, buffers, "bind vertex storage buffers")
}

// BindFragmentStorageBuffers binds read-only storage buffers for the
// fragment stage. Buffers must carry BufferUsageGraphicsStorageRead.
func (p *RenderPass) BindFragmentStorageBuffers(firstSlot uint32, buffers []*Buffer) error {
	return p.bindStorageBuffers(gputypes.ShaderStageFragment, firstSlot, buffers, "bind fragment storage buffers")
}

func (p *RenderPass) bindStorageBuffers(stage gputypes.ShaderStage, firstSlot uint32, buffers []*Buffer, op string) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive(op); err != nil {
		return err
	}
	resolved := make([]driver.Buffer, 0, len(buffers))
	for _, b := range buffers {
		if b == nil || b.released.Load() {
			return p.cb.dev.fail(fmt.Errorf("%s: %w", op, ErrResourceReleased))
		}
		if b.usage&BufferUsageGraphicsStorageRead == 0 {
			return p.cb.dev.fail(fmt.Errorf("%s: buffer %q lacks graphics storage read usage: %w",
				op, b.name, ErrUsage))
		}
		resolved = append(resolved, p.cb.readBuffer(b.ring))
	}
	p.cb.push(driver.BindStorageBuffers{Stage: stage, FirstSlot: firstSlot, Buffers: resolved})
	return nil
}

// BindVertexStorageTextures binds read-only storage textures for the
// vertex stage. Textures must carry TextureUsageGraphicsStorageRead.
func (p *RenderPass) BindVertexStorageTextures(firstSlot uint32, textures []*Texture) error {
	return p.bindStorageTextures(gputypes.ShaderStageVertex, firstSlot, textures, "bind vertex storage textures")
}

// BindFragmentStorageTextures binds read-only storage textures for the
// fragment stage. Textures must carry TextureUsageGraphicsStorageRead.
func (p *RenderPass) BindFragmentStorageTextures(firstSlot uint32, textures []*Texture) error {
	return p.bindStorageTextures(gputypes.ShaderStageFragment, firstSlot, textures, "bind fragment storage textures")
}

func (p *RenderPass) bindStorageTextures(stage gputypes.ShaderStage, firstSlot uint32, textures []*Texture, op string) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive(op); err != nil {
		return err
	}
	resolved := make([]driver.Texture, 0, len(textures))
	for _, t := range textures {
		if t == nil || t.released.Load() {
			return p.cb.dev.fail(fmt.Errorf("%s: %w", op, ErrResourceReleased))
		}
		if t.info.Usage&TextureUsageGraphicsStorageRead == 0 {
			return p.cb.dev.fail(fmt.Errorf("%s: texture %q lacks graphics storage read usage: %w",
				op, t.info.Name, ErrUsage))
		}
		resolved = append(resolved, p.cb.readTexture(t.ring))
	}
	p.cb.push(driver.BindStorageTextures{Stage: stage, FirstSlot: firstSlot, Textures: resolved})
	return nil
}

// DrawPrimitives records a non-indexed draw.
func (p *RenderPass) DrawPrimitives(vertices, instances, firstVertex, firstInstance uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("draw"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("draw: %w", ErrNoPipeline))
	}
	p.cb.push(driver.Draw{
		Vertices:      vertices,
		Instances:     instances,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
		Uniforms:      p.cb.drawUniforms(),
	})
	return nil
}

// DrawIndexedPrimitives records an indexed draw.
func (p *RenderPass) DrawIndexedPrimitives(indices, instances, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("draw indexed"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("draw indexed: %w", ErrNoPipeline))
	}
	p.cb.push(driver.DrawIndexed{
		Indices:       indices,
		Instances:     instances,
		FirstIndex:    firstIndex,
		VertexOffset:  vertexOffset,
		FirstInstance: firstInstance,
		Uniforms:      p.cb.drawUniforms(),
	})
	return nil
}

// DrawPrimitivesIndirect records draws with parameters read from buf on
// the device timeline. buf must carry BufferUsageIndirect.
func (p *RenderPass) DrawPrimitivesIndirect(buf *Buffer, offset uint64, drawCount uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("draw indirect"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("draw indirect: %w", ErrNoPipeline))
	}
	if buf == nil || buf.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("draw indirect: %w", ErrResourceReleased))
	}
	if buf.usage&BufferUsageIndirect == 0 {
		return p.cb.dev.fail(fmt.Errorf("draw indirect: buffer %q lacks indirect usage: %w", buf.name, ErrUsage))
	}
	p.cb.push(driver.DrawIndirect{
		Buffer:    p.cb.readBuffer(buf.ring),
		Offset:    offset,
		DrawCount: drawCount,
		Uniforms:  p.cb.drawUniforms(),
	})
	return nil
}

// DrawIndexedPrimitivesIndirect records indexed draws with parameters read
// from buf on the device timeline. buf must carry BufferUsageIndirect.
func (p *RenderPass) DrawIndexedPrimitivesIndirect(buf *Buffer, offset uint64, drawCount uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("draw indexed indirect"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("draw indexed indirect: %w", ErrNoPipeline))
	}
	if buf == nil || buf.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("draw indexed indirect: %w", ErrResourceReleased))
	}
	if buf.usage&BufferUsageIndirect == 0 {
		return p.cb.dev.fail(fmt.Errorf("draw indexed indirect: buffer %q lacks indirect usage: %w", buf.name, ErrUsage))
	}
	p.cb.push(driver.DrawIndexedIndirect{
		Buffer:    p.cb.readBuffer(buf.ring),
		Offset:    offset,
		DrawCount: drawCount,
		Uniforms:  p.cb.drawUniforms(),
	})
	return nil
}
