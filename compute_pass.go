// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// StorageBufferBinding declares one read-write storage buffer at compute
// pass begin.
type StorageBufferBinding struct {
	Buffer *Buffer

	// Cycle rotates the buffer's backing if it is still referenced by
	// earlier pending work, so the pass writes fresh storage.
	Cycle bool
}

// StorageTextureBinding declares one read-write storage texture at compute
// pass begin.
type StorageTextureBinding struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32

	// Cycle rotates the texture's backing if it is still referenced by
	// earlier pending work. Cycling invalidates the whole texture.
	Cycle bool
}

// ComputePass records compute dispatches against read-write storage
// declared up front.
//
// Dispatches within one pass have no ordering or memory barriers between
// them: each dispatch may or may not observe the writes of any other
// dispatch in the same pass, and they may execute concurrently. When one
// dispatch must read what another wrote, end the pass and begin a new one;
// the pass boundary is the only synchronization point.
//
// Begin with [CommandBuffer.BeginComputePass]; only one pass of any kind
// may be open on a command buffer at a time.
type ComputePass struct {
	cb       *CommandBuffer
	ended    bool
	pipeline bool
}

func (p *ComputePass) passLabel() string { return "compute pass" }

// BeginComputePass opens a compute pass. The storage bindings are the
// writable resources of the pass; binding a resource here counts as a
// write for cycling purposes even if no dispatch touches it.
//
// Buffers must carry BufferUsageComputeStorageWrite. Textures must carry
// TextureUsageComputeStorageWrite or the simultaneous read-write usage.
func (cb *CommandBuffer) BeginComputePass(textures []StorageTextureBinding, buffers []StorageBufferBinding) (*ComputePass, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	p := &ComputePass{cb: cb}
	if err := cb.beginPass(p, "begin compute pass"); err != nil {
		return nil, err
	}

	begin := driver.BeginComputePass{}
	for _, tb := range textures {
		if tb.Texture == nil || tb.Texture.released.Load() {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin compute pass: storage texture: %w", ErrResourceReleased))
		}
		const writable = TextureUsageComputeStorageWrite | TextureUsageComputeStorageSimultaneousReadWrite
		if tb.Texture.info.Usage&writable == 0 {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin compute pass: texture %q lacks compute storage write usage: %w",
				tb.Texture.info.Name, ErrUsage))
		}
		tex, err := cb.writeTexture(tb.Texture.ring, tb.Cycle, tb.Texture.info.Name)
		if err != nil {
			cb.endPass(p)
			return nil, err
		}
		begin.StorageTextures = append(begin.StorageTextures, tex)
	}
	for _, bb := range buffers {
		if bb.Buffer == nil || bb.Buffer.released.Load() {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin compute pass: storage buffer: %w", ErrResourceReleased))
		}
		if bb.Buffer.usage&BufferUsageComputeStorageWrite == 0 {
			cb.endPass(p)
			return nil, cb.dev.fail(fmt.Errorf("begin compute pass: buffer %q lacks compute storage write usage: %w",
				bb.Buffer.name, ErrUsage))
		}
		buf, err := cb.writeBuffer(bb.Buffer.ring, bb.Cycle, bb.Buffer.name)
		if err != nil {
			cb.endPass(p)
			return nil, err
		}
		begin.StorageBuffers = append(begin.StorageBuffers, buf)
	}

	cb.push(begin)
	return p, nil
}

// checkActive validates that the pass still accepts commands.
// Caller must hold p.cb.mu.
func (p *ComputePass) checkActive(op string) error {
	if err := p.cb.checkRecording(op); err != nil {
		return err
	}
	if p.ended {
		return p.cb.dev.fail(fmt.Errorf("%s: %w", op, ErrPassEnded))
	}
	return nil
}

// End closes the pass. All dispatches of the pass complete before any
// later command of this submission starts.
func (p *ComputePass) End() error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("end compute pass"); err != nil {
		return err
	}
	p.ended = true
	p.cb.endPass(p)
	p.cb.push(driver.EndComputePass{})
	return nil
}

// BindPipeline selects the compute pipeline for subsequent dispatches.
func (p *ComputePass) BindPipeline(cp *ComputePipeline) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind compute pipeline"); err != nil {
		return err
	}
	if cp == nil || cp.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("bind compute pipeline: %w", ErrResourceReleased))
	}
	p.pipeline = true
	p.cb.push(driver.BindComputePipeline{Pipeline: cp.p})
	return nil
}

// BindSamplers binds texture/sampler pairs for compute-stage sampling,
// starting at firstSlot.
func (p *ComputePass) BindSamplers(firstSlot uint32, pairs []TextureSamplerPair) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind compute samplers"); err != nil {
		return err
	}
	bindings, err := p.cb.resolveSamplerPairs(pairs, "bind compute samplers")
	if err != nil {
		return err
	}
	p.cb.push(driver.BindSamplers{
		Stage:     gputypes.ShaderStageCompute,
		FirstSlot: firstSlot,
		Pairs:     bindings,
	})
	return nil
}

// BindStorageBuffers binds read-only storage buffers for the compute
// stage, starting at firstSlot. Buffers must carry
// BufferUsageComputeStorageRead.
func (p *ComputePass) BindStorageBuffers(firstSlot uint32, buffers []*Buffer) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind compute storage buffers"); err != nil {
		return err
	}
	resolved := make([]driver.Buffer, 0, len(buffers))
	for _, b := range buffers {
		if b == nil || b.released.Load() {
			return p.cb.dev.fail(fmt.Errorf("bind compute storage buffers: %w", ErrResourceReleased))
		}
		if b.usage&BufferUsageComputeStorageRead == 0 {
			return p.cb.dev.fail(fmt.Errorf("bind compute storage buffers: buffer %q lacks compute storage read usage: %w",
				b.name, ErrUsage))
		}
		resolved = append(resolved, p.cb.readBuffer(b.ring))
	}
	p.cb.push(driver.BindStorageBuffers{
		Stage:     gputypes.ShaderStageCompute,
		FirstSlot: firstSlot,
		Buffers:   resolved,
	})
	return nil
}

// BindStorageTextures binds read-only storage textures for the compute
// stage, starting at firstSlot. Textures must carry
// TextureUsageComputeStorageRead.
func (p *ComputePass) BindStorageTextures(firstSlot uint32, textures []*Texture) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("bind compute storage textures"); err != nil {
		return err
	}
	resolved := make([]driver.Texture, 0, len(textures))
	for _, t := range textures {
		if t == nil || t.released.Load() {
			return p.cb.dev.fail(fmt.Errorf("bind compute storage textures: %w", ErrResourceReleased))
		}
		if t.info.Usage&TextureUsageComputeStorageRead == 0 {
			return p.cb.dev.fail(fmt.Errorf("bind compute storage textures: texture %q lacks compute storage read usage: %w",
				t.info.Name, ErrUsage))
		}
		resolved = append(resolved, p.cb.readTexture(t.ring))
	}
	p.cb.push(driver.BindStorageTextures{
		Stage:     gputypes.ShaderStageCompute,
		FirstSlot: firstSlot,
		Textures:  resolved,
	})
	return nil
}

// Dispatch records one compute dispatch with the given workgroup counts.
// The compute-stage uniform slots are captured as of this call.
func (p *ComputePass) Dispatch(groupsX, groupsY, groupsZ uint32) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("dispatch"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("dispatch: %w", ErrNoPipeline))
	}
	p.cb.push(driver.Dispatch{
		GroupsX:  groupsX,
		GroupsY:  groupsY,
		GroupsZ:  groupsZ,
		Uniforms: p.cb.computeUniforms(),
	})
	return nil
}

// DispatchIndirect records a dispatch whose workgroup counts are read from
// buf at offset as three little-endian uint32 values on the device
// timeline. buf must carry BufferUsageIndirect.
func (p *ComputePass) DispatchIndirect(buf *Buffer, offset uint64) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("dispatch indirect"); err != nil {
		return err
	}
	if !p.pipeline {
		return p.cb.dev.fail(fmt.Errorf("dispatch indirect: %w", ErrNoPipeline))
	}
	if buf == nil || buf.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("dispatch indirect: %w", ErrResourceReleased))
	}
	if buf.usage&BufferUsageIndirect == 0 {
		return p.cb.dev.fail(fmt.Errorf("dispatch indirect: buffer %q lacks indirect usage: %w", buf.name, ErrUsage))
	}
	p.cb.push(driver.DispatchIndirect{
		Buffer:   p.cb.readBuffer(buf.ring),
		Offset:   offset,
		Uniforms: p.cb.computeUniforms(),
	})
	return nil
}
