// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/driver"
)

// dispatchBinding holds the transient resources of one dispatch: the
// compiled pipeline variant plus the uniform buffers and bind group built
// for its snapshot.
type dispatchBinding struct {
	pipeline *compiledPipeline
	uniforms []hal.Buffer
	group    hal.BindGroup
}

// execute runs one submission on the hal queue and waits it out. Host
// shadows upload before encoding and copy destinations read back after the
// fence, so mapped transfer memory observes completed GPU work as soon as
// the submission fence signals.
func (d *Device) execute(sub *submission) error {
	uploads, downloads := hostBuffers(sub.commands)
	for _, b := range uploads {
		d.queue.WriteBuffer(b.b, 0, b.shadow)
	}

	bindings, err := d.prepareBindings(sub.commands)
	defer d.releaseBindings(bindings)
	if err != nil {
		return err
	}

	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: sub.label})
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	if err := encoder.BeginEncoding(sub.label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	var pass hal.ComputePassEncoder
	for i, cmd := range sub.commands {
		switch c := cmd.(type) {
		case driver.BeginComputePass:
			pass = encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: sub.label})
		case driver.EndComputePass:
			if pass != nil {
				pass.End()
				pass = nil
			}
		case driver.BindComputePipeline:
			// Binding happens per dispatch; the hal pipeline variant
			// depends on each dispatch's uniform snapshot.
		case driver.Dispatch:
			b := bindings[i]
			if b == nil || pass == nil {
				return fmt.Errorf("dispatch outside prepared compute pass")
			}
			pass.SetPipeline(b.pipeline.pipeline)
			pass.SetBindGroup(0, b.group, nil)
			pass.Dispatch(c.GroupsX, c.GroupsY, c.GroupsZ)
		case driver.BeginCopyPass, driver.EndCopyPass:
			// Copies encode directly on the hal encoder.
		case driver.CopyBufferToBuffer:
			src, dst, err := halBufferPair(c.Src.Buffer, c.Dst.Buffer)
			if err != nil {
				return err
			}
			encoder.CopyBufferToBuffer(src, dst, []hal.BufferCopy{{
				SrcOffset: c.Src.Offset,
				DstOffset: c.Dst.Offset,
				Size:      c.Src.Size,
			}})
		default:
			return fmt.Errorf("command %T: %w", cmd, driver.ErrNotAvailable)
		}
	}
	if pass != nil {
		pass.End()
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)

	fence, err := d.dev.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := d.waitFence(fence); err != nil {
		return err
	}

	for _, b := range downloads {
		if err := d.queue.ReadBuffer(b.b, 0, b.shadow); err != nil {
			return fmt.Errorf("read back %d bytes: %w", len(b.shadow), err)
		}
	}
	return nil
}

// prepareBindings walks the command stream before encoding and builds the
// per-dispatch transient resources, indexed by command position. Bind
// groups cannot be created mid-pass, so this runs up front.
func (d *Device) prepareBindings(commands []driver.Command) (map[int]*dispatchBinding, error) {
	bindings := make(map[int]*dispatchBinding)
	var storage []*buffer
	var pipeline *computePipeline
	for i, cmd := range commands {
		switch c := cmd.(type) {
		case driver.BeginComputePass:
			storage = storage[:0]
			for _, raw := range c.StorageBuffers {
				b, ok := raw.(*buffer)
				if !ok {
					return bindings, fmt.Errorf("foreign storage buffer in compute pass")
				}
				storage = append(storage, b)
			}
			if len(c.StorageTextures) > 0 {
				return bindings, fmt.Errorf("storage textures: %w", driver.ErrNotAvailable)
			}
		case driver.BindComputePipeline:
			p, ok := c.Pipeline.(*computePipeline)
			if !ok {
				return bindings, fmt.Errorf("foreign compute pipeline")
			}
			pipeline = p
		case driver.Dispatch:
			if pipeline == nil {
				return bindings, fmt.Errorf("dispatch without pipeline")
			}
			b, err := d.buildDispatch(pipeline, storage, c.Uniforms)
			if err != nil {
				return bindings, err
			}
			bindings[i] = b
		case driver.DispatchIndirect:
			return bindings, fmt.Errorf("indirect dispatch: %w", driver.ErrNotAvailable)
		}
	}
	return bindings, nil
}

// buildDispatch compiles the pipeline variant for one dispatch and creates
// its uniform buffers and bind group.
func (d *Device) buildDispatch(p *computePipeline, storage []*buffer, uniforms [4][]byte) (*dispatchBinding, error) {
	key := pipelineKey{storageBuffers: len(storage)}
	for slot, data := range uniforms {
		if len(data) > 0 {
			key.uniformMask |= 1 << slot
		}
	}
	compiled, err := p.compiled(key)
	if err != nil {
		return nil, err
	}

	b := &dispatchBinding{pipeline: compiled}
	var entries []gputypes.BindGroupEntry
	binding := uint32(0)
	for _, sb := range storage {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: sb.b.NativeHandle(),
				Offset: 0,
				Size:   sb.size,
			},
		})
		binding++
	}
	for _, data := range uniforms {
		if len(data) == 0 {
			continue
		}
		ub, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: p.label + "_uniform",
			Size:  uint64(len(data)),
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			d.releaseBinding(b)
			return nil, fmt.Errorf("uniform buffer: %w", err)
		}
		b.uniforms = append(b.uniforms, ub)
		d.queue.WriteBuffer(ub, 0, data)
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: ub.NativeHandle(),
				Offset: 0,
				Size:   uint64(len(data)),
			},
		})
		binding++
	}

	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.label,
		Layout:  compiled.bindLayout,
		Entries: entries,
	})
	if err != nil {
		d.releaseBinding(b)
		return nil, fmt.Errorf("bind group: %w", err)
	}
	b.group = group
	return b, nil
}

func (d *Device) releaseBinding(b *dispatchBinding) {
	if b.group != nil {
		d.dev.DestroyBindGroup(b.group)
	}
	for _, ub := range b.uniforms {
		d.dev.DestroyBuffer(ub)
	}
}

func (d *Device) releaseBindings(bindings map[int]*dispatchBinding) {
	for _, b := range bindings {
		d.releaseBinding(b)
	}
}

// halBufferPair unwraps two driver buffers to their hal handles.
func halBufferPair(src, dst driver.Buffer) (hal.Buffer, hal.Buffer, error) {
	sb, ok := src.(*buffer)
	if !ok {
		return nil, nil, fmt.Errorf("foreign source buffer")
	}
	db, ok := dst.(*buffer)
	if !ok {
		return nil, nil, fmt.Errorf("foreign destination buffer")
	}
	return sb.b, db.b, nil
}

// hostBuffers splits the host-visible buffers a stream references into
// upload candidates (every reference) and readback candidates (copy
// destinations).
func hostBuffers(commands []driver.Command) (uploads, downloads []*buffer) {
	seenUp := make(map[*buffer]bool)
	seenDown := make(map[*buffer]bool)
	up := func(raw driver.Buffer) {
		if b, ok := raw.(*buffer); ok && b.hostVisible && !seenUp[b] {
			seenUp[b] = true
			uploads = append(uploads, b)
		}
	}
	down := func(raw driver.Buffer) {
		if b, ok := raw.(*buffer); ok && b.hostVisible && !seenDown[b] {
			seenDown[b] = true
			downloads = append(downloads, b)
		}
	}
	for _, cmd := range commands {
		switch c := cmd.(type) {
		case driver.BeginComputePass:
			for _, b := range c.StorageBuffers {
				up(b)
				down(b)
			}
		case driver.CopyBufferToBuffer:
			up(c.Src.Buffer)
			down(c.Dst.Buffer)
		}
	}
	return uploads, downloads
}
