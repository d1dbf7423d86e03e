// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"encoding/binary"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// renderState tracks the attachments of the open render pass so store ops
// can act at pass end.
type renderState struct {
	colors       []driver.ColorAttachment
	depthStencil *driver.DepthStencilAttachment
}

// computeState tracks the open compute pass. Dispatches run on goroutines
// joined at pass end; within the pass they are deliberately unordered.
type computeState struct {
	storageBuffers  [][]byte
	storageTextures [][]byte
	pipeline        *computePipeline
	wg              sync.WaitGroup
}

// execute runs one submission's command stream to completion.
// Pass boundaries are the only intra-submission barriers.
func (d *Device) execute(sub *submission) {
	var render *renderState
	var compute *computeState

	for _, cmd := range sub.commands {
		switch c := cmd.(type) {
		case driver.BeginRenderPass:
			render = &renderState{colors: c.Colors, depthStencil: c.DepthStencil}
			for _, att := range c.Colors {
				if att.LoadOp == gputypes.LoadOpClear {
					clearLevel(att.Target, att.MipLevel, att.ClearColor)
				}
			}
			if ds := c.DepthStencil; ds != nil && ds.LoadOp == gputypes.LoadOpClear {
				zeroLevel(ds.Target, 0)
			}

		case driver.EndRenderPass:
			if render != nil {
				for _, att := range render.colors {
					if att.StoreOp == gputypes.StoreOpDiscard {
						zeroLevel(att.Target, att.MipLevel)
					}
				}
			}
			render = nil

		case driver.BeginComputePass:
			compute = &computeState{}
			for _, b := range c.StorageBuffers {
				compute.storageBuffers = append(compute.storageBuffers, b.(*buffer).data)
			}
			for _, t := range c.StorageTextures {
				compute.storageTextures = append(compute.storageTextures, t.(*texture).level(0).data)
			}

		case driver.BindComputePipeline:
			if compute != nil {
				compute.pipeline = c.Pipeline.(*computePipeline)
			}

		case driver.Dispatch:
			d.dispatch(compute, c.GroupsX, c.GroupsY, c.GroupsZ, c.Uniforms)

		case driver.DispatchIndirect:
			x, y, z := readDispatchArgs(c.Buffer, c.Offset)
			d.dispatch(compute, x, y, z, c.Uniforms)

		case driver.EndComputePass:
			if compute != nil {
				compute.wg.Wait()
			}
			compute = nil

		case driver.CopyBufferToBuffer:
			src := c.Src.Buffer.(*buffer)
			dst := c.Dst.Buffer.(*buffer)
			copyBytes(dst.data, c.Dst.Offset, src.data, c.Src.Offset, c.Src.Size)

		case driver.CopyBufferToTexture:
			copyBufferToTexture(c)

		case driver.CopyTextureToBuffer:
			copyTextureToBuffer(c)

		case driver.CopyTextureToTexture:
			copyTextureToTexture(c)

		case driver.Present:
			d.presented.Add(1)

		default:
			// Pipeline binds, draws and fixed-function state changes have
			// no observable effect on the software timeline.
		}
	}

	// A malformed stream could leave a pass open; join stragglers so the
	// fence never signals before dispatched work finishes.
	if compute != nil {
		compute.wg.Wait()
	}
}

// dispatch runs one host kernel invocation on its own goroutine. The pass
// provides no ordering between dispatches; EndComputePass joins them.
func (d *Device) dispatch(pass *computeState, x, y, z uint32, uniforms [4][]byte) {
	if pass == nil || pass.pipeline == nil || pass.pipeline.kernel == nil {
		return
	}
	inv := &driver.KernelInvocation{
		GroupsX:         x,
		GroupsY:         y,
		GroupsZ:         z,
		StorageBuffers:  pass.storageBuffers,
		StorageTextures: pass.storageTextures,
		Uniforms:        uniforms,
	}
	kernel := pass.pipeline.kernel
	pass.wg.Add(1)
	go func() {
		defer pass.wg.Done()
		kernel(inv)
	}()
}

// readDispatchArgs reads three little-endian uint32 workgroup counts.
func readDispatchArgs(b driver.Buffer, offset uint64) (x, y, z uint32) {
	data := b.(*buffer).data
	if offset+12 > uint64(len(data)) {
		return 0, 0, 0
	}
	x = binary.LittleEndian.Uint32(data[offset:])
	y = binary.LittleEndian.Uint32(data[offset+4:])
	z = binary.LittleEndian.Uint32(data[offset+8:])
	return x, y, z
}

// copyBytes copies size bytes with bounds clamping on both sides.
func copyBytes(dst []byte, dstOff uint64, src []byte, srcOff uint64, size uint64) {
	if srcOff >= uint64(len(src)) || dstOff >= uint64(len(dst)) {
		return
	}
	s := src[srcOff:]
	if size < uint64(len(s)) {
		s = s[:size]
	}
	copy(dst[dstOff:], s)
}

// clearLevel fills one mip level with a solid color. Only the 8-bit
// formats have a meaningful channel mapping; everything else zeroes.
func clearLevel(t driver.Texture, mip uint32, c gputypes.Color) {
	tex := t.(*texture)
	lv := tex.level(mip)
	var px [4]byte
	switch tex.format {
	case gputypes.TextureFormatRGBA8Unorm:
		px = [4]byte{unorm8(float64(c.R)), unorm8(float64(c.G)), unorm8(float64(c.B)), unorm8(float64(c.A))}
	case gputypes.TextureFormatBGRA8Unorm:
		px = [4]byte{unorm8(float64(c.B)), unorm8(float64(c.G)), unorm8(float64(c.R)), unorm8(float64(c.A))}
	default:
		for i := range lv.data {
			lv.data[i] = 0
		}
		return
	}
	for i := 0; i+4 <= len(lv.data); i += 4 {
		copy(lv.data[i:], px[:])
	}
}

// zeroLevel zeroes one mip level's storage.
func zeroLevel(t driver.Texture, mip uint32) {
	lv := t.(*texture).level(mip)
	for i := range lv.data {
		lv.data[i] = 0
	}
}

func unorm8(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

// copyBufferToTexture copies packed rows from buffer storage into a texture
// region, honoring the source row pitch.
func copyBufferToTexture(c driver.CopyBufferToTexture) {
	src := c.Src.Buffer.(*buffer)
	tex := c.Dst.Texture.(*texture)
	lv := tex.level(c.Dst.MipLevel)
	bpp := bytesPerTexel(tex.format)

	rowBytes := uint64(c.Dst.Extent.Width) * uint64(bpp)
	pitch := uint64(c.Layout.BytesPerRow)
	if pitch == 0 {
		pitch = rowBytes
	}
	layerBase := uint64(c.Dst.Layer) * uint64(lv.width) * uint64(lv.height) * uint64(bpp)
	for row := uint64(0); row < uint64(c.Dst.Extent.Height); row++ {
		srcOff := c.Src.Offset + uint64(c.Layout.Offset) + row*pitch
		dstOff := layerBase +
			(uint64(c.Dst.Origin.Y)+row)*uint64(lv.width)*uint64(bpp) +
			uint64(c.Dst.Origin.X)*uint64(bpp)
		copyBytes(lv.data, dstOff, src.data, srcOff, rowBytes)
	}
}

// copyTextureToBuffer copies a texture region into buffer storage as packed
// rows, honoring the destination row pitch.
func copyTextureToBuffer(c driver.CopyTextureToBuffer) {
	tex := c.Src.Texture.(*texture)
	dst := c.Dst.Buffer.(*buffer)
	lv := tex.level(c.Src.MipLevel)
	bpp := bytesPerTexel(tex.format)

	rowBytes := uint64(c.Src.Extent.Width) * uint64(bpp)
	pitch := uint64(c.Layout.BytesPerRow)
	if pitch == 0 {
		pitch = rowBytes
	}
	layerBase := uint64(c.Src.Layer) * uint64(lv.width) * uint64(lv.height) * uint64(bpp)
	for row := uint64(0); row < uint64(c.Src.Extent.Height); row++ {
		srcOff := layerBase +
			(uint64(c.Src.Origin.Y)+row)*uint64(lv.width)*uint64(bpp) +
			uint64(c.Src.Origin.X)*uint64(bpp)
		dstOff := c.Dst.Offset + uint64(c.Layout.Offset) + row*pitch
		copyBytes(dst.data, dstOff, lv.data, srcOff, rowBytes)
	}
}

// copyTextureToTexture copies a texel region between textures row by row.
func copyTextureToTexture(c driver.CopyTextureToTexture) {
	src := c.Src.Texture.(*texture)
	dst := c.Dst.Texture.(*texture)
	srcLv := src.level(c.Src.MipLevel)
	dstLv := dst.level(c.Dst.MipLevel)
	bpp := bytesPerTexel(src.format)

	rowBytes := uint64(c.Extent.Width) * uint64(bpp)
	for row := uint64(0); row < uint64(c.Extent.Height); row++ {
		srcOff := (uint64(c.Src.Origin.Y)+row)*uint64(srcLv.width)*uint64(bpp) +
			uint64(c.Src.Origin.X)*uint64(bpp)
		dstOff := (uint64(c.Dst.Origin.Y)+row)*uint64(dstLv.width)*uint64(bpp) +
			uint64(c.Dst.Origin.X)*uint64(bpp)
		copyBytes(dstLv.data, dstOff, srcLv.data, srcOff, rowBytes)
	}
}
