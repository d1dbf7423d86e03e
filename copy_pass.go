// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// TextureRegionInfo addresses a texel region of a logical texture for copy
// operations.
type TextureRegionInfo struct {
	Texture  *Texture
	MipLevel uint32
	Layer    uint32
	Origin   gputypes.Origin3D

	// Extent is the region size. A zero extent means the full mip level.
	Extent gputypes.Extent3D
}

// CopyPass records transfer commands: uploads from transfer buffers,
// downloads into them, and GPU-side copies. Copy commands within one pass
// have no ordering guarantees among themselves; end the pass before work
// that depends on a copy's result.
//
// Begin with [CommandBuffer.BeginCopyPass]; only one pass of any kind may
// be open on a command buffer at a time.
type CopyPass struct {
	cb    *CommandBuffer
	ended bool
}

func (p *CopyPass) passLabel() string { return "copy pass" }

// BeginCopyPass opens a copy pass on the command buffer.
func (cb *CommandBuffer) BeginCopyPass() (*CopyPass, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	p := &CopyPass{cb: cb}
	if err := cb.beginPass(p, "begin copy pass"); err != nil {
		return nil, err
	}
	cb.push(driver.BeginCopyPass{})
	return p, nil
}

// checkActive validates that the pass still accepts commands.
// Caller must hold p.cb.mu.
func (p *CopyPass) checkActive(op string) error {
	if err := p.cb.checkRecording(op); err != nil {
		return err
	}
	if p.ended {
		return p.cb.dev.fail(fmt.Errorf("%s: %w", op, ErrPassEnded))
	}
	return nil
}

// End closes the pass. The command buffer accepts a new pass afterwards.
func (p *CopyPass) End() error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("end copy pass"); err != nil {
		return err
	}
	p.ended = true
	p.cb.endPass(p)
	p.cb.push(driver.EndCopyPass{})
	return nil
}

// UploadToBuffer records a copy from a transfer buffer into a buffer.
//
// With cycle set, a destination backing still referenced by earlier
// pending work is rotated away before the write, so in-flight reads keep
// observing the old contents. Without cycle, overlapping the write with
// such reads leaves their result undefined.
func (p *CopyPass) UploadToBuffer(src *TransferBuffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64, cycle bool) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("upload to buffer"); err != nil {
		return err
	}
	if err := p.checkTransfer(src, TransferBufferUsageUpload, "upload to buffer"); err != nil {
		return err
	}
	if dst == nil || dst.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("upload to buffer: destination: %w", ErrResourceReleased))
	}
	if size == 0 {
		return p.cb.dev.fail(fmt.Errorf("upload to buffer: zero size"))
	}

	srcBuf := p.cb.readBuffer(src.ring)
	dstBuf, err := p.cb.writeBuffer(dst.ring, cycle, dst.name)
	if err != nil {
		return err
	}
	p.cb.push(driver.CopyBufferToBuffer{
		Src: driver.BufferRange{Buffer: srcBuf, Offset: srcOffset, Size: size},
		Dst: driver.BufferRange{Buffer: dstBuf, Offset: dstOffset, Size: size},
	})
	return nil
}

// UploadToTexture records a copy from a transfer buffer into a texture
// region. layout describes the packing of the staged texel data.
//
// Cycling a texture invalidates the whole logical texture, not only the
// written region: after a cycling upload, every texel outside the region
// is undefined until written.
func (p *CopyPass) UploadToTexture(src *TransferBuffer, srcOffset uint64, layout gputypes.TextureDataLayout, dst TextureRegionInfo, cycle bool) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("upload to texture"); err != nil {
		return err
	}
	if err := p.checkTransfer(src, TransferBufferUsageUpload, "upload to texture"); err != nil {
		return err
	}
	if dst.Texture == nil || dst.Texture.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("upload to texture: destination: %w", ErrResourceReleased))
	}
	if cycle && dst.Texture.swapchainOwned {
		return p.cb.dev.fail(fmt.Errorf("upload to texture: cycling a swapchain texture: %w", ErrUsage))
	}

	srcBuf := p.cb.readBuffer(src.ring)
	dstTex, err := p.cb.writeTexture(dst.Texture.ring, cycle, dst.Texture.info.Name)
	if err != nil {
		return err
	}
	p.cb.push(driver.CopyBufferToTexture{
		Src:    driver.BufferRange{Buffer: srcBuf, Offset: srcOffset},
		Layout: layout,
		Dst:    p.resolveRegion(dst, dstTex),
	})
	return nil
}

// DownloadFromBuffer records a copy from a buffer into a download transfer
// buffer. The data is ready to map once the submitting command buffer's
// fence signals.
func (p *CopyPass) DownloadFromBuffer(src *Buffer, srcOffset uint64, dst *TransferBuffer, dstOffset, size uint64) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("download from buffer"); err != nil {
		return err
	}
	if src == nil || src.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("download from buffer: source: %w", ErrResourceReleased))
	}
	if err := p.checkTransfer(dst, TransferBufferUsageDownload, "download from buffer"); err != nil {
		return err
	}
	if size == 0 {
		return p.cb.dev.fail(fmt.Errorf("download from buffer: zero size"))
	}

	srcBuf := p.cb.readBuffer(src.ring)
	// Downloads write the transfer buffer's current backing; the CPU reads
	// it after the fence, so there is no cycle parameter here.
	dstBuf := p.cb.readBuffer(dst.ring)
	p.cb.push(driver.CopyBufferToBuffer{
		Src: driver.BufferRange{Buffer: srcBuf, Offset: srcOffset, Size: size},
		Dst: driver.BufferRange{Buffer: dstBuf, Offset: dstOffset, Size: size},
	})
	return nil
}

// DownloadFromTexture records a copy from a texture region into a download
// transfer buffer as packed texels described by layout.
func (p *CopyPass) DownloadFromTexture(src TextureRegionInfo, dst *TransferBuffer, dstOffset uint64, layout gputypes.TextureDataLayout) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("download from texture"); err != nil {
		return err
	}
	if src.Texture == nil || src.Texture.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("download from texture: source: %w", ErrResourceReleased))
	}
	if err := p.checkTransfer(dst, TransferBufferUsageDownload, "download from texture"); err != nil {
		return err
	}

	srcTex := p.cb.readTexture(src.Texture.ring)
	dstBuf := p.cb.readBuffer(dst.ring)
	p.cb.push(driver.CopyTextureToBuffer{
		Src:    p.resolveRegion(src, srcTex),
		Dst:    driver.BufferRange{Buffer: dstBuf, Offset: dstOffset},
		Layout: layout,
	})
	return nil
}

// CopyBufferToBuffer records a GPU-side copy between two buffers.
func (p *CopyPass) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64, cycle bool) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("copy buffer"); err != nil {
		return err
	}
	if src == nil || src.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("copy buffer: source: %w", ErrResourceReleased))
	}
	if dst == nil || dst.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("copy buffer: destination: %w", ErrResourceReleased))
	}
	if size == 0 {
		return p.cb.dev.fail(fmt.Errorf("copy buffer: zero size"))
	}

	srcBuf := p.cb.readBuffer(src.ring)
	dstBuf, err := p.cb.writeBuffer(dst.ring, cycle, dst.name)
	if err != nil {
		return err
	}
	p.cb.push(driver.CopyBufferToBuffer{
		Src: driver.BufferRange{Buffer: srcBuf, Offset: srcOffset, Size: size},
		Dst: driver.BufferRange{Buffer: dstBuf, Offset: dstOffset, Size: size},
	})
	return nil
}

// CopyTextureToTexture records a GPU-side copy between texture regions.
// The extent is taken from src; a zero extent copies src's full mip level.
func (p *CopyPass) CopyTextureToTexture(src, dst TextureRegionInfo, cycle bool) error {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	if err := p.checkActive("copy texture"); err != nil {
		return err
	}
	if src.Texture == nil || src.Texture.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("copy texture: source: %w", ErrResourceReleased))
	}
	if dst.Texture == nil || dst.Texture.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("copy texture: destination: %w", ErrResourceReleased))
	}
	if cycle && dst.Texture.swapchainOwned {
		return p.cb.dev.fail(fmt.Errorf("copy texture: cycling a swapchain texture: %w", ErrUsage))
	}

	srcTex := p.cb.readTexture(src.Texture.ring)
	dstTex, err := p.cb.writeTexture(dst.Texture.ring, cycle, dst.Texture.info.Name)
	if err != nil {
		return err
	}
	extent := src.Extent
	if extent.Width == 0 {
		extent = mipExtent(src.Texture, src.MipLevel)
	}
	p.cb.push(driver.CopyTextureToTexture{
		Src:    p.resolveRegion(src, srcTex),
		Dst:    p.resolveRegion(dst, dstTex),
		Extent: extent,
	})
	return nil
}

// checkTransfer validates a transfer buffer argument, including its
// direction. Caller must hold p.cb.mu.
func (p *CopyPass) checkTransfer(t *TransferBuffer, usage TransferBufferUsage, op string) error {
	if t == nil || t.released.Load() {
		return p.cb.dev.fail(fmt.Errorf("%s: transfer buffer: %w", op, ErrResourceReleased))
	}
	if t.usage != usage {
		return p.cb.dev.fail(fmt.Errorf("%s: transfer buffer %q direction: %w", op, t.name, ErrUsage))
	}
	return nil
}

// resolveRegion turns a logical region into a driver region against the
// already-resolved backing, defaulting a zero extent to the full mip level.
func (p *CopyPass) resolveRegion(r TextureRegionInfo, tex driver.Texture) driver.TextureRegion {
	extent := r.Extent
	if extent.Width == 0 {
		extent = mipExtent(r.Texture, r.MipLevel)
	}
	return driver.TextureRegion{
		Texture:  tex,
		MipLevel: r.MipLevel,
		Layer:    r.Layer,
		Origin:   r.Origin,
		Extent:   extent,
	}
}

// mipExtent returns the full extent of a texture mip level.
func mipExtent(t *Texture, mip uint32) gputypes.Extent3D {
	w := max(t.info.Width>>mip, 1)
	h := max(t.info.Height>>mip, 1)
	return gputypes.Extent3D{
		Width:              w,
		Height:             h,
		DepthOrArrayLayers: max(t.info.LayerCount, 1),
	}
}
