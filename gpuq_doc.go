// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpuq is an explicit GPU command-submission layer for Go.
//
// Applications acquire a [CommandBuffer] from a [Device], record work into
// it through scoped passes — [RenderPass], [ComputePass], [CopyPass] — and
// submit it atomically to an asynchronous GPU timeline. The package models
// the synchronization contract of explicit GPU APIs without hiding it:
//
//   - Command buffers submitted in order begin executing in that order.
//   - A command buffer holds at most one open pass at a time.
//   - Writable resources rotate between physical backings ("cycling") so a
//     new frame's data can be written while in-flight work still reads the
//     previous backing, without fence waits.
//   - A [Fence] observes completion of one submission; it signals once and
//     never reverts. There is no cancellation.
//   - Dispatches inside one compute pass have no ordering or memory
//     barriers between them; ordering requires a pass boundary.
//
// Basic usage:
//
//	dev, err := gpuq.Open()
//	if err != nil {
//		return err
//	}
//	defer dev.Close()
//
//	cb, err := dev.AcquireCommandBuffer()
//	if err != nil {
//		return err
//	}
//	cp, _ := cb.BeginCopyPass()
//	cp.UploadToBuffer(tb, 0, buf, 0, 64, true)
//	cp.End()
//	fence, err := cb.SubmitAndAcquireFence()
//	if err != nil {
//		return err
//	}
//	defer fence.Release()
//	dev.WaitForFences(true, fence)
//
// Work executes on a pluggable driver. The soft driver
// (github.com/gogpu/gpuq/driver/soft) runs submissions on a software FIFO
// timeline and is always available; the wgpu driver maps the same contract
// onto GPU hardware through gogpu/wgpu. Import a driver package for its
// side-effect registration:
//
//	import _ "github.com/gogpu/gpuq/driver/soft"
//
// The package produces no log output by default; see [SetLogger].
package gpuq
