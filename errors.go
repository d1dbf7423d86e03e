// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import "errors"

// Contract and lifecycle errors.
var (
	// ErrDeviceClosed is returned when operations are called on a closed device.
	ErrDeviceClosed = errors.New("gpuq: device closed")

	// ErrNoDriver is returned when no registered driver can be opened.
	ErrNoDriver = errors.New("gpuq: no driver available")

	// ErrCommandBufferSubmitted is returned when a command buffer is used
	// after Submit; submission invalidates the buffer on success and failure.
	ErrCommandBufferSubmitted = errors.New("gpuq: command buffer already submitted")

	// ErrPassInProgress is returned by BeginRenderPass, BeginComputePass and
	// BeginCopyPass while another pass of the same command buffer is open.
	ErrPassInProgress = errors.New("gpuq: a pass is already in progress")

	// ErrPassEnded is returned when commands are recorded into an ended pass.
	ErrPassEnded = errors.New("gpuq: pass has ended")

	// ErrNoPipeline is returned when a draw or dispatch is issued before a
	// pipeline is bound.
	ErrNoPipeline = errors.New("gpuq: no pipeline bound")

	// ErrResourceReleased is returned when a released resource handle is used.
	ErrResourceReleased = errors.New("gpuq: resource released")

	// ErrFenceReleased is returned when a released fence is queried or waited on.
	ErrFenceReleased = errors.New("gpuq: fence released")

	// ErrUniformSlot is returned when a uniform slot index is out of range.
	ErrUniformSlot = errors.New("gpuq: uniform slot out of range [0,4)")

	// ErrWindowNotClaimed is returned by swapchain operations on an
	// unclaimed window.
	ErrWindowNotClaimed = errors.New("gpuq: window not claimed")

	// ErrWindowClaimed is returned when claiming an already-claimed window.
	ErrWindowClaimed = errors.New("gpuq: window already claimed")

	// ErrSwapchainInUse is returned when a command buffer acquires a
	// swapchain texture already held by another pending command buffer.
	ErrSwapchainInUse = errors.New("gpuq: swapchain texture held by another command buffer")

	// ErrUnsupported is returned when a capability was requested without a
	// prior successful support query (present mode, composition, format).
	ErrUnsupported = errors.New("gpuq: capability not supported")

	// ErrUsage is returned when a resource lacks the usage flags an
	// operation requires.
	ErrUsage = errors.New("gpuq: resource usage does not permit operation")

	// ErrMapped is returned when operations reference a transfer buffer
	// that is currently mapped, or Unmap is called on an unmapped one.
	ErrMapped = errors.New("gpuq: transfer buffer map state invalid")
)
