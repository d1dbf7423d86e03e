// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// cbState tracks the command buffer lifecycle.
type cbState uint8

const (
	// cbRecording accepts pass begins, uniform pushes and submission.
	cbRecording cbState = iota

	// cbSubmitted is terminal: the buffer was handed to the driver (or
	// failed on the way) and every further call is an error. A fresh
	// buffer must be acquired for new work.
	cbSubmitted
)

// uniform stage indices. The public API speaks gputypes.ShaderStage; the
// slot table is indexed densely.
const (
	stageVertex = iota
	stageFragment
	stageCompute
	stageCount
)

// maxUniformSlots is the per-stage uniform slot count.
const maxUniformSlots = 4

func stageIndex(stage gputypes.ShaderStage) (int, bool) {
	switch stage {
	case gputypes.ShaderStageVertex:
		return stageVertex, true
	case gputypes.ShaderStageFragment:
		return stageFragment, true
	case gputypes.ShaderStageCompute:
		return stageCompute, true
	}
	return 0, false
}

// CommandBuffer records GPU work and submits it as one atomic unit.
//
// A command buffer is acquired in the recording state, filled with passes
// and uniform pushes, and ended by exactly one call to [CommandBuffer.Submit],
// [CommandBuffer.SubmitAndAcquireFence] or [CommandBuffer.Cancel]. All
// three invalidate the buffer, on failure as well as success.
//
// Acquire and submit from the same goroutine. The buffer detects misuse
// from any goroutine (its state machine is mutex-guarded), but the
// recording API itself is not meant for concurrent encoding; use one
// command buffer per goroutine instead.
type CommandBuffer struct {
	dev *Device

	mu    sync.Mutex
	state cbState

	// pass is the open pass encoder, nil outside passes. Passes are
	// exclusive: only one may be open at a time.
	pass passEncoder

	commands []driver.Command

	// refs holds the backing references retained at encode time. Released
	// on the driver timeline when the submission completes, or immediately
	// when the buffer is cancelled or fails to submit.
	refs []backingRef

	// uniforms is the slot table: pushed data persists for the rest of the
	// buffer until the same stage/slot is pushed again.
	uniforms [stageCount][maxUniformSlots][]byte

	// frame is the swapchain frame acquired into this buffer, if any.
	// Submission presents it; cancellation is refused while it is held.
	frame *swapchainFrame
}

// passEncoder is implemented by the three pass types so the command buffer
// can track the open pass uniformly.
type passEncoder interface {
	passLabel() string
}

// AcquireCommandBuffer returns a fresh command buffer in the recording
// state. Command buffers are not reused; acquire one per submission.
func (d *Device) AcquireCommandBuffer() (*CommandBuffer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return &CommandBuffer{dev: d}, nil
}

// checkRecording returns the state error for a non-recording buffer.
// Caller must hold cb.mu.
func (cb *CommandBuffer) checkRecording(op string) error {
	if cb.state != cbRecording {
		return cb.dev.fail(fmt.Errorf("%s: %w", op, ErrCommandBufferSubmitted))
	}
	return nil
}

// retain records a backing reference held until the submission completes.
// Caller must hold cb.mu.
func (cb *CommandBuffer) retain(ring *backingRing, b *backing) {
	ring.retain(b)
	cb.refs = append(cb.refs, backingRef{ring: ring, b: b})
}

// push appends commands to the stream. Caller must hold cb.mu.
func (cb *CommandBuffer) push(cmds ...driver.Command) {
	cb.commands = append(cb.commands, cmds...)
}

// PushUniformData writes uniform data into one of the four per-stage slots.
// The data is copied and stays bound for every subsequent command of this
// buffer until the same stage and slot are pushed again; it does not carry
// over into other command buffers.
//
// Uniform pushes are legal at any point while recording, inside or outside
// passes.
func (cb *CommandBuffer) PushUniformData(stage gputypes.ShaderStage, slot uint32, data []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecording("push uniform data"); err != nil {
		return err
	}
	si, ok := stageIndex(stage)
	if !ok {
		return cb.dev.fail(fmt.Errorf("push uniform data: unknown shader stage %v", stage))
	}
	if slot >= maxUniformSlots {
		return cb.dev.fail(fmt.Errorf("push uniform data: slot %d: %w", slot, ErrUniformSlot))
	}
	if len(data) == 0 {
		return cb.dev.fail(fmt.Errorf("push uniform data: empty data"))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	cb.uniforms[si][slot] = buf
	return nil
}

// computeUniforms snapshots the compute-stage slot table for a dispatch.
// Caller must hold cb.mu.
func (cb *CommandBuffer) computeUniforms() [maxUniformSlots][]byte {
	return cb.uniforms[stageCompute]
}

// drawUniforms snapshots the vertex and fragment slot tables for a draw.
// Caller must hold cb.mu.
func (cb *CommandBuffer) drawUniforms() driver.StageUniforms {
	return driver.StageUniforms{
		Vertex:   cb.uniforms[stageVertex],
		Fragment: cb.uniforms[stageFragment],
	}
}

// beginPass flips the buffer into an open pass. Caller must hold cb.mu.
func (cb *CommandBuffer) beginPass(p passEncoder, op string) error {
	if err := cb.checkRecording(op); err != nil {
		return err
	}
	if cb.pass != nil {
		return cb.dev.fail(fmt.Errorf("%s: %q still open: %w", op, cb.pass.passLabel(), ErrPassInProgress))
	}
	cb.pass = p
	return nil
}

// endPass closes the open pass. Caller must hold cb.mu.
func (cb *CommandBuffer) endPass(p passEncoder) {
	if cb.pass == p {
		cb.pass = nil
	}
}

// readBuffer resolves a logical buffer's current backing for a read and
// retains it. Caller must hold cb.mu.
func (cb *CommandBuffer) readBuffer(ring *backingRing) driver.Buffer {
	b := ring.currentBacking()
	cb.retain(ring, b)
	return b.buf
}

// readTexture resolves a logical texture's current backing for a read and
// retains it. Caller must hold cb.mu.
func (cb *CommandBuffer) readTexture(ring *backingRing) driver.Texture {
	b := ring.currentBacking()
	cb.retain(ring, b)
	return b.tex
}

// writeBuffer resolves the backing a buffer write targets, cycling if
// requested, and retains it. Caller must hold cb.mu.
func (cb *CommandBuffer) writeBuffer(ring *backingRing, cycle bool, name string) (driver.Buffer, error) {
	hazard := !cycle && ring.boundCurrent()
	b, cycled, err := ring.writeTarget(cycle)
	if err != nil {
		return nil, cb.dev.fail(err)
	}
	cb.dev.noteCycle(cycled, hazard, name)
	cb.retain(ring, b)
	return b.buf, nil
}

// writeTexture is writeBuffer for texture rings. Caller must hold cb.mu.
func (cb *CommandBuffer) writeTexture(ring *backingRing, cycle bool, name string) (driver.Texture, error) {
	hazard := !cycle && ring.boundCurrent()
	b, cycled, err := ring.writeTarget(cycle)
	if err != nil {
		return nil, cb.dev.fail(err)
	}
	cb.dev.noteCycle(cycled, hazard, name)
	cb.retain(ring, b)
	return b.tex, nil
}

// releaseRefs drops all retained backing references. Called on the driver
// timeline after completion, or inline when the buffer never reaches the
// driver.
func (cb *CommandBuffer) releaseRefs() {
	for _, ref := range cb.refs {
		ref.ring.release(ref.b)
	}
	cb.refs = nil
}

// finishSubmission validates terminal-call preconditions and moves the
// buffer to its terminal state. Caller must hold cb.mu.
func (cb *CommandBuffer) finishSubmission(op string) error {
	if err := cb.checkRecording(op); err != nil {
		return err
	}
	if cb.pass != nil {
		cb.state = cbSubmitted
		cb.releaseRefs()
		cb.returnFrame()
		return cb.dev.fail(fmt.Errorf("%s: %q still open: %w", op, cb.pass.passLabel(), ErrPassInProgress))
	}
	cb.state = cbSubmitted
	return nil
}

// submit hands the stream to the driver. Caller must hold cb.mu and have
// called finishSubmission.
func (cb *CommandBuffer) submit(op string) (driver.Fence, error) {
	if cb.frame != nil {
		cb.push(driver.Present{Texture: cb.frame.tex})
	}

	refs := cb.refs
	cb.refs = nil
	frame := cb.frame
	cb.frame = nil

	sub := driver.Submission{
		Commands: cb.commands,
		OnComplete: func() {
			for _, ref := range refs {
				ref.ring.release(ref.b)
			}
			if frame != nil {
				frame.sc.recycle(frame)
			}
		},
	}
	cb.commands = nil

	f, err := cb.dev.drv.Submit(sub)
	if err != nil {
		// The driver rejected the stream; nothing will run, so drop the
		// references here instead of on the timeline.
		for _, ref := range refs {
			ref.ring.release(ref.b)
		}
		if frame != nil {
			frame.sc.recycle(frame)
		}
		return nil, cb.dev.fail(fmt.Errorf("%s: %w", op, err))
	}
	return f, nil
}

// Submit ends recording and enqueues the buffer's work. The work completes
// asynchronously on the device timeline; use [CommandBuffer.SubmitAndAcquireFence]
// to observe completion, or [Device.WaitIdle] to drain everything.
//
// The buffer is invalid after Submit returns, whether or not it succeeded.
func (cb *CommandBuffer) Submit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.finishSubmission("submit"); err != nil {
		return err
	}
	f, err := cb.submit("submit")
	if err != nil {
		return err
	}
	f.Release()
	return nil
}

// SubmitAndAcquireFence is Submit plus a fence observing completion of
// this submission, downloads included. The caller owns the fence and must
// release it.
func (cb *CommandBuffer) SubmitAndAcquireFence() (*Fence, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.finishSubmission("submit"); err != nil {
		return nil, err
	}
	f, err := cb.submit("submit")
	if err != nil {
		return nil, err
	}
	cb.dev.fences.Add(1)
	return &Fence{dev: cb.dev, f: f}, nil
}

// Cancel ends recording and discards the buffer without executing anything.
// Backing references are released immediately.
//
// A buffer that acquired a swapchain texture cannot be cancelled: the
// frame is committed to presentation once acquired. Cancel fails and the
// buffer stays recording; submit it instead.
func (cb *CommandBuffer) Cancel() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecording("cancel"); err != nil {
		return err
	}
	if cb.frame != nil {
		return cb.dev.fail(fmt.Errorf("cancel: swapchain texture acquired: %w", ErrSwapchainInUse))
	}
	cb.state = cbSubmitted
	cb.pass = nil
	cb.commands = nil
	cb.releaseRefs()
	return nil
}

// returnFrame hands an acquired frame back to its swapchain without
// presenting. Caller must hold cb.mu.
func (cb *CommandBuffer) returnFrame() {
	if cb.frame != nil {
		cb.frame.sc.recycle(cb.frame)
		cb.frame = nil
	}
}
