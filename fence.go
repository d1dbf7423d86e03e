// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"sync/atomic"

	"github.com/gogpu/gpuq/driver"
)

// Fence observes completion of one submission.
//
// A fence signals exactly once, after every command of its submission has
// completed. Downloads are included: once the fence signals, data copied
// into download transfer buffers is ready to map. A signaled fence never
// reverts, and there is no way to cancel the work it observes; the only
// terminal state is completion.
type Fence struct {
	dev      *Device
	f        driver.Fence
	released atomic.Bool
}

// Signaled reports completion without blocking. It returns false for a
// released fence.
func (f *Fence) Signaled() bool {
	if f == nil || f.released.Load() {
		return false
	}
	return f.f.Signaled()
}

// Wait blocks until the fence signals. Equivalent to
// dev.WaitForFences(true, f).
func (f *Fence) Wait() error {
	if f == nil {
		return ErrFenceReleased
	}
	if f.released.Load() {
		return f.dev.fail(ErrFenceReleased)
	}
	<-f.f.Done()
	return nil
}

// Release frees the fence. The submission it observed keeps running;
// Release only gives up the ability to observe it. Release is idempotent.
func (f *Fence) Release() {
	if f == nil || f.released.Swap(true) {
		return
	}
	f.dev.fences.Add(-1)
	f.f.Release()
}
