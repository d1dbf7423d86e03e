// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
)

// backing is one physical allocation in a resource's cycling ring. Exactly
// one of buf/tex is set. refs counts encode-time references held by pending
// or in-flight command buffers; a backing with refs > 0 is "bound" and is
// never handed out as a cycling write target.
type backing struct {
	buf driverBuffer
	tex driverTexture

	// refs is guarded by the owning ring's mutex.
	refs int
}

// driverBuffer and driverTexture mirror the driver backing interfaces.
// Declared locally so pool.go reads without the driver package; the method
// sets match driver.Buffer and driver.Texture exactly, so values assign
// freely in both directions.
type (
	driverBuffer = interface {
		Destroy()
		Size() uint64
		Map() []byte
	}
	driverTexture = interface {
		Destroy()
		Size() gputypes.Extent3D
		Format() gputypes.TextureFormat
	}
)

// backingRing owns the physical backings of one logical resource and
// implements cycling: rotating the "current" backing away from bound ones
// so a write can proceed without touching data in-flight work still reads.
//
// The ring's mutex serializes backing selection across all command buffers,
// so concurrent cycling writes from different goroutines never select the
// same unbound backing.
type backingRing struct {
	mu sync.Mutex

	label string

	// allocBuffer or allocTexture creates one more backing; exactly one is set.
	allocBuffer  func() (driverBuffer, error)
	allocTexture func() (driverTexture, error)

	// backingBytes is the per-backing allocation size, for pool stats.
	backingBytes uint64

	backings []*backing
	current  int

	// cycles counts backing switches, for pool stats.
	cycles uint64

	destroyed bool
}

// currentBacking returns the backing reads target. The current backing only
// changes on a cycling write, never behind a reader's back.
func (r *backingRing) currentBacking() *backing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backings[r.current]
}

// writeTarget returns the backing a write must target.
//
// With cycle set, a bound current backing is atomically replaced as
// "current" by an unbound one — reusing a free ring slot or allocating a
// new backing. References already encoded against the old backing keep
// observing it. With cycle unset the current backing is returned as-is;
// hazard detection is the caller's concern.
//
// The second result reports whether a switch occurred.
func (r *backingRing) writeTarget(cycle bool) (*backing, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.backings[r.current]
	if !cycle || cur.refs == 0 {
		return cur, false, nil
	}

	// Prefer an existing unbound backing over allocating.
	for i, b := range r.backings {
		if b.refs == 0 {
			r.current = i
			r.cycles++
			return b, true, nil
		}
	}

	b, err := r.allocLocked()
	if err != nil {
		return nil, false, fmt.Errorf("cycle %q: %w", r.label, err)
	}
	r.backings = append(r.backings, b)
	r.current = len(r.backings) - 1
	r.cycles++
	return b, true, nil
}

// allocLocked creates one more backing. Caller must hold r.mu.
func (r *backingRing) allocLocked() (*backing, error) {
	if r.allocBuffer != nil {
		buf, err := r.allocBuffer()
		if err != nil {
			return nil, err
		}
		return &backing{buf: buf}, nil
	}
	tex, err := r.allocTexture()
	if err != nil {
		return nil, err
	}
	return &backing{tex: tex}, nil
}

// retain marks the backing referenced by one pending command buffer.
func (r *backingRing) retain(b *backing) {
	r.mu.Lock()
	b.refs++
	r.mu.Unlock()
}

// release drops one reference. Called on the driver timeline when the
// referencing submission completes, or when an unsubmitted command buffer
// is abandoned.
func (r *backingRing) release(b *backing) {
	r.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	r.mu.Unlock()
}

// boundCurrent reports whether the current backing is referenced by any
// pending or in-flight command buffer. Used for the debug-mode warning on
// non-cycled writes.
func (r *backingRing) boundCurrent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backings[r.current].refs > 0
}

// size returns the backing count, for pool stats.
func (r *backingRing) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backings)
}

// cycleCount returns the number of backing switches performed.
func (r *backingRing) cycleCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// destroy releases every backing. The resource's release path calls this
// only after its references have drained.
func (r *backingRing) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	for _, b := range r.backings {
		if b.buf != nil {
			b.buf.Destroy()
		}
		if b.tex != nil {
			b.tex.Destroy()
		}
	}
	r.backings = nil
}

// backingRef pairs a retained backing with its ring so a command buffer can
// drop the reference on completion.
type backingRef struct {
	ring *backingRing
	b    *backing
}

// PoolStats reports the resource pool's backing bookkeeping.
type PoolStats struct {
	// Resources is the number of live logical resources.
	Resources int

	// Backings is the total physical allocation count across all rings.
	Backings int

	// Bytes is the total buffer bytes allocated across all rings.
	// Texture backings are counted in Backings but not sized here.
	Bytes uint64

	// Cycles is the total number of backing switches performed.
	Cycles uint64
}

// String returns a human-readable form of the pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d resources, %d backings, %d KB, %d cycles]",
		s.Resources, s.Backings, s.Bytes/1024, s.Cycles)
}
