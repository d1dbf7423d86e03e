// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

// buffer is a byte-slice backed buffer.
type buffer struct {
	label       string
	data        []byte
	hostVisible bool
	destroyed   atomic.Bool
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *buffer) Map() []byte {
	if !b.hostVisible {
		return nil
	}
	return b.data
}

func (b *buffer) Destroy() { b.destroyed.Store(true) }

// mipLevel is the texel storage of one mip level, all layers packed.
type mipLevel struct {
	width  uint32
	height uint32
	data   []byte
}

// texture is byte-slice backed texel storage per mip level.
type texture struct {
	label     string
	format    gputypes.TextureFormat
	size      gputypes.Extent3D
	levels    []*mipLevel
	destroyed atomic.Bool
}

func (t *texture) Size() gputypes.Extent3D        { return t.size }
func (t *texture) Format() gputypes.TextureFormat { return t.format }
func (t *texture) Destroy()                       { t.destroyed.Store(true) }

// level returns the storage for a mip level, clamped to the last level.
func (t *texture) level(mip uint32) *mipLevel {
	if int(mip) >= len(t.levels) {
		return t.levels[len(t.levels)-1]
	}
	return t.levels[mip]
}

type sampler struct {
	desc driver.SamplerDescriptor
}

func (s *sampler) Destroy() {}

type shader struct {
	desc driver.ShaderDescriptor
}

func (s *shader) Destroy() {}

type graphicsPipeline struct {
	desc driver.GraphicsPipelineDescriptor
}

func (p *graphicsPipeline) Destroy() {}

type computePipeline struct {
	desc   driver.ComputePipelineDescriptor
	kernel driver.Kernel
}

func (p *computePipeline) Destroy() {}

// fence signals exactly once and never reverts.
type fence struct {
	signaled atomic.Bool
	once     sync.Once
	ch       chan struct{}
}

func newFence() *fence {
	return &fence{ch: make(chan struct{})}
}

func (f *fence) signal() {
	f.once.Do(func() {
		f.signaled.Store(true)
		close(f.ch)
	})
}

func (f *fence) Signaled() bool        { return f.signaled.Load() }
func (f *fence) Done() <-chan struct{} { return f.ch }
func (f *fence) Release()              {}
