// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package soft implements the gpuq driver contract on a software timeline.
//
// A single executor goroutine consumes submissions in FIFO order, which
// realizes the cross-submission total order the contract requires. Copy
// commands move real bytes, render pass load/store ops act on real texel
// storage, and compute dispatches run host kernels — dispatches of the same
// pass concurrently, pass boundaries as joins — so every synchronization
// guarantee of the submission layer is concretely observable.
//
// The device executes host-format shaders only; SPIR-V and WGSL modules are
// accepted and retained but their draws execute as no-ops. That is enough
// for the submission layer's contract, which governs ordering and data
// movement, not shading.
package soft

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuq/driver"
)

func init() {
	driver.Register(driver.NameSoft, func(opts driver.Options) (driver.Device, error) {
		return New(opts), nil
	})
}

// Device is a software driver device.
type Device struct {
	debug bool

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*submission
	pending int
	closed  bool
	done    chan struct{}

	// presented counts frames handed to the virtual compositor.
	presented atomic.Uint64
}

type submission struct {
	label      string
	commands   []driver.Command
	onComplete func()
	fence      *fence
}

// New opens a software device. The executor goroutine runs until Destroy.
func New(opts driver.Options) *Device {
	d := &Device{
		debug: opts.Debug,
		done:  make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Name returns the driver identifier.
func (d *Device) Name() string { return driver.NameSoft }

// Caps returns the device capability set. The software device presents to a
// virtual compositor, so every present mode is available; HDR compositions
// are not.
func (d *Device) Caps() driver.Caps {
	return driver.Caps{
		ShaderFormats:   driver.ShaderFormatSPIRV | driver.ShaderFormatWGSL | driver.ShaderFormatHost,
		SupportsPresent: true,
		PresentModes: []driver.PresentMode{
			driver.PresentModeVSync,
			driver.PresentModeImmediate,
			driver.PresentModeMailbox,
		},
		Compositions: []driver.SwapchainComposition{
			driver.SwapchainCompositionSDR,
			driver.SwapchainCompositionSDRLinear,
		},
	}
}

// PresentedFrames returns the number of frames presented so far.
func (d *Device) PresentedFrames() uint64 { return d.presented.Load() }

// Submit enqueues one submission. Submissions begin executing in Submit
// call order; the returned fence signals after the submission's commands
// and OnComplete callback have run.
func (d *Device) Submit(sub driver.Submission) (driver.Fence, error) {
	f := newFence()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, driver.ErrDeviceLost
	}
	d.queue = append(d.queue, &submission{
		label:      sub.Label,
		commands:   sub.Commands,
		onComplete: sub.OnComplete,
		fence:      f,
	})
	d.pending++
	d.cond.Broadcast()
	return f, nil
}

// WaitIdle blocks until every enqueued submission has completed.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending > 0 {
		d.cond.Wait()
	}
	return nil
}

// Destroy drains pending submissions and stops the executor.
// Destroy is idempotent.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

// run is the executor goroutine: the device's GPU timeline.
func (d *Device) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		sub := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.execute(sub)
		if sub.onComplete != nil {
			sub.onComplete()
		}
		sub.fence.signal()

		d.mu.Lock()
		d.pending--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// CreateBuffer allocates a byte-slice backed buffer.
func (d *Device) CreateBuffer(desc driver.BufferDescriptor) (driver.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("soft: create buffer %q: zero size", desc.Label)
	}
	return &buffer{
		label:       desc.Label,
		data:        make([]byte, desc.Size),
		hostVisible: desc.HostVisible,
	}, nil
}

// CreateTexture allocates byte-slice backed texel storage for each mip level.
func (d *Device) CreateTexture(desc driver.TextureDescriptor) (driver.Texture, error) {
	if desc.Size.Width == 0 || desc.Size.Height == 0 {
		return nil, fmt.Errorf("soft: create texture %q: zero extent", desc.Label)
	}
	if !d.TextureFormatSupported(desc.Format, desc.Usage, max(desc.Samples, 1)) {
		return nil, fmt.Errorf("soft: create texture %q: unsupported format %v", desc.Label, desc.Format)
	}
	t := &texture{
		label:  desc.Label,
		format: desc.Format,
		size:   desc.Size,
	}
	levels := max(desc.MipLevels, 1)
	layers := max(desc.Size.DepthOrArrayLayers, 1)
	bpp := bytesPerTexel(desc.Format)
	w, h := desc.Size.Width, desc.Size.Height
	for l := uint32(0); l < levels; l++ {
		t.levels = append(t.levels, &mipLevel{
			width:  w,
			height: h,
			data:   make([]byte, uint64(w)*uint64(h)*uint64(layers)*uint64(bpp)),
		})
		if w > 1 {
			w /= 2
		}
		if h > 1 {
			h /= 2
		}
	}
	return t, nil
}

// CreateSampler retains the descriptor; sampling never runs in software.
func (d *Device) CreateSampler(desc driver.SamplerDescriptor) (driver.Sampler, error) {
	return &sampler{desc: desc}, nil
}

// CreateShader validates the payload against the declared format.
func (d *Device) CreateShader(desc driver.ShaderDescriptor) (driver.Shader, error) {
	switch desc.Format {
	case driver.ShaderFormatSPIRV:
		if len(desc.Code) == 0 || len(desc.Code)%4 != 0 {
			return nil, fmt.Errorf("soft: shader %q: malformed SPIR-V payload", desc.Label)
		}
	case driver.ShaderFormatWGSL:
		if desc.WGSL == "" {
			return nil, fmt.Errorf("soft: shader %q: empty WGSL source", desc.Label)
		}
	case driver.ShaderFormatHost:
		if desc.Kernel == nil {
			return nil, fmt.Errorf("soft: shader %q: nil host kernel", desc.Label)
		}
	default:
		return nil, driver.ErrShaderFormat
	}
	return &shader{desc: desc}, nil
}

// CreateGraphicsPipeline validates the stage pairing and retains the state.
func (d *Device) CreateGraphicsPipeline(desc driver.GraphicsPipelineDescriptor) (driver.Pipeline, error) {
	vs, ok := desc.Vertex.(*shader)
	if !ok || vs.desc.Stage != gputypes.ShaderStageVertex {
		return nil, fmt.Errorf("soft: graphics pipeline %q: vertex shader has wrong stage", desc.Label)
	}
	// The fragment stage is optional (depth-only pipelines).
	if desc.Fragment != nil {
		fs, ok := desc.Fragment.(*shader)
		if !ok || fs.desc.Stage != gputypes.ShaderStageFragment {
			return nil, fmt.Errorf("soft: graphics pipeline %q: fragment shader has wrong stage", desc.Label)
		}
	}
	return &graphicsPipeline{desc: desc}, nil
}

// CreateComputePipeline validates the shader stage and retains the kernel.
func (d *Device) CreateComputePipeline(desc driver.ComputePipelineDescriptor) (driver.Pipeline, error) {
	cs, ok := desc.Shader.(*shader)
	if !ok || cs.desc.Stage != gputypes.ShaderStageCompute {
		return nil, fmt.Errorf("soft: compute pipeline %q: shader has wrong stage", desc.Label)
	}
	return &computePipeline{desc: desc, kernel: cs.desc.Kernel}, nil
}

// TextureFormatSupported reports support for the formats the software
// device has texel storage rules for, at 1 or 4 samples.
func (d *Device) TextureFormatSupported(format gputypes.TextureFormat, usage uint32, samples uint32) bool {
	if samples != 1 && samples != 4 {
		return false
	}
	switch format {
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return true
	default:
		return false
	}
}

// bytesPerTexel returns the texel stride of the supported formats.
func bytesPerTexel(format gputypes.TextureFormat) uint32 {
	if format == gputypes.TextureFormatR8Unorm {
		return 1
	}
	return 4
}
