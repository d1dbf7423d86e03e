// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package wgpu implements the gpuq driver contract on wgpu/hal Vulkan
// devices.
//
// The device executes compute passes and buffer copies on real GPU
// hardware. Textures, graphics pipelines and presentation are not wired in
// this backend; capability queries report them unsupported, and the
// submission layer's query-then-request protocol routes such workloads to
// another driver.
//
// Shaders are consumed as SPIR-V. Compute shaders must lay out group 0
// as: the pass's read-write storage buffers in declaration order, followed
// by the pushed uniform slots in slot order.
package wgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// The Vulkan backend registers itself via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/gpuq/driver"
)

func init() {
	driver.Register(driver.NameWGPU, func(opts driver.Options) (driver.Device, error) {
		return Open(opts)
	})
}

// Device is a wgpu/hal driver device.
type Device struct {
	debug bool
	log   *slog.Logger

	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue

	// shared marks a hal device adopted from a host provider; the host
	// owns its lifetime, so Destroy leaves it alone.
	shared bool

	mu      sync.Mutex
	cond    *sync.Cond
	subs    []*submission
	pending int
	closed  bool
	done    chan struct{}
}

type submission struct {
	label      string
	commands   []driver.Command
	onComplete func()
	fence      *fence
}

// fence signals exactly once and never reverts.
type fence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newFence() *fence {
	return &fence{ch: make(chan struct{})}
}

func (f *fence) signal() {
	f.mu.Lock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
	f.mu.Unlock()
}

func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) Done() <-chan struct{} { return f.ch }
func (f *fence) Release()              {}

// halProvider is the device-sharing contract of gogpu hosts: a provider
// exposing its hal handles directly.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// sharedHal extracts hal handles from a host device provider, when it
// carries handles this backend can drive.
func sharedHal(provider any) (hal.Device, hal.Queue, bool) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, nil, false
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, nil, false
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, false
	}
	return dev, queue, true
}

// Open opens the first usable Vulkan adapter, preferring discrete and
// integrated GPUs over software implementations. When the host supplies a
// device provider with hal handles, the shared device is adopted instead
// of opening a new one.
func Open(opts driver.Options) (*Device, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if dev, queue, ok := sharedHal(opts.Provider); ok {
		d := &Device{
			debug:  opts.Debug,
			log:    log,
			dev:    dev,
			queue:  queue,
			shared: true,
			done:   make(chan struct{}),
		}
		d.cond = sync.NewCond(&d.mu)
		go d.run()
		log.Debug("wgpu driver adopted shared hal device")
		return d, nil
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not compiled in", driver.ErrNotAvailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", driver.ErrNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no adapters", driver.ErrNotAvailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open adapter: %v", driver.ErrNotAvailable, err)
	}

	d := &Device{
		debug:    opts.Debug,
		log:      log,
		instance: instance,
		dev:      open.Device,
		queue:    open.Queue,
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d, nil
}

// Name returns the driver identifier.
func (d *Device) Name() string { return driver.NameWGPU }

// Caps returns the device capability set: compute and copies only.
func (d *Device) Caps() driver.Caps {
	return driver.Caps{
		ShaderFormats:   driver.ShaderFormatSPIRV,
		SupportsPresent: false,
	}
}

// Submit enqueues one submission. Submissions begin executing in Submit
// call order on the executor goroutine, which drives the hal queue.
func (d *Device) Submit(sub driver.Submission) (driver.Fence, error) {
	f := newFence()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, driver.ErrDeviceLost
	}
	d.subs = append(d.subs, &submission{
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

// Destroy drains pending submissions, stops the executor and tears down
// the hal device. Destroy is idempotent.
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

	if !d.shared {
		d.dev.Destroy()
		d.instance.Destroy()
	}
}

// run is the executor goroutine: it serializes submissions onto the hal
// queue and waits each one out, realizing the FIFO timeline.
func (d *Device) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.subs) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.subs) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		sub := d.subs[0]
		d.subs = d.subs[1:]
		d.mu.Unlock()

		if err := d.execute(sub); err != nil {
			// The timeline has no error channel; a failed submission
			// still completes its fence so waiters cannot hang.
			d.log.Warn("submission failed", "label", sub.label, "err", err)
		}
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

// buffer wraps a hal buffer. Host-visible buffers carry a CPU shadow: Map
// exposes the shadow, the executor writes it to the device before a
// submission runs and reads copy destinations back after the wait.
type buffer struct {
	dev         *Device
	b           hal.Buffer
	size        uint64
	hostVisible bool
	shadow      []byte
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Map() []byte { return b.shadow }

func (b *buffer) Destroy() { b.dev.dev.DestroyBuffer(b.b) }

// CreateBuffer allocates a hal buffer usable as storage and copy
// source/destination. Host-visible buffers additionally get MapRead usage
// and a CPU shadow.
func (d *Device) CreateBuffer(desc driver.BufferDescriptor) (driver.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("wgpu: create buffer %q: zero size", desc.Label)
	}
	usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if desc.HostVisible {
		usage |= gputypes.BufferUsageMapRead
	}
	hb, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	b := &buffer{dev: d, b: hb, size: desc.Size, hostVisible: desc.HostVisible}
	if desc.HostVisible {
		b.shadow = make([]byte, desc.Size)
	}
	return b, nil
}

// CreateTexture is not wired in this backend.
func (d *Device) CreateTexture(desc driver.TextureDescriptor) (driver.Texture, error) {
	return nil, fmt.Errorf("wgpu: textures: %w", driver.ErrNotAvailable)
}

// CreateSampler is not wired in this backend.
func (d *Device) CreateSampler(desc driver.SamplerDescriptor) (driver.Sampler, error) {
	return nil, fmt.Errorf("wgpu: samplers: %w", driver.ErrNotAvailable)
}

// TextureFormatSupported reports false for every format; this backend has
// no texture path.
func (d *Device) TextureFormatSupported(format gputypes.TextureFormat, usage uint32, samples uint32) bool {
	return false
}

// shader is a compiled SPIR-V module.
type shader struct {
	dev    *Device
	module hal.ShaderModule
	entry  string
}

func (s *shader) Destroy() { s.dev.dev.DestroyShaderModule(s.module) }

// CreateShader compiles a SPIR-V module.
func (d *Device) CreateShader(desc driver.ShaderDescriptor) (driver.Shader, error) {
	if desc.Format != driver.ShaderFormatSPIRV {
		return nil, driver.ErrShaderFormat
	}
	if len(desc.Code) == 0 || len(desc.Code)%4 != 0 {
		return nil, fmt.Errorf("wgpu: shader %q: malformed SPIR-V payload", desc.Label)
	}
	words := make([]uint32, len(desc.Code)/4)
	for i := range words {
		words[i] = uint32(desc.Code[i*4]) |
			uint32(desc.Code[i*4+1])<<8 |
			uint32(desc.Code[i*4+2])<<16 |
			uint32(desc.Code[i*4+3])<<24
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: shader %q: %w", desc.Label, err)
	}
	return &shader{dev: d, module: module, entry: desc.EntryPoint}, nil
}

// CreateGraphicsPipeline is not wired in this backend.
func (d *Device) CreateGraphicsPipeline(desc driver.GraphicsPipelineDescriptor) (driver.Pipeline, error) {
	return nil, fmt.Errorf("wgpu: graphics pipelines: %w", driver.ErrNotAvailable)
}

// computePipeline compiles its hal pipeline lazily: the bind group layout
// depends on the storage buffer count and pushed uniform slots of the pass
// it runs in, which are unknown at creation.
type computePipeline struct {
	dev    *Device
	sh     *shader
	label  string
	mu     sync.Mutex
	cached map[pipelineKey]*compiledPipeline
}

// pipelineKey identifies one bind group shape.
type pipelineKey struct {
	storageBuffers int
	uniformMask    uint8
}

type compiledPipeline struct {
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (p *computePipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.cached {
		p.dev.dev.DestroyComputePipeline(c.pipeline)
		p.dev.dev.DestroyPipelineLayout(c.pipeLayout)
		p.dev.dev.DestroyBindGroupLayout(c.bindLayout)
	}
	p.cached = nil
}

// CreateComputePipeline retains the shader; hal pipeline variants compile
// on first dispatch.
func (d *Device) CreateComputePipeline(desc driver.ComputePipelineDescriptor) (driver.Pipeline, error) {
	sh, ok := desc.Shader.(*shader)
	if !ok {
		return nil, fmt.Errorf("wgpu: compute pipeline %q: foreign shader", desc.Label)
	}
	return &computePipeline{
		dev:    d,
		sh:     sh,
		label:  desc.Label,
		cached: make(map[pipelineKey]*compiledPipeline),
	}, nil
}

// compiled returns the pipeline variant for a bind group shape, compiling
// it on first use.
func (p *computePipeline) compiled(key pipelineKey) (*compiledPipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cached[key]; ok {
		return c, nil
	}

	var entries []gputypes.BindGroupLayoutEntry
	binding := uint32(0)
	for i := 0; i < key.storageBuffers; i++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
		binding++
	}
	for slot := 0; slot < 4; slot++ {
		if key.uniformMask&(1<<slot) == 0 {
			continue
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
		binding++
	}

	bindLayout, err := p.dev.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: pipeline %q: bind group layout: %w", p.label, err)
	}
	pipeLayout, err := p.dev.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label,
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		p.dev.dev.DestroyBindGroupLayout(bindLayout)
		return nil, fmt.Errorf("wgpu: pipeline %q: pipeline layout: %w", p.label, err)
	}
	entry := p.sh.entry
	if entry == "" {
		entry = "main"
	}
	pipeline, err := p.dev.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   p.label,
		Layout:  pipeLayout,
		Compute: hal.ComputeState{Module: p.sh.module, EntryPoint: entry},
	})
	if err != nil {
		p.dev.dev.DestroyPipelineLayout(pipeLayout)
		p.dev.dev.DestroyBindGroupLayout(bindLayout)
		return nil, fmt.Errorf("wgpu: pipeline %q: compute pipeline: %w", p.label, err)
	}

	c := &compiledPipeline{bindLayout: bindLayout, pipeLayout: pipeLayout, pipeline: pipeline}
	p.cached[key] = c
	return c, nil
}

// waitFence waits a hal fence out, retrying past the hal timeout until the
// device reports the fence reached.
func (d *Device) waitFence(f hal.Fence) error {
	for {
		ok, err := d.dev.Wait(f, 1, 5*time.Second)
		if err != nil {
			return fmt.Errorf("wait fence: %w", err)
		}
		if ok {
			return nil
		}
	}
}
