// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpuq

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/gpuq/cache"
	"github.com/gogpu/gpuq/driver"
)

// Kernel is a host compute function consumed by software devices in place
// of a compiled shader. See [driver.Kernel] for the execution contract.
type Kernel = driver.Kernel

// KernelInvocation carries the inputs of one dispatch to a host kernel.
type KernelInvocation = driver.KernelInvocation

// ShaderCreateInfo describes a shader module. Exactly one of WGSL, SPIRV
// or Kernel must be set; the format is inferred from it. WGSL source is
// translated to SPIR-V on devices that consume only SPIR-V, with the
// translation result memoized across calls.
type ShaderCreateInfo struct {
	// Stage is the single pipeline stage this shader runs at.
	Stage gputypes.ShaderStage

	// EntryPoint is the entry function name; "main" when empty.
	EntryPoint string

	// WGSL is WGSL source text.
	WGSL string

	// SPIRV is SPIR-V bytecode, little-endian 32-bit words.
	SPIRV []byte

	// Kernel is a host function for software devices.
	Kernel Kernel

	// Name is an optional debug label.
	Name string
}

// Shader is a compiled shader module.
type Shader struct {
	dev      *Device
	sh       driver.Shader
	stage    gputypes.ShaderStage
	released atomic.Bool
}

// Stage returns the pipeline stage the shader was created for.
func (s *Shader) Stage() gputypes.ShaderStage { return s.stage }

// Release frees the shader module. Pipelines created from it are
// unaffected; they hold their own compiled state.
func (s *Shader) Release() {
	if s == nil || s.released.Swap(true) {
		return
	}
	s.sh.Destroy()
}

// CreateShader creates a shader module in whichever format the device
// consumes.
func (d *Device) CreateShader(info ShaderCreateInfo) (*Shader, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	desc := driver.ShaderDescriptor{
		Label:      info.Name,
		EntryPoint: info.EntryPoint,
		Stage:      info.Stage,
	}
	if desc.EntryPoint == "" {
		desc.EntryPoint = "main"
	}

	formats := d.drv.Caps().ShaderFormats
	switch {
	case info.Kernel != nil:
		if formats&driver.ShaderFormatHost == 0 {
			return nil, d.fail(fmt.Errorf("create shader %q: host kernels: %w", info.Name, ErrUnsupported))
		}
		desc.Format = driver.ShaderFormatHost
		desc.Kernel = info.Kernel

	case len(info.SPIRV) > 0:
		if formats&driver.ShaderFormatSPIRV == 0 {
			return nil, d.fail(fmt.Errorf("create shader %q: SPIR-V: %w", info.Name, ErrUnsupported))
		}
		desc.Format = driver.ShaderFormatSPIRV
		desc.Code = info.SPIRV

	case info.WGSL != "":
		switch {
		case formats&driver.ShaderFormatWGSL != 0:
			desc.Format = driver.ShaderFormatWGSL
			desc.WGSL = info.WGSL
		case formats&driver.ShaderFormatSPIRV != 0:
			code, err := d.compileWGSL(info.WGSL)
			if err != nil {
				return nil, d.fail(fmt.Errorf("create shader %q: %w", info.Name, err))
			}
			desc.Format = driver.ShaderFormatSPIRV
			desc.Code = code
		default:
			return nil, d.fail(fmt.Errorf("create shader %q: WGSL: %w", info.Name, ErrUnsupported))
		}

	default:
		return nil, d.fail(fmt.Errorf("create shader %q: no shader code", info.Name))
	}

	sh, err := d.drv.CreateShader(desc)
	if err != nil {
		return nil, d.fail(fmt.Errorf("create shader %q: %w", info.Name, err))
	}
	return &Shader{dev: d, sh: sh, stage: info.Stage}, nil
}

// compileWGSL translates WGSL to SPIR-V, memoizing by source hash.
// Compilation failures are not cached; a broken shader stays cheap to
// retry after the source is fixed.
func (d *Device) compileWGSL(src string) ([]byte, error) {
	key := cache.StringHasher(src)
	if code, ok := d.shaderCache.Get(key); ok {
		return code, nil
	}
	code, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile wgsl: %w", err)
	}
	d.shaderCache.Set(key, code)
	return code, nil
}

// SamplerCreateInfo describes a texture sampler.
type SamplerCreateInfo struct {
	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	Compare      gputypes.CompareFunction
	Name         string
}

// Sampler configures texture sampling for texture/sampler pair bindings.
type Sampler struct {
	dev      *Device
	s        driver.Sampler
	released atomic.Bool
}

// Release frees the sampler. It must not be referenced by any pending
// command buffer.
func (s *Sampler) Release() {
	if s == nil || s.released.Swap(true) {
		return
	}
	s.s.Destroy()
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(info SamplerCreateInfo) (*Sampler, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	s, err := d.drv.CreateSampler(driver.SamplerDescriptor{
		Label:        info.Name,
		MinFilter:    info.MinFilter,
		MagFilter:    info.MagFilter,
		AddressModeU: info.AddressModeU,
		AddressModeV: info.AddressModeV,
		AddressModeW: info.AddressModeW,
		Compare:      info.Compare,
	})
	if err != nil {
		return nil, d.fail(fmt.Errorf("create sampler %q: %w", info.Name, err))
	}
	return &Sampler{dev: d, s: s}, nil
}

// GraphicsPipelineCreateInfo describes a graphics pipeline.
type GraphicsPipelineCreateInfo struct {
	// VertexShader and FragmentShader are the pipeline's stages. The
	// vertex shader is required.
	VertexShader   *Shader
	FragmentShader *Shader

	// Primitive configures topology, winding and culling.
	Primitive gputypes.PrimitiveState

	// Multisample configures the MSAA sample count.
	Multisample gputypes.MultisampleState

	// ColorTargets describes the color attachment formats and blending.
	// Must match the render pass targets the pipeline is used with.
	ColorTargets []gputypes.ColorTargetState

	// DepthStencilFormat is the depth/stencil attachment format, or
	// TextureFormatUndefined for none.
	DepthStencilFormat gputypes.TextureFormat

	// VertexBuffers describes the vertex fetch layout.
	VertexBuffers []gputypes.VertexBufferLayout

	// Name is an optional debug label.
	Name string
}

// GraphicsPipeline is a compiled graphics pipeline.
type GraphicsPipeline struct {
	dev      *Device
	p        driver.Pipeline
	released atomic.Bool
}

// Release frees the pipeline. It must not be referenced by any pending
// command buffer.
func (p *GraphicsPipeline) Release() {
	if p == nil || p.released.Swap(true) {
		return
	}
	p.p.Destroy()
}

// CreateGraphicsPipeline creates a graphics pipeline.
func (d *Device) CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (*GraphicsPipeline, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.VertexShader == nil || info.VertexShader.released.Load() {
		return nil, d.fail(fmt.Errorf("create graphics pipeline %q: vertex shader: %w", info.Name, ErrResourceReleased))
	}
	if info.FragmentShader != nil && info.FragmentShader.released.Load() {
		return nil, d.fail(fmt.Errorf("create graphics pipeline %q: fragment shader: %w", info.Name, ErrResourceReleased))
	}
	if len(info.ColorTargets) == 0 && info.DepthStencilFormat == gputypes.TextureFormatUndefined {
		return nil, d.fail(fmt.Errorf("create graphics pipeline %q: no targets", info.Name))
	}
	desc := driver.GraphicsPipelineDescriptor{
		Label:              info.Name,
		Vertex:             info.VertexShader.sh,
		Primitive:          info.Primitive,
		Multisample:        info.Multisample,
		ColorTargets:       info.ColorTargets,
		DepthStencilFormat: info.DepthStencilFormat,
		VertexBuffers:      info.VertexBuffers,
	}
	if info.FragmentShader != nil {
		desc.Fragment = info.FragmentShader.sh
	}
	p, err := d.drv.CreateGraphicsPipeline(desc)
	if err != nil {
		return nil, d.fail(fmt.Errorf("create graphics pipeline %q: %w", info.Name, err))
	}
	return &GraphicsPipeline{dev: d, p: p}, nil
}

// ComputePipelineCreateInfo describes a compute pipeline.
type ComputePipelineCreateInfo struct {
	// Shader is the compute shader; required, stage must be compute.
	Shader *Shader

	// ThreadCountX, ThreadCountY, ThreadCountZ are the workgroup
	// dimensions baked into the shader. Zero means 1.
	ThreadCountX, ThreadCountY, ThreadCountZ uint32

	// Name is an optional debug label.
	Name string
}

// ComputePipeline is a compiled compute pipeline.
type ComputePipeline struct {
	dev      *Device
	p        driver.Pipeline
	released atomic.Bool
}

// Release frees the pipeline. It must not be referenced by any pending
// command buffer.
func (p *ComputePipeline) Release() {
	if p == nil || p.released.Swap(true) {
		return
	}
	p.p.Destroy()
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(info ComputePipelineCreateInfo) (*ComputePipeline, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if info.Shader == nil || info.Shader.released.Load() {
		return nil, d.fail(fmt.Errorf("create compute pipeline %q: shader: %w", info.Name, ErrResourceReleased))
	}
	if info.Shader.stage != gputypes.ShaderStageCompute {
		return nil, d.fail(fmt.Errorf("create compute pipeline %q: shader stage is not compute: %w", info.Name, ErrUsage))
	}
	p, err := d.drv.CreateComputePipeline(driver.ComputePipelineDescriptor{
		Label:        info.Name,
		Shader:       info.Shader.sh,
		ThreadCountX: max(info.ThreadCountX, 1),
		ThreadCountY: max(info.ThreadCountY, 1),
		ThreadCountZ: max(info.ThreadCountZ, 1),
	})
	if err != nil {
		return nil, d.fail(fmt.Errorf("create compute pipeline %q: %w", info.Name, err))
	}
	return &ComputePipeline{dev: d, p: p}, nil
}
