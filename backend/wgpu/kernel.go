package wgpu

import (
	"fmt"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// kernel bundles the HAL objects of one compute pipeline.
type kernel struct {
	label      string
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	layout     backend.Layout
}

// CompileKernel creates the shader module, bind group layout, pipeline
// layout and compute pipeline for desc. Compile flags have no HAL
// equivalent and only affect the SPIR-V the engine hands in.
func (d *Device) CompileKernel(desc *backend.KernelDesc) (backend.Kernel, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if desc == nil || len(desc.SPIRV) == 0 || desc.Layout == nil {
		return nil, fmt.Errorf("%w: incomplete kernel descriptor", backend.ErrCompilationFailed)
	}

	k := &kernel{label: d.label(desc.Label), layout: *desc.Layout}
	if err := d.createPipeline(k, desc); err != nil {
		d.destroyPipeline(k)
		return nil, fmt.Errorf("%w: %w", backend.ErrCompilationFailed, err)
	}
	d.logger().Debug("wgpu: kernel compiled",
		"label", k.label,
		"entry", desc.EntryPoint,
		"resources", len(k.layout.Resources))
	return k, nil
}

func (d *Device) createPipeline(k *kernel, desc *backend.KernelDesc) error {
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.label,
		Source: hal.ShaderSource{SPIRV: desc.SPIRV},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	k.module = module

	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(k.layout.Resources))
	for _, r := range k.layout.Resources {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    r.Slot,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(r.Kind)},
		})
	}
	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	k.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   k.label + "_pipeline",
		Layout:  k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline
	return nil
}

// DestroyKernel releases the kernel's HAL objects.
func (d *Device) DestroyKernel(kk backend.Kernel) {
	k, ok := kk.(*kernel)
	if !ok || k == nil {
		return
	}
	d.destroyPipeline(k)
}

func (d *Device) destroyPipeline(k *kernel) {
	if d.device == nil {
		return
	}
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipeLayout != nil {
		d.device.DestroyPipelineLayout(k.pipeLayout)
		k.pipeLayout = nil
	}
	if k.bindLayout != nil {
		d.device.DestroyBindGroupLayout(k.bindLayout)
		k.bindLayout = nil
	}
	if k.module != nil {
		d.device.DestroyShaderModule(k.module)
		k.module = nil
	}
}

func bindingType(kind backend.ResourceKind) gputypes.BufferBindingType {
	switch kind {
	case backend.UniformBlock:
		return gputypes.BufferBindingTypeUniform
	case backend.ReadOnlyBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}
