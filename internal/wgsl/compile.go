// Package wgsl compiles WGSL compute kernels to SPIR-V with naga and reads
// their resource layout straight from the naga IR.
package wgsl

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/bytecode"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// ErrCompile is returned when WGSL fails to parse, lower, validate or
// generate.
var ErrCompile = errors.New("wgsl: compilation failed")

// ErrNoEntryPoint is returned when the source has no compute entry point
// with the requested name.
var ErrNoEntryPoint = errors.New("wgsl: compute entry point not found")

// Output is a compiled kernel.
type Output struct {
	SPIRV  []uint32
	Layout *backend.Layout
}

// Options control code generation.
type Options struct {
	// Debug keeps names and line information in the SPIR-V.
	Debug bool

	// MaxSlots bounds binding numbers; zero means backend.MaxSlots.
	MaxSlots int
}

// Compile compiles src and reflects the layout of entryPoint.
//
// Resources outside group 0 fail with bytecode.ErrUnsupportedResourceSet,
// bindings at or above MaxSlots with bytecode.ErrTooManyResources, and
// textures or samplers with bytecode.ErrUnsupportedResourceKind.
func Compile(src, entryPoint string, opts Options) (*Output, error) {
	if opts.MaxSlots == 0 {
		opts.MaxSlots = backend.MaxSlots
	}

	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	problems, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCompile, problems[0])
	}

	layout, err := Reflect(module, entryPoint, opts.MaxSlots)
	if err != nil {
		return nil, err
	}

	blob, err := naga.GenerateSPIRV(module, spirv.Options{
		Version: spirv.Version1_3,
		Debug:   opts.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	words, err := bytecode.Words(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return &Output{SPIRV: words, Layout: layout}, nil
}

// Reflect builds the layout of a lowered module's compute entry point from
// its bound globals. The group size is always present: WGSL requires
// @workgroup_size on compute entry points.
func Reflect(module *ir.Module, entryPoint string, maxSlots int) (*backend.Layout, error) {
	var ep *ir.EntryPoint
	for i := range module.EntryPoints {
		e := &module.EntryPoints[i]
		if e.Name == entryPoint && e.Stage == ir.StageCompute {
			ep = e
			break
		}
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoEntryPoint, entryPoint)
	}

	layout := &backend.Layout{GroupSize: ep.Workgroup, HasGroupSize: true}
	seen := make(map[uint32]string)
	for _, g := range module.GlobalVariables {
		if g.Binding == nil {
			continue
		}
		if g.Binding.Group != 0 {
			return nil, fmt.Errorf("%w: %s in group %d",
				bytecode.ErrUnsupportedResourceSet, g.Name, g.Binding.Group)
		}

		var kind backend.ResourceKind
		switch g.Space {
		case ir.SpaceUniform:
			kind = backend.UniformBlock
		case ir.SpaceStorage:
			kind = backend.ReadWriteBuffer
			if g.Access == ir.StorageRead {
				kind = backend.ReadOnlyBuffer
			}
		default:
			return nil, fmt.Errorf("%w: %s at binding %d",
				bytecode.ErrUnsupportedResourceKind, g.Name, g.Binding.Binding)
		}

		slot := g.Binding.Binding
		if uint64(slot) >= uint64(maxSlots) {
			return nil, fmt.Errorf("%w: %s at binding %d, limit %d",
				bytecode.ErrTooManyResources, g.Name, slot, maxSlots)
		}
		if prev, dup := seen[slot]; dup {
			return nil, fmt.Errorf("%w: %s and %s share binding %d", ErrCompile, prev, g.Name, slot)
		}
		seen[slot] = g.Name
		layout.Resources = append(layout.Resources, backend.ResourceBinding{Slot: slot, Kind: kind})
	}

	slices.SortFunc(layout.Resources, func(a, b backend.ResourceBinding) int {
		return cmp.Compare(a.Slot, b.Slot)
	})
	return layout, nil
}
