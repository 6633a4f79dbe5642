package compute

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/internal/bytecode"
	"github.com/gogpu/compute/internal/cache"
	"github.com/gogpu/compute/internal/wgsl"
)

// KernelFlags are compile options passed through to the device.
type KernelFlags = backend.KernelFlags

// Compile flags.
const (
	FlagDisableOptimizations = backend.FlagDisableOptimizations
	FlagGenerateDebugInfo    = backend.FlagGenerateDebugInfo
	FlagEnableFastMath       = backend.FlagEnableFastMath
)

// DefaultEntryPoint is used when CreateKernel is given an empty entry point.
const DefaultEntryPoint = "main"

// KernelSource holds a kernel as WGSL text or as a SPIR-V binary.
// Exactly one field must be set.
type KernelSource struct {
	WGSL  string
	SPIRV []byte
}

// Kernel is a compiled compute kernel together with its resource layout.
type Kernel struct {
	engine    *Engine
	raw       backend.Kernel
	label     string
	entry     string
	layout    backend.Layout
	destroyed bool
}

// EntryPoint returns the name of the kernel's entry function.
func (k *Kernel) EntryPoint() string { return k.entry }

// Layout returns the kernel's declared resource slots.
func (k *Kernel) Layout() backend.Layout {
	l := k.layout
	l.Resources = slices.Clone(l.Resources)
	return l
}

// GroupSize returns the thread-group size fixed by the kernel, if any.
func (k *Kernel) GroupSize() ([3]uint32, bool) {
	return k.layout.GroupSize, k.layout.HasGroupSize
}

// CreateKernel builds a kernel from WGSL or SPIR-V.
//
// WGSL is compiled with naga and its layout is read from the compiler's IR;
// compiled output is cached by source, entry point and flags. For SPIR-V the
// layout comes from the device when it implements backend.Reflector, and
// from the bytecode parser otherwise.
func (e *Engine) CreateKernel(src KernelSource, entryPoint string, flags KernelFlags) (*Kernel, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}

	var (
		words  []uint32
		layout *backend.Layout
		err    error
	)
	switch {
	case src.WGSL != "" && len(src.SPIRV) > 0:
		return nil, fmt.Errorf("%w: both WGSL and SPIR-V given", ErrCompilationFailed)
	case src.WGSL != "":
		words, layout, err = e.compileWGSL(src.WGSL, entryPoint, flags)
	case len(src.SPIRV) > 0:
		words, layout, err = e.reflectSPIRV(src.SPIRV, entryPoint)
	default:
		return nil, fmt.Errorf("%w: empty kernel source", ErrCompilationFailed)
	}
	if err != nil {
		return nil, err
	}

	label := e.nextLabel("kernel")
	raw, err := e.dev.CompileKernel(&backend.KernelDesc{
		Label:      label,
		SPIRV:      words,
		EntryPoint: entryPoint,
		Flags:      flags,
		Layout:     layout,
	})
	if err != nil {
		// The device rejected this output, so recompile from scratch next time.
		if src.WGSL != "" && e.compiled != nil && e.compiled.Delete(wgslKey(src.WGSL, entryPoint, flags)) {
			e.log.Debug("compute: kernel cache entry evicted", "entry", entryPoint)
		}
		return nil, wrapAs(ErrCompilationFailed, err, "build %s", entryPoint)
	}

	k := &Kernel{
		engine: e,
		raw:    raw,
		label:  label,
		entry:  entryPoint,
		layout: *layout,
	}
	e.kernels[k] = struct{}{}
	e.log.Debug("compute: kernel created",
		"label", label,
		"entry", entryPoint,
		"resources", len(layout.Resources),
		"group", layout.GroupSize)
	return k, nil
}

func (e *Engine) compileWGSL(src, entryPoint string, flags KernelFlags) ([]uint32, *backend.Layout, error) {
	compile := func() (*wgsl.Output, error) {
		return wgsl.Compile(src, entryPoint, wgsl.Options{
			Debug:    flags&FlagGenerateDebugInfo != 0,
			MaxSlots: backend.MaxSlots,
		})
	}

	var (
		out *wgsl.Output
		err error
	)
	if e.compiled == nil {
		out, err = compile()
	} else {
		key := wgslKey(src, entryPoint, flags)
		var hit bool
		out, hit, err = e.compiled.GetOrCreate(key, compile)
		if hit {
			e.log.Debug("compute: kernel cache hit", "entry", entryPoint, "key", key.String())
		}
	}
	if err != nil {
		if errors.Is(err, wgsl.ErrCompile) || errors.Is(err, wgsl.ErrNoEntryPoint) {
			return nil, nil, wrapAs(ErrCompilationFailed, err, "compile %s", entryPoint)
		}
		return nil, nil, fmt.Errorf("compute: reflect %s: %w", entryPoint, err)
	}
	return out.SPIRV, out.Layout, nil
}

func wgslKey(src, entryPoint string, flags KernelFlags) cache.Key {
	return cache.KeyOf([]byte(src), []byte(entryPoint), []byte{byte(flags)})
}

func (e *Engine) reflectSPIRV(blob []byte, entryPoint string) ([]uint32, *backend.Layout, error) {
	words, err := bytecode.Words(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("compute: load %s: %w", entryPoint, err)
	}

	if r, ok := e.dev.(backend.Reflector); ok {
		if layout, ok := r.Reflect(blob, entryPoint); ok {
			for _, res := range layout.Resources {
				if res.Slot >= backend.MaxSlots {
					return nil, nil, fmt.Errorf("%w: slot %d, limit %d",
						ErrTooManyResources, res.Slot, backend.MaxSlots)
				}
			}
			return words, layout, nil
		}
	}

	layout, err := bytecode.ParseWords(words, backend.MaxSlots)
	if err != nil {
		return nil, nil, fmt.Errorf("compute: parse %s: %w", entryPoint, err)
	}
	return words, layout, nil
}

// DestroyKernel releases the kernel. Deactivates it if it is active and
// settles the open batch when the batch dispatches it. Nil and already
// destroyed kernels are ignored.
func (e *Engine) DestroyKernel(k *Kernel) {
	if k == nil || k.destroyed || k.engine != e {
		return
	}
	if e.batch.usesKernel(k) {
		if err := e.Finish(); err != nil {
			e.log.Warn("compute: batch discarded before kernel release", "label", k.label, "err", err)
		}
	}
	if e.kernel == k {
		e.kernel = nil
		e.clearBindings()
	}
	e.dev.DestroyKernel(k.raw)
	delete(e.kernels, k)
	k.raw = nil
	k.destroyed = true
}
