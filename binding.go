package compute

import (
	"fmt"

	"github.com/gogpu/compute/backend"
)

// Usage says how a kernel uses a bound buffer.
type Usage uint8

const (
	// UsageInput binds a structured buffer the kernel reads.
	UsageInput Usage = iota
	// UsageOutput binds a structured buffer the kernel may write. Binding
	// marks the buffer dirty.
	UsageOutput
	// UsageConstant binds a constant buffer to a uniform block.
	UsageConstant
)

// String returns the usage name.
func (u Usage) String() string {
	switch u {
	case UsageInput:
		return "Input"
	case UsageOutput:
		return "Output"
	case UsageConstant:
		return "Constant"
	default:
		return fmt.Sprintf("Usage(%d)", u)
	}
}

func (u Usage) access() backend.Access {
	switch u {
	case UsageOutput:
		return backend.AccessReadWrite
	case UsageConstant:
		return backend.AccessConstant
	default:
		return backend.AccessRead
	}
}

// fits reports whether a buffer bound with usage u may fill a slot of kind.
func (u Usage) fits(kind backend.ResourceKind) bool {
	switch kind {
	case backend.UniformBlock:
		return u == UsageConstant
	case backend.ReadOnlyBuffer:
		return u == UsageInput
	case backend.ReadWriteBuffer:
		return u == UsageInput || u == UsageOutput
	}
	return false
}

type binding struct {
	buf   *Buffer
	usage Usage
}

// SetKernel makes k the active kernel and clears every binding.
func (e *Engine) SetKernel(k *Kernel) error {
	if err := e.usable(); err != nil {
		return err
	}
	switch {
	case k == nil:
		return ErrNilKernel
	case k.engine != e:
		return fmt.Errorf("%w: %s belongs to another engine", ErrNilKernel, k.label)
	case k.destroyed:
		return fmt.Errorf("%w: %s was destroyed", ErrNilKernel, k.label)
	}
	e.kernel = k
	e.clearBindings()
	return nil
}

// ActiveKernel returns the kernel set by SetKernel, or nil.
func (e *Engine) ActiveKernel() *Kernel { return e.kernel }

func (e *Engine) clearBindings() {
	clear(e.bindings[:])
}

// SetBuffer binds b to slot of the active kernel.
//
// Constant buffers take UsageConstant; structured buffers take UsageInput
// or UsageOutput. Whether the slot accepts the binding is checked at
// Dispatch, against the kernel layout.
func (e *Engine) SetBuffer(b *Buffer, slot uint32, usage Usage) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.kernel == nil {
		return ErrNoKernel
	}
	if slot >= backend.MaxSlots {
		return fmt.Errorf("%w: slot %d, limit %d", ErrTooManyResources, slot, backend.MaxSlots)
	}
	if err := e.own(b); err != nil {
		return err
	}
	switch usage {
	case UsageConstant:
		if b.kind != BufferConstant {
			return fmt.Errorf("%w: %s buffer bound as %s", ErrBufferKindMismatch, b.kind, usage)
		}
	case UsageInput, UsageOutput:
		if b.kind != BufferStructured {
			return fmt.Errorf("%w: %s buffer bound as %s", ErrBufferKindMismatch, b.kind, usage)
		}
	default:
		return fmt.Errorf("%w: %s", ErrBufferKindMismatch, usage)
	}

	if _, err := e.view(b, usage); err != nil {
		return err
	}
	e.bindings[slot] = binding{buf: b, usage: usage}
	if usage == UsageOutput {
		b.dirty = true
	}
	return nil
}

// GroupCount returns how many groups of groupSize cover threads, rounding up.
func GroupCount(threads, groupSize uint32) uint32 {
	if groupSize == 0 {
		return 0
	}
	return uint32((uint64(threads) + uint64(groupSize) - 1) / uint64(groupSize))
}

// Dispatch runs the active kernel over threadsX*threadsY*threadsZ threads
// in groups of groupX*groupY*groupZ.
//
// Every slot the kernel declares must be bound with a usage its kind
// accepts. On deferred devices the dispatch joins the open batch and runs at
// Finish or at the first Read that needs its results.
func (e *Engine) Dispatch(threadsX, threadsY, threadsZ, groupX, groupY, groupZ uint32) error {
	if err := e.usable(); err != nil {
		return err
	}
	k := e.kernel
	if k == nil {
		return ErrNoKernel
	}
	group := [3]uint32{groupX, groupY, groupZ}
	if groupX == 0 || groupY == 0 || groupZ == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidGroupSize, group)
	}
	if k.layout.HasGroupSize && k.layout.GroupSize != group {
		return fmt.Errorf("%w: requested %v, kernel %s uses %v",
			ErrGroupSizeMismatch, group, k.entry, k.layout.GroupSize)
	}

	bound := make([]*Buffer, 0, len(k.layout.Resources))
	views := make([]backend.BoundView, 0, len(k.layout.Resources))
	for _, res := range k.layout.Resources {
		bd := e.bindings[res.Slot]
		if bd.buf == nil {
			return fmt.Errorf("%w: slot %d (%s) of %s", ErrUnboundResource, res.Slot, res.Kind, k.entry)
		}
		if !bd.usage.fits(res.Kind) {
			return fmt.Errorf("%w: slot %d is %s, bound as %s",
				ErrBufferKindMismatch, res.Slot, res.Kind, bd.usage)
		}
		v, err := e.view(bd.buf, bd.usage)
		if err != nil {
			return err
		}
		bound = append(bound, bd.buf)
		views = append(views, backend.BoundView{
			Slot:   res.Slot,
			Access: bd.usage.access(),
			Buffer: bd.buf.raw,
			View:   v,
		})
	}

	counts := [3]uint32{
		GroupCount(threadsX, groupX),
		GroupCount(threadsY, groupY),
		GroupCount(threadsZ, groupZ),
	}
	return e.record(k, bound, views, counts)
}
